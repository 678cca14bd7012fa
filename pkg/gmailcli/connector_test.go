package gmailcli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

// roundTripFunc makes it easy to stub HTTP responses in tests.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func fakeConnector(t *testing.T, rt roundTripFunc) *Connector {
	t.Helper()
	conn, err := NewFake(&http.Client{Transport: rt})
	if err != nil {
		t.Fatalf("NewFake() error = %v", err)
	}
	return conn
}

func TestProfile(t *testing.T) {
	conn := fakeConnector(t, func(req *http.Request) (*http.Response, error) {
		if !strings.Contains(req.URL.Path, "/users/me/profile") {
			t.Fatalf("unexpected URL: %s", req.URL)
		}
		return jsonResponse(http.StatusOK, `{"emailAddress":"user@example.com","messagesTotal":42}`), nil
	})

	p, err := conn.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if p.EmailAddress != "user@example.com" {
		t.Errorf("EmailAddress = %q", p.EmailAddress)
	}
	if p.MessagesTotal != 42 {
		t.Errorf("MessagesTotal = %d, want 42", p.MessagesTotal)
	}
}

func TestListFetchesEachMessage(t *testing.T) {
	var gets []string
	conn := fakeConnector(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/users/me/messages"):
			if q := req.URL.Query().Get("q"); q != "is:unread" {
				t.Errorf("query = %q, want %q", q, "is:unread")
			}
			return jsonResponse(http.StatusOK, `{"messages":[{"id":"m1"},{"id":"m2"}]}`), nil
		case strings.Contains(req.URL.Path, "/users/me/messages/"):
			id := req.URL.Path[strings.LastIndex(req.URL.Path, "/")+1:]
			gets = append(gets, id)
			if format := req.URL.Query().Get("format"); format != "metadata" {
				t.Errorf("format = %q, want metadata", format)
			}
			return jsonResponse(http.StatusOK, `{"id":"`+id+`"}`), nil
		}
		t.Fatalf("unexpected URL: %s", req.URL)
		return nil, nil
	})

	msgs, err := conn.List(context.Background(), "is:unread", 10, LevelMetadata)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].Id != "m1" || msgs[1].Id != "m2" {
		t.Errorf("List() = %v", msgs)
	}
	if len(gets) != 2 {
		t.Errorf("individual fetches = %v, want one per listed ID", gets)
	}
}

// sentMessage decodes the raw payload submitted to messages.send.
func sentMessage(t *testing.T, req *http.Request) (decoded, threadID string) {
	t.Helper()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("reading send body: %v", err)
	}
	var payload struct {
		Raw      string `json:"raw"`
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("send body is not JSON: %v", err)
	}
	decoded, err = MIMEDecode(payload.Raw)
	if err != nil {
		t.Fatalf("raw payload is not base64url: %v", err)
	}
	return decoded, payload.ThreadID
}

func TestSendSubmitsEncodedEnvelope(t *testing.T) {
	conn := fakeConnector(t, func(req *http.Request) (*http.Response, error) {
		if !strings.HasSuffix(req.URL.Path, "/users/me/messages/send") {
			t.Fatalf("unexpected URL: %s", req.URL)
		}
		decoded, threadID := sentMessage(t, req)
		if !strings.Contains(decoded, "To: a@example.com") {
			t.Errorf("raw message missing To header:\n%s", decoded)
		}
		if !strings.Contains(decoded, "Subject: greetings") {
			t.Errorf("raw message missing Subject header:\n%s", decoded)
		}
		if threadID != "" {
			t.Errorf("threadId = %q, want empty for new message", threadID)
		}
		return jsonResponse(http.StatusOK, `{"id":"sent-1","threadId":"t-1"}`), nil
	})

	got, err := conn.Send(context.Background(), &Outgoing{
		To:      []string{"a@example.com"},
		Subject: "greetings",
		Body:    "hello",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Id != "sent-1" {
		t.Errorf("sent message ID = %q, want sent-1", got.Id)
	}
}

func TestReplyDerivesThreadingHeaders(t *testing.T) {
	const originalJSON = `{
		"id": "orig-1",
		"threadId": "thread-1",
		"payload": {
			"headers": [
				{"name": "From", "value": "Jane <jane@example.com>"},
				{"name": "Subject", "value": "question"},
				{"name": "Message-ID", "value": "<mid-1>"},
				{"name": "References", "value": "<mid-0>"}
			]
		}
	}`

	conn := fakeConnector(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/users/me/messages/orig-1"):
			return jsonResponse(http.StatusOK, originalJSON), nil
		case strings.HasSuffix(req.URL.Path, "/users/me/messages/send"):
			decoded, threadID := sentMessage(t, req)
			for _, want := range []string{
				"To: jane@example.com",
				"Subject: Re: question",
				"In-Reply-To: <mid-1>",
				"References: <mid-0> <mid-1>",
			} {
				if !strings.Contains(decoded, want) {
					t.Errorf("reply missing %q:\n%s", want, decoded)
				}
			}
			if threadID != "thread-1" {
				t.Errorf("threadId = %q, want thread-1", threadID)
			}
			return jsonResponse(http.StatusOK, `{"id":"reply-1","threadId":"thread-1"}`), nil
		}
		t.Fatalf("unexpected URL: %s", req.URL)
		return nil, nil
	})

	got, err := conn.Reply(context.Background(), "orig-1", "thanks!", "")
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if got.Id != "reply-1" {
		t.Errorf("reply ID = %q", got.Id)
	}
}

func TestForwardSynthesizesBody(t *testing.T) {
	originalJSON := `{
		"id": "orig-2",
		"threadId": "thread-2",
		"payload": {
			"mimeType": "text/plain",
			"headers": [{"name": "Subject", "value": "news"}],
			"body": {"data": "` + MIMEEncode([]byte("body text")) + `"}
		}
	}`

	conn := fakeConnector(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/users/me/messages/orig-2"):
			return jsonResponse(http.StatusOK, originalJSON), nil
		case strings.HasSuffix(req.URL.Path, "/users/me/messages/send"):
			decoded, _ := sentMessage(t, req)
			if !strings.Contains(decoded, "Subject: Fwd: news") {
				t.Errorf("forward missing Fwd subject:\n%s", decoded)
			}
			if !strings.Contains(decoded, ForwardBanner) {
				t.Errorf("forward missing banner:\n%s", decoded)
			}
			if !strings.Contains(decoded, "body text") {
				t.Errorf("forward missing original content:\n%s", decoded)
			}
			return jsonResponse(http.StatusOK, `{"id":"fwd-1"}`), nil
		}
		t.Fatalf("unexpected URL: %s", req.URL)
		return nil, nil
	})

	if _, err := conn.Forward(context.Background(), "orig-2", []string{"b@example.com"}, "FYI"); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
}

func TestTrashAndDelete(t *testing.T) {
	conn := fakeConnector(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/messages/m1/trash"):
			return jsonResponse(http.StatusOK, `{"id":"m1","labelIds":["TRASH"]}`), nil
		case strings.HasSuffix(req.URL.Path, "/messages/m1/untrash"):
			return jsonResponse(http.StatusOK, `{"id":"m1","labelIds":["INBOX"]}`), nil
		case req.Method == http.MethodDelete:
			return &http.Response{StatusCode: http.StatusNoContent, Header: make(http.Header), Body: http.NoBody}, nil
		}
		t.Fatalf("unexpected URL: %s %s", req.Method, req.URL)
		return nil, nil
	})

	ctx := context.Background()
	trashed, err := conn.Trash(ctx, "m1")
	if err != nil {
		t.Fatalf("Trash() error = %v", err)
	}
	if len(trashed.LabelIds) != 1 || trashed.LabelIds[0] != "TRASH" {
		t.Errorf("trashed labels = %v", trashed.LabelIds)
	}

	if _, err := conn.Untrash(ctx, "m1"); err != nil {
		t.Fatalf("Untrash() error = %v", err)
	}
	if err := conn.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestTransportErrorCarriesRemoteStatus(t *testing.T) {
	conn := fakeConnector(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"error":{"code":404,"message":"Requested entity was not found."}}`), nil
	})

	_, err := conn.Get(context.Background(), "missing", LevelFull)
	if !IsKind(err, KindTransport) {
		t.Fatalf("Get() error = %v, want transport error", err)
	}
	e := err.(*Error)
	if e.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", e.Status)
	}
	if !strings.Contains(e.Message, "not found") {
		t.Errorf("Message = %q, want remote message", e.Message)
	}
}

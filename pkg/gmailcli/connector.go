package gmailcli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Gmail calls always run as the authenticated user.
const me = "me"

// DataLevel is the level of detail to download for a message.
type DataLevel string

// Different levels of detail to download.
const (
	LevelMinimal  DataLevel = "minimal"  // ID, labels
	LevelMetadata DataLevel = "metadata" // ID, labels, headers
	LevelFull     DataLevel = "full"     // ID, labels, headers, payload
	LevelRaw      DataLevel = "raw"      // full RFC 5322 stream
)

// Connector exposes one operation per user intent over the Gmail API
// and maps remote failures into the local error taxonomy. It holds no
// credential state: the service handle it wraps was built from an
// explicit Credential.
type Connector struct {
	gmail *gmail.Service
}

// NewConnector wraps an existing Gmail service.
func NewConnector(svc *gmail.Service) *Connector {
	return &Connector{gmail: svc}
}

// NewService builds a Gmail API service from a credential. The oauth2
// client refreshes the access token transparently for the lifetime of
// the process; persisting refreshed tokens across runs stays with the
// Authorizer.
func NewService(ctx context.Context, cred *Credential) (*gmail.Service, error) {
	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cred.TokenEndpoint},
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx, cred.Token())))
	if err != nil {
		return nil, transportError(err, "creating Gmail service")
	}
	return svc, nil
}

// Connect obtains a credential and returns a ready connector.
func Connect(ctx context.Context, auth *Authorizer, store *TokenStore) (*Connector, error) {
	cred, err := auth.Obtain(ctx, store)
	if err != nil {
		return nil, err
	}
	svc, err := NewService(ctx, cred)
	if err != nil {
		return nil, err
	}
	return NewConnector(svc), nil
}

// NewFake creates a connector over a stubbed HTTP client, used for
// testing.
func NewFake(client *http.Client) (*Connector, error) {
	svc, err := gmail.NewService(context.Background(), option.WithHTTPClient(client))
	if err != nil {
		return nil, err
	}
	return NewConnector(svc), nil
}

func wrapLogRPC(fn string, cb func() error, af string, args ...interface{}) error {
	st := time.Now()
	err := cb()
	log.Debugf("RPC> %s(%s) => %v %v", fn, fmt.Sprintf(af, args...), err, time.Since(st))
	return err
}

// Profile returns the authenticated user's Gmail profile.
func (c *Connector) Profile(ctx context.Context) (*gmail.Profile, error) {
	var ret *gmail.Profile
	err := wrapLogRPC("gmail.Users.GetProfile", func() (err error) {
		ret, err = c.gmail.Users.GetProfile(me).Context(ctx).Do()
		return
	}, "email=%q", me)
	if err != nil {
		return nil, transportError(err, "getting profile")
	}
	return ret, nil
}

// List returns messages matching a Gmail search query, newest first.
// The listing yields IDs only, so each message is fetched individually
// at the requested fidelity; N+1 calls is the accepted cost.
func (c *Connector) List(ctx context.Context, query string, maxResults int64, level DataLevel) ([]*gmail.Message, error) {
	q := c.gmail.Users.Messages.List(me).MaxResults(maxResults).Context(ctx)
	if query != "" {
		q = q.Q(query)
	}
	var res *gmail.ListMessagesResponse
	err := wrapLogRPC("gmail.Users.Messages.List", func() (err error) {
		res, err = q.Do()
		return
	}, "email=%q query=%q max=%d", me, query, maxResults)
	if err != nil {
		return nil, transportError(err, "listing messages")
	}

	messages := make([]*gmail.Message, 0, len(res.Messages))
	for _, m := range res.Messages {
		msg, err := c.Get(ctx, m.Id, level)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Get fetches one message by ID at the given level of detail.
func (c *Connector) Get(ctx context.Context, id string, level DataLevel) (*gmail.Message, error) {
	var ret *gmail.Message
	err := wrapLogRPC("gmail.Users.Messages.Get", func() (err error) {
		ret, err = c.gmail.Users.Messages.Get(me, id).Format(string(level)).Context(ctx).Do()
		return
	}, "email=%q id=%q level=%q", me, id, level)
	if err != nil {
		return nil, transportError(err, "getting message")
	}
	return ret, nil
}

// Send encodes and submits an outbound message, returning the created
// message's ID and remote metadata.
func (c *Connector) Send(ctx context.Context, msg *Outgoing) (*gmail.Message, error) {
	raw, err := msg.Raw()
	if err != nil {
		return nil, err
	}
	var ret *gmail.Message
	err = wrapLogRPC("gmail.Users.Messages.Send", func() (err error) {
		ret, err = c.gmail.Users.Messages.Send(me, &gmail.Message{
			Raw:      raw,
			ThreadId: msg.ThreadID,
		}).Context(ctx).Do()
		return
	}, "email=%q to=%v subject=%q", me, msg.To, msg.Subject)
	if err != nil {
		return nil, transportError(err, "sending message")
	}
	return ret, nil
}

// Reply sends a reply to an existing message: the reply address,
// subject, and threading headers are derived from the original, and the
// reply joins the original's Gmail thread.
func (c *Connector) Reply(ctx context.Context, id, body, htmlBody string) (*gmail.Message, error) {
	original, err := c.Get(ctx, id, LevelFull)
	if err != nil {
		return nil, err
	}
	tc := ForReply(original)
	return c.Send(ctx, &Outgoing{
		To:         []string{tc.ReplyTo},
		Subject:    tc.Subject,
		Body:       body,
		HTMLBody:   htmlBody,
		InReplyTo:  tc.InReplyTo,
		References: tc.References,
		ThreadID:   original.ThreadId,
	})
}

// Forward sends an existing message's decoded content to new
// recipients, with an optional leading note. The original's binary
// attachments are not preserved.
func (c *Connector) Forward(ctx context.Context, id string, to []string, note string) (*gmail.Message, error) {
	original, err := c.Get(ctx, id, LevelFull)
	if err != nil {
		return nil, err
	}
	subject, body := ForForward(original, note)
	return c.Send(ctx, &Outgoing{
		To:       to,
		Subject:  subject,
		Body:     body,
		ThreadID: original.ThreadId,
	})
}

// Trash moves a message to the trash.
func (c *Connector) Trash(ctx context.Context, id string) (*gmail.Message, error) {
	var ret *gmail.Message
	err := wrapLogRPC("gmail.Users.Messages.Trash", func() (err error) {
		ret, err = c.gmail.Users.Messages.Trash(me, id).Context(ctx).Do()
		return
	}, "email=%q id=%q", me, id)
	if err != nil {
		return nil, transportError(err, "trashing message")
	}
	return ret, nil
}

// Untrash removes a message from the trash.
func (c *Connector) Untrash(ctx context.Context, id string) (*gmail.Message, error) {
	var ret *gmail.Message
	err := wrapLogRPC("gmail.Users.Messages.Untrash", func() (err error) {
		ret, err = c.gmail.Users.Messages.Untrash(me, id).Context(ctx).Do()
		return
	}, "email=%q id=%q", me, id)
	if err != nil {
		return nil, transportError(err, "untrashing message")
	}
	return ret, nil
}

// Delete permanently deletes a message. This operation cannot be
// undone and has no return payload.
func (c *Connector) Delete(ctx context.Context, id string) error {
	err := wrapLogRPC("gmail.Users.Messages.Delete", func() error {
		return c.gmail.Users.Messages.Delete(me, id).Context(ctx).Do()
	}, "email=%q id=%q", me, id)
	if err != nil {
		return transportError(err, "deleting message")
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wesnick/gmailcli/pkg/gmailcli"
	"google.golang.org/api/gmail/v1"
)

// profileOutput is JSON output format for the mailbox profile
type profileOutput struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
	HistoryID     uint64 `json:"historyId"`
}

func runProfile(ctx context.Context, conn *gmailcli.Connector, out *outputWriter) error {
	profile, err := conn.Profile(ctx)
	if err != nil {
		return err
	}

	if out.json {
		return out.writeJSON(profileOutput{
			EmailAddress:  profile.EmailAddress,
			MessagesTotal: profile.MessagesTotal,
			ThreadsTotal:  profile.ThreadsTotal,
			HistoryID:     profile.HistoryId,
		})
	}

	headers := []string{"EMAIL", "MESSAGES", "THREADS"}
	rows := [][]string{{
		profile.EmailAddress,
		fmt.Sprintf("%d", profile.MessagesTotal),
		fmt.Sprintf("%d", profile.ThreadsTotal),
	}}
	return out.writeTable(headers, rows)
}

// messageListOutput is JSON output format for message lists
type messageListOutput struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	Labels   []string `json:"labels"`
	Date     string   `json:"date"`
	From     string   `json:"from"`
	Subject  string   `json:"subject"`
	Snippet  string   `json:"snippet"`
	Body     string   `json:"body,omitempty"`
}

func runMessagesList(ctx context.Context, conn *gmailcli.Connector, query string, limit int, includeBody bool, out *outputWriter) error {
	level := gmailcli.LevelMetadata
	if includeBody {
		level = gmailcli.LevelFull
	}

	out.writeVerbose("Listing messages query=%q limit=%d", query, limit)
	messages, err := conn.List(ctx, query, int64(limit), level)
	if err != nil {
		return err
	}

	if len(messages) == 0 {
		out.writeMessage("No messages found")
		return nil
	}

	if out.json {
		output := make([]messageListOutput, len(messages))
		for i, msg := range messages {
			output[i] = messageListOutput{
				ID:       msg.Id,
				ThreadID: msg.ThreadId,
				Labels:   msg.LabelIds,
				Date:     gmailcli.Header(msg, "Date"),
				From:     gmailcli.Header(msg, "From"),
				Subject:  gmailcli.Header(msg, "Subject"),
				Snippet:  msg.Snippet,
			}
			if includeBody {
				output[i].Body = gmailcli.DecodeText(msg)
			}
		}
		return out.writeJSON(output)
	}

	headers := []string{"ID", "DATE", "FROM", "SUBJECT"}
	rows := make([][]string, len(messages))
	for i, msg := range messages {
		from := gmailcli.Header(msg, "From")
		if len(from) > 30 {
			from = truncateString(from, 30)
		}
		subject := gmailcli.Header(msg, "Subject")
		if len(subject) > 50 {
			subject = truncateString(subject, 50)
		}
		rows[i] = []string{msg.Id, gmailcli.Header(msg, "Date"), from, subject}
	}
	return out.writeTable(headers, rows)
}

// messageGetOutput is JSON output format for reading a message
type messageGetOutput struct {
	ID          string            `json:"id"`
	ThreadID    string            `json:"threadId"`
	LabelIDs    []string          `json:"labelIds"`
	Snippet     string            `json:"snippet"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	Attachments []attachmentMeta  `json:"attachments,omitempty"`
	Raw         string            `json:"raw,omitempty"`
}

// extractHTMLFromPart recursively searches for the HTML body in the
// message payload, preferring the HTML branch of alternative parts.
func extractHTMLFromPart(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}

	if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
		decoded, err := gmailcli.MIMEDecode(part.Body.Data)
		if err != nil {
			return ""
		}
		return decoded
	}

	if len(part.Parts) > 0 {
		if part.MimeType == "multipart/alternative" {
			for _, p := range part.Parts {
				if p.MimeType == "text/html" {
					if html := extractHTMLFromPart(p); html != "" {
						return html
					}
				}
			}
		}
		for _, p := range part.Parts {
			if html := extractHTMLFromPart(p); html != "" {
				return html
			}
		}
	}

	return ""
}

// extractAttachmentsFromPart recursively collects attachment metadata.
func extractAttachmentsFromPart(part *gmail.MessagePart, attachments *[]attachmentMeta) {
	if part == nil {
		return
	}

	if part.Filename != "" && part.Body != nil {
		*attachments = append(*attachments, attachmentMeta{
			Index:    len(*attachments),
			Filename: part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	}

	for _, p := range part.Parts {
		extractAttachmentsFromPart(p, attachments)
	}
}

// messageBody picks the display body for a full message. With
// preferPlain the decoded plain text wins; otherwise the HTML part is
// converted to markdown, falling back to plain text when there is none.
func messageBody(msg *gmail.Message, preferPlain bool) string {
	plain := gmailcli.DecodeText(msg)
	if preferPlain && plain != "" {
		return plain
	}

	var html string
	if msg.Payload != nil {
		html = extractHTMLFromPart(msg.Payload)
	}
	if html != "" && !preferPlain {
		if markdown, err := convertHTMLToMarkdown(html); err == nil && markdown != "" {
			return markdown
		}
		return stripHTMLTags(html)
	}
	return plain
}

func runMessagesGet(ctx context.Context, conn *gmailcli.Connector, messageID, format string, preferPlain bool, out *outputWriter) error {
	level := gmailcli.DataLevel(format)

	msg, err := conn.Get(ctx, messageID, level)
	if err != nil {
		return err
	}

	if level == gmailcli.LevelRaw {
		decoded, err := gmailcli.MIMEDecode(msg.Raw)
		if err != nil {
			return fmt.Errorf("failed to decode raw message: %w", err)
		}
		if out.json {
			return out.writeJSON(messageGetOutput{ID: msg.Id, ThreadID: msg.ThreadId, Raw: decoded})
		}
		fmt.Fprintln(out.writer, decoded)
		return nil
	}

	var body string
	var attachments []attachmentMeta
	if level == gmailcli.LevelFull {
		body = messageBody(msg, preferPlain)
		extractAttachmentsFromPart(msg.Payload, &attachments)
	}

	if out.json {
		output := messageGetOutput{
			ID:          msg.Id,
			ThreadID:    msg.ThreadId,
			LabelIDs:    msg.LabelIds,
			Snippet:     msg.Snippet,
			Body:        body,
			Attachments: attachments,
		}
		if msg.Payload != nil && len(msg.Payload.Headers) > 0 {
			output.Headers = make(map[string]string, len(msg.Payload.Headers))
			for _, h := range msg.Payload.Headers {
				output.Headers[h.Name] = h.Value
			}
		}
		return out.writeJSON(output)
	}

	if level == gmailcli.LevelMinimal {
		headers := []string{"ID", "THREAD", "LABELS"}
		rows := [][]string{{msg.Id, msg.ThreadId, strings.Join(msg.LabelIds, ", ")}}
		return out.writeTable(headers, rows)
	}

	fm := emailFrontmatter{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
		From:      gmailcli.Header(msg, "From"),
		To:        gmailcli.Header(msg, "To"),
		Cc:        gmailcli.Header(msg, "Cc"),
		Subject:   gmailcli.Header(msg, "Subject"),
		Date:      gmailcli.Header(msg, "Date"),
		Labels:    msg.LabelIds,
	}
	if body == "" {
		body = msg.Snippet
	}
	formatted, err := formatEmail(fm, body, attachments)
	if err != nil {
		return err
	}
	fmt.Fprint(out.writer, formatted)
	return nil
}

// readBodyFromStdin reads the message body from stdin when --body is
// not given.
func readBodyFromStdin(in io.Reader, out *outputWriter) (string, error) {
	out.writeVerbose("Reading message body from stdin...")
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read body from stdin: %w", err)
	}
	body := strings.TrimRight(string(data), "\n")
	if body == "" {
		return "", fmt.Errorf("empty message body")
	}
	return body, nil
}

// sentOutput is JSON output format for send-type operations
type sentOutput struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

func runMessagesSend(ctx context.Context, conn *gmailcli.Connector, to, cc, bcc []string, subject, body, htmlBody string, attach []string, threadID string, out *outputWriter) error {
	if body == "" && htmlBody == "" {
		var err error
		body, err = readBodyFromStdin(os.Stdin, out)
		if err != nil {
			return err
		}
	}

	msg := &gmailcli.Outgoing{
		To:       to,
		Cc:       cc,
		Bcc:      bcc,
		Subject:  subject,
		Body:     body,
		HTMLBody: htmlBody,
		ThreadID: threadID,
	}
	for _, path := range attach {
		att, err := gmailcli.ReadAttachment(path)
		if err != nil {
			return err
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	sent, err := conn.Send(ctx, msg)
	if err != nil {
		return err
	}

	if out.json {
		return out.writeJSON(sentOutput{ID: sent.Id, ThreadID: sent.ThreadId})
	}
	out.writeMessage(fmt.Sprintf("Message sent: %s", sent.Id))
	return nil
}

func runMessagesReply(ctx context.Context, conn *gmailcli.Connector, messageID, body, htmlBody string, out *outputWriter) error {
	if body == "" && htmlBody == "" {
		var err error
		body, err = readBodyFromStdin(os.Stdin, out)
		if err != nil {
			return err
		}
	}

	sent, err := conn.Reply(ctx, messageID, body, htmlBody)
	if err != nil {
		return err
	}

	if out.json {
		return out.writeJSON(sentOutput{ID: sent.Id, ThreadID: sent.ThreadId})
	}
	out.writeMessage(fmt.Sprintf("Reply sent: %s (thread %s)", sent.Id, sent.ThreadId))
	return nil
}

func runMessagesForward(ctx context.Context, conn *gmailcli.Connector, messageID string, to []string, note string, out *outputWriter) error {
	sent, err := conn.Forward(ctx, messageID, to, note)
	if err != nil {
		return err
	}

	if out.json {
		return out.writeJSON(sentOutput{ID: sent.Id, ThreadID: sent.ThreadId})
	}
	out.writeMessage(fmt.Sprintf("Message forwarded: %s", sent.Id))
	return nil
}

// resolveBatchIDs collects target IDs from the positional argument or
// stdin. Exactly one source must be used.
func resolveBatchIDs(messageID string, stdin bool) ([]string, error) {
	if stdin {
		if messageID != "" {
			return nil, fmt.Errorf("cannot use both message ID argument and --stdin")
		}
		return readIDsFromStdin(os.Stdin)
	}
	if messageID == "" {
		return nil, fmt.Errorf("message ID required (or use --stdin)")
	}
	return []string{messageID}, nil
}

// runMessagesBatch applies fn to each resolved ID and reports the
// outcome. Single-ID failures surface directly; batch failures are
// aggregated.
func runMessagesBatch(ctx context.Context, messageID string, stdin bool, verb string, fn func(context.Context, string) error, out *outputWriter) error {
	ids, err := resolveBatchIDs(messageID, stdin)
	if err != nil {
		return err
	}

	if len(ids) == 1 {
		if err := fn(ctx, ids[0]); err != nil {
			return err
		}
		if verb != "" {
			out.writeMessage(fmt.Sprintf("Message %s: %s", verb, ids[0]))
		}
		return nil
	}

	bp := newBatchProcessor(len(ids), out.verbose)
	bp.process(ctx, ids, fn)
	bp.report(os.Stdout)
	return bp.err()
}

func runMessagesTrash(ctx context.Context, conn *gmailcli.Connector, messageID string, stdin bool, out *outputWriter) error {
	return runMessagesBatch(ctx, messageID, stdin, "trashed", func(ctx context.Context, id string) error {
		_, err := conn.Trash(ctx, id)
		return err
	}, out)
}

func runMessagesUntrash(ctx context.Context, conn *gmailcli.Connector, messageID string, stdin bool, out *outputWriter) error {
	return runMessagesBatch(ctx, messageID, stdin, "untrashed", func(ctx context.Context, id string) error {
		_, err := conn.Untrash(ctx, id)
		return err
	}, out)
}

func runMessagesDelete(ctx context.Context, conn *gmailcli.Connector, messageID string, stdin, force bool, out *outputWriter) error {
	if !force {
		return fmt.Errorf("permanent deletion requires --force")
	}
	// Deletion prints nothing on success.
	return runMessagesBatch(ctx, messageID, stdin, "", conn.Delete, out)
}

package gmailcli

import (
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// ForwardBanner separates a forwarding note from the original content.
const ForwardBanner = "---------- Forwarded Message ----------"

// ThreadContext is the derived header set for a reply. Computed once
// per reply call, never persisted.
type ThreadContext struct {
	ReplyTo    string
	Subject    string
	InReplyTo  string
	References string
}

// Header returns the named header of a message, case-insensitively.
// Gmail flattens headers into a list; when a name repeats, the last
// value wins. A missing payload or header yields "".
func Header(m *gmail.Message, name string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	var val string
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			val = h.Value
		}
	}
	return val
}

// bareAddress extracts the address from a From-style header value. Text
// outside angle brackets is discarded; only the first <...>-delimited
// address is honored. A value with no brackets is returned trimmed.
func bareAddress(from string) string {
	if i := strings.Index(from, "<"); i >= 0 {
		rest := from[i+1:]
		if j := strings.Index(rest, ">"); j >= 0 {
			return rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(from)
}

// prefixSubject adds prefix unless the subject already starts with it.
// The check is a case-sensitive exact-prefix match, so "RE: x" still
// gets another "Re: " added.
func prefixSubject(prefix, subject string) string {
	if strings.HasPrefix(subject, prefix) {
		return subject
	}
	return prefix + " " + subject
}

// ForReply derives the reply envelope from an original message: bare
// From address, Re-prefixed subject, and In-Reply-To/References built
// from the original Message-ID. A message without a Message-ID yields
// empty threading headers; we never fabricate one.
func ForReply(original *gmail.Message) ThreadContext {
	tc := ThreadContext{
		ReplyTo: bareAddress(Header(original, "From")),
		Subject: prefixSubject("Re:", Header(original, "Subject")),
	}

	messageID := Header(original, "Message-ID")
	if messageID == "" {
		return tc
	}
	tc.InReplyTo = messageID
	if refs := Header(original, "References"); refs != "" {
		tc.References = refs + " " + messageID
	} else {
		tc.References = messageID
	}
	return tc
}

// ForForward derives the forward subject and synthesized body: an
// optional note, the separator banner, then the original's decoded
// plain text. Original attachments are not carried over.
func ForForward(original *gmail.Message, note string) (subject, body string) {
	subject = prefixSubject("Fwd:", Header(original, "Subject"))

	var sb strings.Builder
	if note != "" {
		sb.WriteString(note)
		sb.WriteString("\n\n")
	}
	sb.WriteString(ForwardBanner)
	sb.WriteString("\n\n")
	sb.WriteString(DecodeText(original))
	return subject, sb.String()
}

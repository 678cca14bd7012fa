package gmailcli

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	gmail "google.golang.org/api/gmail/v1"
)

// Attachment is one file to embed in an outbound message. Order is
// preserved; filenames need not be unique.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReadAttachment loads a file from disk, infers its content type from
// the extension, and strips directory components from the name.
func ReadAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, encodingError(err, path, "reading attachment")
	}
	name := filepath.Base(path)
	return Attachment{
		Filename:    name,
		ContentType: detectContentType(name),
		Data:        data,
	}, nil
}

// detectContentType guesses a content type from the filename extension.
// Unknown extensions, and extensions that really describe a transfer
// encoding (compressed files), fall back to a generic binary type.
func detectContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".gz", ".bz2", ".xz", ".z":
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Outgoing is an outbound message before encoding. Body is the plain
// text and is always present; HTMLBody, when set, is offered as an
// alternative with Body as the fallback.
type Outgoing struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	HTMLBody    string
	Attachments []Attachment

	// Threading headers, set by the threading engine for replies.
	InReplyTo  string
	References string

	// ThreadID is the Gmail thread to attach the message to, if any.
	ThreadID string
}

// mimeNode is a tagged-variant MIME tree: either a leaf with a typed
// payload or a multipart container ("alternative" or "mixed"). Building
// the tree bottom-up and serializing once keeps boundary handling out
// of the message assembly logic.
type mimeNode struct {
	multipartKind string // "" for leaves
	header        textproto.MIMEHeader
	content       []byte
	children      []*mimeNode
}

func textNode(mimeType, body string) *mimeNode {
	return &mimeNode{
		header: textproto.MIMEHeader{
			"Content-Type":        {fmt.Sprintf(`%s; charset="UTF-8"`, mimeType)},
			"Content-Disposition": {"inline"},
		},
		content: []byte(body),
	}
}

func attachmentNode(a Attachment) *mimeNode {
	name := filepath.Base(a.Filename)
	ct := a.ContentType
	if ct == "" {
		ct = detectContentType(name)
	}
	return &mimeNode{
		header: textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("%s; name=%q", ct, name)},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
		},
		content: []byte(wrapBase64(a.Data)),
	}
}

func containerNode(kind string, children ...*mimeNode) *mimeNode {
	return &mimeNode{multipartKind: kind, children: children}
}

// render serializes a node to its MIME header and body. Containers
// render their children into a fresh multipart body with its own
// boundary, so nesting alternative inside mixed just works.
func (n *mimeNode) render() (textproto.MIMEHeader, []byte, error) {
	if n.multipartKind == "" {
		return n.header, n.content, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, child := range n.children {
		h, body, err := child.render()
		if err != nil {
			return nil, nil, err
		}
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, nil, errors.Wrap(err, "creating MIME part")
		}
		if _, err := pw.Write(body); err != nil {
			return nil, nil, errors.Wrap(err, "assembling MIME part")
		}
	}
	if err := w.Close(); err != nil {
		return nil, nil, errors.Wrap(err, "closing multipart")
	}

	header := textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/%s; boundary=%q", n.multipartKind, w.Boundary())},
	}
	return header, buf.Bytes(), nil
}

// tree builds the MIME structure for the message. Plain only: a single
// text/plain leaf. Plain+HTML: multipart/alternative. Attachments wrap
// whatever body structure exists in a multipart/mixed; the alternative
// group is never flattened into the mixed one.
func (m *Outgoing) tree() *mimeNode {
	body := textNode("text/plain", m.Body)
	if m.HTMLBody != "" {
		body = containerNode("alternative", body, textNode("text/html", m.HTMLBody))
	}
	if len(m.Attachments) == 0 {
		return body
	}
	children := []*mimeNode{body}
	for _, a := range m.Attachments {
		children = append(children, attachmentNode(a))
	}
	return containerNode("mixed", children...)
}

// Encode produces the RFC 5322 byte stream for the message: envelope
// headers at the top level regardless of nesting depth, then the
// serialized MIME tree.
func (m *Outgoing) Encode() ([]byte, error) {
	header, body, err := m.tree().render()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeHeader := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
		}
	}
	writeHeader("To", strings.Join(m.To, ", "))
	writeHeader("Cc", strings.Join(m.Cc, ", "))
	writeHeader("Bcc", strings.Join(m.Bcc, ", "))
	writeHeader("Subject", m.Subject)
	writeHeader("In-Reply-To", m.InReplyTo)
	writeHeader("References", m.References)
	writeHeader("MIME-Version", "1.0")
	for _, name := range []string{"Content-Type", "Content-Transfer-Encoding", "Content-Disposition"} {
		for _, v := range header[textproto.CanonicalMIMEHeaderKey(name)] {
			writeHeader(name, v)
		}
	}
	buf.WriteString("\r\n")
	buf.Write(body)

	return buf.Bytes(), nil
}

// Raw returns the base64url transport envelope the Gmail API expects
// in the message "raw" field. The stream is encoded exactly once.
func (m *Outgoing) Raw() (string, error) {
	b, err := m.Encode()
	if err != nil {
		return "", err
	}
	return MIMEEncode(b), nil
}

// wrapBase64 standard-base64 encodes data with RFC 2045 line wrapping.
func wrapBase64(data []byte) string {
	s := base64.StdEncoding.EncodeToString(data)
	const width = 76
	var sb strings.Builder
	for len(s) > width {
		sb.WriteString(s[:width])
		sb.WriteString("\r\n")
		s = s[width:]
	}
	sb.WriteString(s)
	return sb.String()
}

// MIMEEncode base64url-encodes a message byte stream for transport.
func MIMEEncode(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

// MIMEDecode decodes a base64url payload as returned by the Gmail API,
// tolerating missing padding.
func MIMEDecode(s string) (string, error) {
	s = strings.TrimSpace(s)
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return "", errors.Wrap(err, "decoding base64url body")
	}
	return string(b), nil
}

// DecodeText extracts the plain text content of an inbound message. All
// text/plain parts anywhere in the body structure are decoded
// independently and joined by a single newline; a part-less payload
// decodes its top-level body. No text/plain content anywhere yields "".
func DecodeText(m *gmail.Message) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	if len(m.Payload.Parts) == 0 {
		// Part-less payload: decode the single top-level body if any.
		if m.Payload.Body == nil || m.Payload.Body.Data == "" {
			return ""
		}
		text, err := MIMEDecode(m.Payload.Body.Data)
		if err != nil {
			return ""
		}
		return text
	}
	var parts []string
	collectPlainText(m.Payload, &parts)
	return strings.Join(parts, "\n")
}

func collectPlainText(p *gmail.MessagePart, out *[]string) {
	if p == nil {
		return
	}
	if len(p.Parts) == 0 {
		if p.MimeType != "text/plain" || p.Body == nil || p.Body.Data == "" {
			return
		}
		if text, err := MIMEDecode(p.Body.Data); err == nil {
			*out = append(*out, text)
		}
		return
	}
	for _, child := range p.Parts {
		collectPlainText(child, out)
	}
}

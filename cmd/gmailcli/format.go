package main

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"gopkg.in/yaml.v3"
)

// emailFrontmatter is the YAML header block prepended to formatted
// message output.
type emailFrontmatter struct {
	MessageID string   `yaml:"message_id"`
	ThreadID  string   `yaml:"thread_id"`
	From      string   `yaml:"from"`
	To        string   `yaml:"to"`
	Cc        string   `yaml:"cc,omitempty"`
	Subject   string   `yaml:"subject"`
	Date      string   `yaml:"date"`
	Labels    []string `yaml:"labels,omitempty"`
}

// attachmentMeta describes one attachment in formatted output.
type attachmentMeta struct {
	Index    int    `yaml:"index" json:"index"`
	Filename string `yaml:"filename" json:"filename"`
	MimeType string `yaml:"mime_type" json:"mimeType"`
	Size     int64  `yaml:"size" json:"size"`
}

// formatSizeBytes converts bytes to human-readable format
func formatSizeBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// convertHTMLToMarkdown converts an HTML email body to markdown.
func convertHTMLToMarkdown(htmlBody string) (string, error) {
	markdown, err := md.ConvertString(htmlBody)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}

// formatEmail renders a message as YAML frontmatter followed by the
// body and an optional attachment listing.
func formatEmail(fm emailFrontmatter, body string, attachments []attachmentMeta) (string, error) {
	var output strings.Builder

	output.WriteString("---\n")
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal frontmatter: %w", err)
	}
	output.Write(fmBytes)
	output.WriteString("---\n\n")

	output.WriteString(body)
	output.WriteString("\n")

	if len(attachments) > 0 {
		output.WriteString("\n---\n")
		output.WriteString("attachments:\n")
		for _, att := range attachments {
			output.WriteString(fmt.Sprintf("  - index: %d\n", att.Index))
			output.WriteString(fmt.Sprintf("    filename: %s\n", att.Filename))
			output.WriteString(fmt.Sprintf("    mime_type: %s\n", att.MimeType))
			output.WriteString(fmt.Sprintf("    size: %s\n", formatSizeBytes(att.Size)))
		}
	}

	return output.String(), nil
}

// stripHTMLTags removes HTML tags for plain text fallback
func stripHTMLTags(html string) string {
	stripped := html
	for {
		start := strings.Index(stripped, "<")
		if start == -1 {
			break
		}
		end := strings.Index(stripped[start:], ">")
		if end == -1 {
			break
		}
		stripped = stripped[:start] + stripped[start+end+1:]
	}
	return strings.TrimSpace(stripped)
}

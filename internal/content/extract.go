package content

import (
	"encoding/base64"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"

	"inboxtriage/internal/model"
)

// Extract normalizes an envelope. Missing headers yield empty strings and a
// part that fails to decode yields an empty body for that part only.
func Extract(env *model.Envelope) model.ExtractedContent {
	var out model.ExtractedContent
	if env == nil {
		return out
	}

	var to, cc string
	for _, h := range env.Headers {
		switch h.Name {
		case "Subject":
			out.Subject = sanitize(h.Value)
		case "From":
			out.Sender = sanitize(h.Value)
		case "To":
			to = h.Value
		case "Cc":
			cc = h.Value
		case "List-Unsubscribe":
			out.ListUnsubscribe = h.Value
		}
	}
	out.Recipients = append(splitAddresses(to), splitAddresses(cc)...)

	if len(env.Parts) == 0 {
		out.Body = decodePart(env.Body, contentTypeOf(env.Headers))
		if strings.HasPrefix(strings.ToLower(env.MimeType), "text/html") {
			out.HTMLBody = out.Body
		}
	} else {
		walkParts(env.Parts, &out)
	}

	if out.HTMLBody != "" {
		out.CleanText = CleanHTML(out.HTMLBody)
	} else {
		out.CleanText = out.Body
	}
	return out
}

// walkParts does a depth-first walk; the first text/plain and the first
// text/html leaf win.
func walkParts(parts []model.Part, out *model.ExtractedContent) {
	for _, p := range parts {
		mimeType := strings.ToLower(p.MimeType)
		switch {
		case strings.HasPrefix(mimeType, "multipart/"):
			walkParts(p.Parts, out)
		case mimeType == "text/plain" && out.Body == "" && p.Data != "":
			out.Body = decodePart(p.Data, contentTypeOf(p.Headers))
		case mimeType == "text/html" && out.HTMLBody == "" && p.Data != "":
			out.HTMLBody = decodePart(p.Data, contentTypeOf(p.Headers))
		}
	}
}

func splitAddresses(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, sanitize(p))
		}
	}
	return out
}

func contentTypeOf(headers []model.Header) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Content-Type") {
			return h.Value
		}
	}
	return ""
}

// decodePart decodes base64url data and converts it to UTF-8 using the
// charset parameter of contentType when present.
func decodePart(data, contentType string) string {
	if data == "" {
		return ""
	}
	raw, err := decodeBase64URL(data)
	if err != nil {
		return ""
	}
	return sanitize(toUTF8(raw, contentType))
}

func decodeBase64URL(data string) ([]byte, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(data), "=")
	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(data)
}

func toUTF8(raw []byte, contentType string) string {
	if contentType == "" {
		return string(raw)
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(raw)
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return string(raw)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(raw)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// sanitize makes text storable: valid UTF-8 and no NUL bytes.
func sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return strings.ReplaceAll(s, "\x00", "")
}

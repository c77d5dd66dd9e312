package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/openfiesta/fiesta-gateway/internal/openrouter"
)

// Validation failures reported before any stream output.
var (
	ErrMissingCredential = errors.New("missing OpenRouter API key")
	ErrMissingModel      = errors.New("missing model id")
)

// StreamRequest is the inbound request body. Messages is kept raw because the
// payload is untrusted; sanitizeMessages tolerates any shape.
type StreamRequest struct {
	Messages     json.RawMessage `json:"messages"`
	Model        string          `json:"model"`
	APIKey       string          `json:"apiKey"`
	Referer      string          `json:"referer"`
	Title        string          `json:"title"`
	ImageDataURL string          `json:"imageDataUrl"`
}

// NormalizedRequest is the validated, upstream-ready form of a StreamRequest.
type NormalizedRequest struct {
	Model     string
	APIKey    string
	KeySource string
	Attr      openrouter.Attribution
	Upstream  openrouter.ChatRequest
}

// Normalize validates the inbound request and reshapes it into the upstream
// payload: credential resolution, role/content coercion, history windowing
// and attachment merging.
func (g *Gateway) Normalize(req StreamRequest) (NormalizedRequest, error) {
	apiKey := strings.TrimSpace(req.APIKey)
	keySource := KeySourceUser
	if apiKey == "" {
		apiKey = g.sharedKey
		if apiKey != "" {
			keySource = KeySourceShared
		} else {
			keySource = KeySourceNone
		}
	}
	if apiKey == "" {
		return NormalizedRequest{}, ErrMissingCredential
	}
	if strings.TrimSpace(req.Model) == "" {
		return NormalizedRequest{}, ErrMissingModel
	}

	msgs := sanitizeMessages(req.Messages)
	if len(msgs) > g.historyWindow {
		msgs = msgs[len(msgs)-g.historyWindow:]
	}
	msgs = g.mergeAttachment(msgs, req.ImageDataURL)

	return NormalizedRequest{
		Model:     req.Model,
		APIKey:    apiKey,
		KeySource: keySource,
		Attr:      openrouter.Attribution{Referer: req.Referer, Title: req.Title},
		Upstream: openrouter.ChatRequest{
			Model:    req.Model,
			Messages: msgs,
		},
	}, nil
}

type inboundMessage struct {
	Role    interface{} `json:"role"`
	Content interface{} `json:"content"`
}

// sanitizeMessages coerces arbitrary input into role/content pairs.
// Unrecognized roles default to "user"; non-string content is stringified.
// Non-array input yields an empty history.
func sanitizeMessages(raw json.RawMessage) []openrouter.Message {
	if len(raw) == 0 {
		return nil
	}
	var in []inboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil
	}
	out := make([]openrouter.Message, 0, len(in))
	for _, m := range in {
		role := "user"
		if s, ok := m.Role.(string); ok && isRecognizedRole(s) {
			role = s
		}
		out = append(out, openrouter.Message{Role: role, Content: stringifyContent(m.Content)})
	}
	return out
}

func isRecognizedRole(role string) bool {
	switch role {
	case "user", "assistant", "system":
		return true
	}
	return false
}

func stringifyContent(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		if b, err := json.Marshal(c); err == nil {
			return string(b)
		}
		return fmt.Sprint(c)
	}
}

var dataURLMimeRe = regexp.MustCompile(`data:(.*?);base64`)

// parseDataURL splits a data URL into its MIME type and base64 payload.
func parseDataURL(s string) (mime, payload string, ok bool) {
	meta, rest, found := strings.Cut(s, ",")
	if !found {
		return "", "", false
	}
	m := dataURLMimeRe.FindStringSubmatch(meta)
	if m == nil {
		return "", rest, true
	}
	return m[1], rest, true
}

// mergeAttachment folds the inline attachment into the most recent user-role
// message. Earlier turns are never modified.
func (g *Gateway) mergeAttachment(msgs []openrouter.Message, dataURL string) []openrouter.Message {
	if dataURL == "" || len(msgs) == 0 {
		return msgs
	}
	lastIdx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			lastIdx = i
			break
		}
	}
	if lastIdx == -1 {
		return msgs
	}
	target := msgs[lastIdx]
	text, _ := target.Content.(string)
	mime, payload, ok := parseDataURL(dataURL)
	if !ok {
		mime = ""
	}

	switch {
	case strings.HasPrefix(strings.ToLower(mime), "image/"):
		msgs[lastIdx] = openrouter.Message{
			Role: target.Role,
			Content: []openrouter.ContentPart{
				{Type: "text", Text: text},
				{Type: "image_url", ImageURL: &openrouter.ImageURL{URL: dataURL}},
			},
		}
	case strings.EqualFold(mime, "text/plain") && payload != "":
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Undecodable attachment: leave the message as-is.
			return msgs
		}
		clipped := clipRunes(string(decoded), g.attachmentClip)
		msgs[lastIdx] = openrouter.Message{
			Role:    target.Role,
			Content: text + "\n\n[Attached text file contents:]\n" + clipped,
		}
	default:
		if mime == "" {
			mime = "unknown"
		}
		note := fmt.Sprintf("%s\n\n[Attached file: %s provided as Data URL. If your model supports reading this type via data URLs, use it.]", text, mime)
		msgs[lastIdx] = openrouter.Message{Role: target.Role, Content: note}
	}
	return msgs
}

func clipRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

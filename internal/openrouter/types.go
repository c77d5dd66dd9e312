package openrouter

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Message follows the OpenAI-style role/content schema. Content is either a
// plain string or an ordered list of ContentPart values (multimodal turns).
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart is one element of a multi-part message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference; data URLs are accepted verbatim.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatRequest is the payload sent to the chat-completions endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

// APIError is the in-band error object providers embed in responses.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorCode tolerates both numeric and string-encoded codes on the wire.
type ErrorCode int

func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// Non-numeric codes (e.g. "invalid_request_error") carry no status.
		*c = 0
		return nil
	}
	*c = ErrorCode(n)
	return nil
}

// StreamChunk is one decoded frame of the streaming response.
type StreamChunk struct {
	Choices []ChunkChoice `json:"choices"`
	Error   *APIError     `json:"error"`
}

// ChunkChoice holds the incremental delta of a streamed choice.
type ChunkChoice struct {
	Delta ChunkDelta `json:"delta"`
}

// ChunkDelta defers content decoding: providers send either a plain string or
// an array of parts with varying field names.
type ChunkDelta struct {
	Content json.RawMessage `json:"content"`
}

// Text flattens the delta content into one string. Array parts may expose the
// text under "text", "content" or "value"; recognized parts are concatenated
// in order and unrecognized parts contribute nothing.
func (d ChunkDelta) Text() string {
	if len(d.Content) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(d.Content, &plain); err == nil {
		return plain
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(d.Content, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, raw := range parts {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			b.WriteString(s)
			continue
		}
		var obj struct {
			Text    string `json:"text"`
			Content string `json:"content"`
			Value   string `json:"value"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		switch {
		case obj.Text != "":
			b.WriteString(obj.Text)
		case obj.Content != "":
			b.WriteString(obj.Content)
		case obj.Value != "":
			b.WriteString(obj.Value)
		}
	}
	return b.String()
}

// CompletionResponse is the non-streaming response shape (image-output models).
type CompletionResponse struct {
	Choices []CompletionChoice `json:"choices"`
	Error   *APIError          `json:"error"`
}

// CompletionChoice contains the generated message of a non-streaming call.
type CompletionChoice struct {
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// Text returns the message content of the first choice as a flat string.
func (r CompletionResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return ChunkDelta{Content: r.Choices[0].Message.Content}.Text()
}

package gateway

import (
	"encoding/json"

	"github.com/openfiesta/fiesta-gateway/internal/openrouter"
)

// Key sources reported back to the client with every event.
const (
	KeySourceUser   = "user"
	KeySourceShared = "shared"
	KeySourceNone   = "none"
)

// Event is one normalized record of the client-facing stream. A single struct
// covers all record kinds; omitempty keeps each serialized record minimal.
type Event struct {
	Provider    string     `json:"provider,omitempty"`
	UsedKeyType string     `json:"usedKeyType,omitempty"`
	Delta       string     `json:"delta,omitempty"`
	Token       string     `json:"token,omitempty"`
	Error       string     `json:"error,omitempty"`
	Code        int        `json:"code,omitempty"`
	Meta        *ImageMeta `json:"meta,omitempty"`

	done bool
}

// ImageMeta is the trailing metadata record of the synthesized image-model
// stream.
type ImageMeta struct {
	Provider          string `json:"provider"`
	UsedKeyType       string `json:"usedKeyType"`
	IsImageGeneration bool   `json:"isImageGeneration"`
}

// MetaEvent is the initial metadata record; it precedes all delta records.
func MetaEvent(keySource string) Event {
	return Event{Provider: openrouter.ProviderName, UsedKeyType: keySource}
}

// DeltaEvent carries one incremental text chunk.
func DeltaEvent(text string) Event {
	return Event{Delta: text}
}

// TokenEvent carries the single complete text of a non-streaming completion.
func TokenEvent(text string) Event {
	return Event{Token: text}
}

// ErrorEvent is a normalized in-band error record.
func ErrorEvent(message string, code int, keySource string) Event {
	return Event{
		Error:       message,
		Code:        code,
		Provider:    openrouter.ProviderName,
		UsedKeyType: keySource,
	}
}

// ImageMetaEvent trails the synthesized image-model stream.
func ImageMetaEvent(keySource string) Event {
	return Event{Meta: &ImageMeta{
		Provider:          openrouter.ProviderName,
		UsedKeyType:       keySource,
		IsImageGeneration: true,
	}}
}

// DoneEvent is the terminal sentinel; it is always the last record emitted.
func DoneEvent() Event {
	return Event{done: true}
}

// IsDone reports whether this is the terminal sentinel.
func (e Event) IsDone() bool {
	return e.done
}

// Encode serializes the event as one SSE data record.
func (e Event) Encode() []byte {
	if e.done {
		return []byte("data: [DONE]\n\n")
	}
	b, _ := json.Marshal(e)
	out := make([]byte, 0, len(b)+8)
	out = append(out, "data: "...)
	out = append(out, b...)
	out = append(out, "\n\n"...)
	return out
}

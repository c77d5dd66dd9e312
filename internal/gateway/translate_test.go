package gateway

import (
	"context"
	"io"
	"strings"
	"testing"
)

type eventSink struct {
	events []Event
	failAt int // fail the nth emit (1-based), 0 disables
}

func (s *eventSink) emit(ev Event) error {
	s.events = append(s.events, ev)
	if s.failAt > 0 && len(s.events) >= s.failAt {
		return io.ErrClosedPipe
	}
	return nil
}

func (s *eventSink) deltas() string {
	var b strings.Builder
	for _, ev := range s.events {
		b.WriteString(ev.Delta)
	}
	return b.String()
}

func (s *eventSink) last() Event {
	return s.events[len(s.events)-1]
}

func sseBody(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func pumpInto(t *testing.T, g *Gateway, body io.ReadCloser, sink *eventSink) Result {
	t.Helper()
	res := Result{UsedModel: "test/model"}
	req := NormalizedRequest{Model: "test/model", KeySource: KeySourceUser}
	g.pump(context.Background(), req, body, sink.emit, &res)
	return res
}

func TestPumpDeltasAndDone(t *testing.T) {
	g := New(Config{SharedAPIKey: "k"})
	sink := &eventSink{}
	res := pumpInto(t, g, sseBody(
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
	), sink)

	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %q", res.Status)
	}
	if got := sink.deltas(); got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
	if !sink.last().IsDone() {
		t.Fatal("stream must end with the terminal sentinel")
	}
	if res.DeltaBytes != 5 {
		t.Fatalf("expected 5 delta bytes, got %d", res.DeltaBytes)
	}
}

func TestPumpStopsAtDone(t *testing.T) {
	g := New(Config{SharedAPIKey: "k"})
	sink := &eventSink{}
	pumpInto(t, g, sseBody(
		`data: {"choices":[{"delta":{"content":"before"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"after"}}]}`,
	), sink)

	if got := sink.deltas(); got != "before" {
		t.Fatalf("frames after the sentinel must be ignored, got %q", got)
	}
}

func TestPumpSkipsMalformedFrames(t *testing.T) {
	g := New(Config{SharedAPIKey: "k"})
	sink := &eventSink{}
	res := pumpInto(t, g, sseBody(
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		`data: {not json`,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
		`data: [DONE]`,
	), sink)

	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %q", res.Status)
	}
	if res.DroppedFrames != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", res.DroppedFrames)
	}
	if got := sink.deltas(); got != "ab" {
		t.Fatalf("expected ab, got %q", got)
	}
	for _, ev := range sink.events {
		if ev.Error != "" {
			t.Fatalf("malformed frame must not produce an error event: %+v", ev)
		}
	}
}

func TestPumpIgnoresNonDataLines(t *testing.T) {
	g := New(Config{SharedAPIKey: "k"})
	sink := &eventSink{}
	pumpInto(t, g, sseBody(
		`: keepalive comment`,
		`event: message`,
		`data: {"choices":[{"delta":{"content":"x"}}]}`,
		`data: [DONE]`,
	), sink)
	if got := sink.deltas(); got != "x" {
		t.Fatalf("expected x, got %q", got)
	}
}

func TestPumpInBandError(t *testing.T) {
	g := New(Config{SharedAPIKey: "k"})
	sink := &eventSink{}
	res := pumpInto(t, g, sseBody(
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
		`data: {"error":{"code":500,"message":"provider hiccup"}}`,
		`data: {"choices":[{"delta":{"content":" more"}}]}`,
		`data: [DONE]`,
	), sink)

	if res.Status != StatusOK {
		t.Fatalf("in-band error must not end the stream, status=%q", res.Status)
	}
	var errEv *Event
	for i := range sink.events {
		if sink.events[i].Error != "" {
			errEv = &sink.events[i]
		}
	}
	if errEv == nil {
		t.Fatal("expected an error event")
	}
	if errEv.Error != "provider hiccup" || errEv.Code != 500 {
		t.Fatalf("unexpected error event: %+v", errEv)
	}
	if errEv.UsedKeyType != KeySourceUser {
		t.Fatalf("error event must echo the key source, got %q", errEv.UsedKeyType)
	}
	if got := sink.deltas(); got != "partial more" {
		t.Fatalf("streaming must continue after an in-band error, got %q", got)
	}
}

func TestPumpInBandPaymentRequired(t *testing.T) {
	g := New(Config{SharedAPIKey: "k"})
	sink := &eventSink{}
	res := Result{UsedModel: "z-ai/glm-4.5-air"}
	req := NormalizedRequest{Model: "z-ai/glm-4.5-air", KeySource: KeySourceShared}
	g.pump(context.Background(), req, sseBody(
		`data: {"error":{"code":402,"message":"Insufficient credits"}}`,
		`data: [DONE]`,
	), sink.emit, &res)

	var errEv *Event
	for i := range sink.events {
		if sink.events[i].Error != "" {
			errEv = &sink.events[i]
		}
	}
	if errEv == nil {
		t.Fatal("expected an error event")
	}
	if !strings.Contains(errEv.Error, "GLM 4.5 Air") {
		t.Fatalf("402 should use the friendly template, got %q", errEv.Error)
	}
	if errEv.Code != 402 {
		t.Fatalf("expected code 402, got %d", errEv.Code)
	}
}

func TestPumpSanitizesChunks(t *testing.T) {
	g := New(Config{SharedAPIKey: "k"})
	sink := &eventSink{}
	res := Result{UsedModel: "tencent/hunyuan-a13b-instruct"}
	req := NormalizedRequest{Model: "tencent/hunyuan-a13b-instruct", KeySource: KeySourceUser}
	g.pump(context.Background(), req, sseBody(
		`data: {"choices":[{"delta":{"content":"<answer>hi <b>there</b></answer>"}}]}`,
		`data: [DONE]`,
	), sink.emit, &res)

	if got := sink.deltas(); got != "hi **there**" {
		t.Fatalf("expected sanitized chunk, got %q", got)
	}
}

func TestPumpClientGone(t *testing.T) {
	g := New(Config{SharedAPIKey: "k"})
	sink := &eventSink{failAt: 1}
	res := pumpInto(t, g, sseBody(
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
		`data: [DONE]`,
	), sink)

	if res.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %q", res.Status)
	}
	if len(sink.events) != 1 {
		t.Fatalf("no further events after a failed write, got %d", len(sink.events))
	}
}

func TestPumpEOFWithoutSentinel(t *testing.T) {
	g := New(Config{SharedAPIKey: "k"})
	sink := &eventSink{}
	res := pumpInto(t, g, sseBody(
		`data: {"choices":[{"delta":{"content":"tail"}}]}`,
	), sink)

	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %q", res.Status)
	}
	if !sink.last().IsDone() {
		t.Fatal("a clean EOF still ends with the sentinel")
	}
}

func TestEventEncode(t *testing.T) {
	ev := MetaEvent(KeySourceShared)
	got := string(ev.Encode())
	want := `data: {"provider":"openrouter","usedKeyType":"shared"}` + "\n\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if string(DoneEvent().Encode()) != "data: [DONE]\n\n" {
		t.Fatalf("unexpected sentinel encoding: %q", DoneEvent().Encode())
	}
	delta := string(DeltaEvent("hi").Encode())
	if delta != `data: {"delta":"hi"}`+"\n\n" {
		t.Fatalf("unexpected delta encoding: %q", delta)
	}
}

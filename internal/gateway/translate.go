package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openfiesta/fiesta-gateway/internal/openrouter"
)

// pump reads the upstream event stream line by line and re-emits normalized
// client events. The read-then-write loop only pulls the next upstream chunk
// after the previous event has been written and flushed downstream, so the
// client's write capacity provides the backpressure.
func (g *Gateway) pump(ctx context.Context, req NormalizedRequest, body io.ReadCloser, emit EmitFunc, res *Result) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			_ = emit(DoneEvent())
			res.Status = StatusOK
			return
		}

		var chunk openrouter.StreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// One bad frame never aborts the stream.
			res.DroppedFrames++
			g.debugf("dropping malformed frame model=%s: %v", req.Model, err)
			continue
		}

		if text := chunkText(chunk); text != "" {
			cleaned := g.policy.SanitizeChunk(req.Model, text)
			if err := emit(DeltaEvent(cleaned)); err != nil {
				res.Status = StatusCancelled
				return
			}
			res.DeltaBytes += int64(len(cleaned))
		}

		if chunk.Error != nil {
			// In-band provider error: report it, keep reading until the
			// provider's own terminal signal.
			if err := emit(g.inBandErrorEvent(req, chunk.Error)); err != nil {
				res.Status = StatusCancelled
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		g.finishWithReadError(ctx, req, err, emit, res)
		return
	}
	// Upstream closed without a sentinel; end the client stream normally.
	_ = emit(DoneEvent())
	res.Status = StatusOK
}

func chunkText(chunk openrouter.StreamChunk) string {
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Text()
}

// inBandErrorEvent translates an error object embedded in a 200 stream.
func (g *Gateway) inBandErrorEvent(req NormalizedRequest, apiErr *openrouter.APIError) Event {
	code := int(apiErr.Code)
	if code == http.StatusPaymentRequired {
		return ErrorEvent(g.policy.PaymentRequiredMessage(req.Model), code, req.KeySource)
	}
	msg := apiErr.Message
	if msg == "" {
		msg = "error"
	}
	return ErrorEvent(msg, code, req.KeySource)
}

// finishWithReadError classifies a failed read and closes out the stream.
// Timeouts get their own code so clients can distinguish them; a client
// disconnect emits nothing because there is nobody left to write to.
func (g *Gateway) finishWithReadError(ctx context.Context, req NormalizedRequest, readErr error, emit EmitFunc, res *Result) {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		res.Status = StatusTimeout
		if err := emit(ErrorEvent(g.timeoutMessage(), 408, req.KeySource)); err != nil {
			res.Status = StatusCancelled
			return
		}
	case context.Canceled:
		res.Status = StatusCancelled
		return
	default:
		res.Status = StatusReadError
		g.debugf("stream read failed model=%s: %v", req.Model, readErr)
		if err := emit(ErrorEvent("Stream error", 500, req.KeySource)); err != nil {
			res.Status = StatusCancelled
			return
		}
	}
	_ = emit(DoneEvent())
}

func (g *Gateway) timeoutMessage() string {
	return fmt.Sprintf("Request timed out after %dms", g.timeout.Milliseconds())
}

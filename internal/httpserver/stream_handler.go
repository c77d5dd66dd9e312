package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/openfiesta/fiesta-gateway/internal/gateway"
	"github.com/openfiesta/fiesta-gateway/internal/ledger"
)

// handleChatStream runs one streaming chat exchange. Response headers are
// written lazily on the first emitted event, so failures during validation
// and dispatch can still answer with a plain HTTP status.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var req gateway.StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.debugf("request %s: body decode failed: %v", requestID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	norm, err := s.gw.Normalize(req)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrMissingCredential):
			http.Error(w, "Missing OpenRouter API key", http.StatusBadRequest)
		case errors.Is(err, gateway.ErrMissingModel):
			http.Error(w, "Missing model id", http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	flusher, canFlush := w.(http.Flusher)
	headersSent := false
	emit := func(ev gateway.Event) error {
		if !headersSent {
			h := w.Header()
			h.Set("Content-Type", "text/event-stream; charset=utf-8")
			h.Set("Cache-Control", "no-cache, no-transform")
			h.Set("Connection", "keep-alive")
			h.Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}
		if _, err := w.Write(ev.Encode()); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	start := time.Now()
	s.infof("request %s: stream start model=%s key=%s", requestID, norm.Model, norm.KeySource)
	if s.metrics != nil {
		s.metrics.RecordRequestStart()
	}

	res := s.gw.Stream(r.Context(), norm, emit)
	duration := time.Since(start)

	if res.PreStreamErr != nil && !headersSent {
		s.logger.Printf("[error] request %s: upstream unreachable: %v", requestID, res.PreStreamErr)
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
	}

	s.record(requestID, norm, res, duration)
	s.infof("request %s: stream end status=%s model=%s bytes=%d dur=%s",
		requestID, res.Status, res.UsedModel, res.DeltaBytes, duration.Round(time.Millisecond))
}

// record updates the metrics collector and the usage ledger from one
// completed exchange.
func (s *Server) record(requestID string, norm gateway.NormalizedRequest, res gateway.Result, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordRequest(norm.Model, duration, res.DeltaBytes, res.DroppedFrames)
		if res.Status != gateway.StatusOK && res.Status != gateway.StatusCancelled {
			s.metrics.RecordError(norm.Model)
		}
		if res.FallbackAttempted {
			s.metrics.RecordFallback(res.FallbackUsed)
		}
		if res.Status == gateway.StatusTimeout {
			s.metrics.RecordTimeout()
		}
	}
	if s.ledger != nil {
		// Record against a fresh context: the request context is often
		// already cancelled by the time the exchange finishes.
		err := s.ledger.Record(context.Background(), ledger.Entry{
			RequestID:     requestID,
			Model:         norm.Model,
			UsedModel:     res.UsedModel,
			KeySource:     norm.KeySource,
			Status:        res.Status,
			FallbackUsed:  res.FallbackUsed,
			DeltaBytes:    res.DeltaBytes,
			DroppedFrames: int64(res.DroppedFrames),
			DurationMS:    duration.Milliseconds(),
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			s.logger.Printf("[error] request %s: ledger write failed: %v", requestID, err)
		}
	}
}

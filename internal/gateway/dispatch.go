package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

var modelNotFoundRe = regexp.MustCompile(`(?i)model not found`)

// dispatchError describes a dispatch that did not yield a usable stream.
// Exactly one of event/preStream is set: event is streamed to the client as a
// terminal error record, preStream means nothing was written yet and the
// caller answers with a plain HTTP error.
type dispatchError struct {
	event     *Event
	preStream error
}

// dispatch performs the upstream call with a bounded timeout and the single
// policy-driven fallback retry. On success the returned context carries the
// adopted attempt's deadline (so the translator can tell a timeout from a
// plain read failure) and the cancel func releases its timer once the stream
// is drained; timers of superseded attempts are released here so a stale
// abort can never fire against the adopted stream.
func (g *Gateway) dispatch(ctx context.Context, req NormalizedRequest, res *Result) (*http.Response, context.Context, context.CancelFunc, *dispatchError) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	resp, err := g.client.StreamCompletion(attemptCtx, req.APIKey, req.Attr, req.Upstream)
	if err != nil {
		cancel()
		return nil, nil, nil, &dispatchError{preStream: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		errText := readErrorBody(resp)
		if modelNotFoundRe.MatchString(errText) {
			if fb, ok := g.policy.FallbackFor(req.Model); ok {
				cancel() // first attempt is settled; drop its timer before retrying
				return g.retryWithFallback(ctx, req, fb, res)
			}
		}
		cancel()
		res.Status = StatusUpstreamError
		ev := g.upstreamErrorEvent(req, resp.StatusCode, errText)
		return nil, nil, nil, &dispatchError{event: &ev}
	}

	if resp.StatusCode != http.StatusOK {
		errText := readErrorBody(resp)
		cancel()
		res.Status = StatusUpstreamError
		ev := g.upstreamErrorEvent(req, resp.StatusCode, errText)
		return nil, nil, nil, &dispatchError{event: &ev}
	}

	return resp, attemptCtx, cancel, nil
}

// retryWithFallback issues exactly one retry against the configured fallback
// alias, with a fresh timeout window. There is no second fallback.
func (g *Gateway) retryWithFallback(ctx context.Context, req NormalizedRequest, fallbackModel string, res *Result) (*http.Response, context.Context, context.CancelFunc, *dispatchError) {
	res.FallbackAttempted = true
	g.debugf("model %s not found upstream, retrying with fallback %s", req.Model, fallbackModel)

	retryReq := req.Upstream
	retryReq.Model = fallbackModel

	retryCtx, retryCancel := context.WithTimeout(ctx, g.timeout)
	resp, err := g.client.StreamCompletion(retryCtx, req.APIKey, req.Attr, retryReq)
	if err != nil {
		retryCancel()
		res.Status = StatusFallbackFailed
		msg := "This model is currently unavailable on OpenRouter (404 model not found). A fallback attempt was unsuccessful."
		ev := ErrorEvent(msg, 404, req.KeySource)
		return nil, nil, nil, &dispatchError{event: &ev}
	}
	if resp.StatusCode != http.StatusOK {
		readErrorBody(resp)
		retryCancel()
		res.Status = StatusFallbackFailed
		msg := fmt.Sprintf("This model is currently unavailable on OpenRouter (404 model not found). Tried fallback to %s but it also failed.", fallbackModel)
		ev := ErrorEvent(msg, resp.StatusCode, req.KeySource)
		return nil, nil, nil, &dispatchError{event: &ev}
	}

	res.UsedModel = fallbackModel
	res.FallbackUsed = true
	return resp, retryCtx, retryCancel, nil
}

// upstreamErrorEvent maps a non-OK upstream response to one error record,
// with the friendlier payment-required template on 402.
func (g *Gateway) upstreamErrorEvent(req NormalizedRequest, status int, errText string) Event {
	if status == http.StatusPaymentRequired {
		msg := g.policy.PaymentRequiredMessage(req.Model)
		if errText != "" {
			msg = strings.TrimSpace(msg + " Details: " + errText)
		}
		return ErrorEvent(msg, status, req.KeySource)
	}
	if errText == "" {
		errText = "Upstream error"
	}
	if status == 0 {
		status = 500
	}
	return ErrorEvent(errText, status, req.KeySource)
}

// readErrorBody drains and closes a failed response's body, best-effort.
// Secondary read failures are swallowed; the status code alone still maps to
// a usable error record.
func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

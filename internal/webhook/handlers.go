package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/cxml"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/idempotency"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/notify"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/routing"
)

// headerIdempotencyKey carries an explicit platform retry token. Absent,
// the raw body stands in for deduplication.
const headerIdempotencyKey = "X-Idempotency-Key"

// readBody drains the request body up to the size bound.
func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodySize))
}

// handleVoice answers the initial call-control webhook. This path always
// returns HTTP 200 with a document: routing failures become a spoken
// announcement, never an HTTP error the platform would retry.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	s.serveCallControl(w, r, routing.DirectionInbound, false)
}

// handleIVR answers continuation callbacks: dial results driving the
// sequential ring-group loop and collected digits from service handoffs.
func (s *Server) handleIVR(w http.ResponseWriter, r *http.Request) {
	s.serveCallControl(w, r, routing.DirectionInbound, true)
}

// serveCallControl is the shared body of the call-control endpoints.
func (s *Server) serveCallControl(w http.ResponseWriter, r *http.Request, direction string, continuation bool) {
	ctx := r.Context()
	raw, err := readBody(r)
	if err != nil {
		s.logger.Error("reading webhook body", "error", err, "request_id", middleware.GetReqID(ctx))
		writeDocument(w, cxml.Reject(""))
		return
	}
	p := parseCallParams(r, raw)
	if p.Direction != "" {
		direction = p.Direction
	}

	if err := s.auth.CheckSourceIP(r.RemoteAddr); err != nil {
		s.rejectCall(w, r, p, "", "bearer", err)
		return
	}

	tenant, err := s.auth.TenantForCall(ctx, p.Domain, p.To)
	if err != nil {
		s.rejectCall(w, r, p, "", "bearer", err)
		return
	}

	if !s.voiceLimiter.Allow("tenant:" + tenant.ID) {
		s.metrics.RateLimited.WithLabelValues("voice").Inc()
		s.rejectCall(w, r, p, tenant.ID, "bearer",
			routing.Errf(routing.KindRateLimited, "voice webhook rate exceeded"))
		return
	}

	if err := s.auth.VerifyBearer(ctx, r, tenant.ID); err != nil {
		s.rejectCall(w, r, p, tenant.ID, "bearer", err)
		return
	}

	route := "voice"
	if continuation {
		route = "ivr"
	}
	idemKey := idempotency.Key(route, tenant.ID, r.Header.Get(headerIdempotencyKey), raw)
	if s.replayIfSeen(w, r, idemKey) {
		return
	}

	// Collapse duplicate in-flight deliveries for the same call leg.
	var release func()
	if p.CallID != "" {
		lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
		release, err = s.guard.Acquire(lockCtx, "call:"+p.CallID)
		cancel()
		if err != nil {
			s.rejectCall(w, r, p, tenant.ID, "bearer",
				routing.Errf(routing.KindLockTimeout, "duplicate delivery in flight"))
			return
		}
		defer release()
	}

	var doc *cxml.Response
	var outcome string
	if continuation && isFinalDialStatus(p.DialStatus) {
		// The dial completed; nothing more to route.
		doc = &cxml.Response{Hangup: &cxml.Hangup{}}
		outcome = "dial_complete"
	} else {
		doc, outcome = s.routeCall(ctx, r, tenant.ID, direction, p, continuation)
	}
	s.metrics.RoutingDecisions.WithLabelValues(outcome).Inc()

	body := writeDocument(w, doc)
	s.saveOutcome(ctx, idemKey, http.StatusOK, cxml.ContentType, body)
}

// routeCall resolves the request and renders the decision, mapping routing
// failures onto spoken announcements.
func (s *Server) routeCall(ctx context.Context, r *http.Request, tenantID, direction string, p callParams, continuation bool) (*cxml.Response, string) {
	decision, err := s.resolver.Resolve(ctx, routing.Request{
		TenantID:  tenantID,
		Dialed:    p.To,
		Direction: direction,
		CallID:    p.CallID,
		At:        s.nowFunc(),
	})
	if err != nil {
		kind := routing.KindOf(err)
		s.logger.Warn("routing failed",
			"request_id", middleware.GetReqID(ctx),
			"tenant_id", tenantID,
			"call_id", p.CallID,
			"kind", string(kind),
			"error", err,
		)
		return cxml.Reject(spokenMessageFor(kind)), "error_" + string(kind)
	}

	opts := cxml.Options{}
	if decision.Action == routing.ActionDialExtensions && decision.Sequential {
		pos := 0
		if continuation {
			pos = p.Position
		}
		turns := decision.Turns
		if turns < 1 {
			turns = 1
		}
		if pos >= len(decision.Extensions)*turns {
			// Every member has been tried for every configured turn.
			return cxml.Reject("No one is available to take your call. Please try again later."),
				"sequential_exhausted"
		}
		decision.Offset = pos % len(decision.Extensions)
		opts.ActionURL = s.continuationURL(p, pos+1)
	}

	doc, err := cxml.FromDecision(decision, opts)
	if err != nil {
		s.logger.Error("building call-control document",
			"request_id", middleware.GetReqID(ctx),
			"tenant_id", tenantID,
			"call_id", p.CallID,
			"error", err,
		)
		return cxml.Reject(""), "error_render"
	}

	s.logger.Info("call routed",
		"request_id", middleware.GetReqID(ctx),
		"tenant_id", tenantID,
		"call_id", p.CallID,
		"dialed", p.To,
		"action", string(decision.Action),
		"reason", decision.Reason,
	)
	return doc, string(decision.Action)
}

// continuationURL builds the /webhooks/ivr callback target carrying the
// call state, so the engine stays stateless across the sequential loop.
func (s *Server) continuationURL(p callParams, nextPos int) string {
	q := url.Values{}
	q.Set("call_id", p.CallID)
	q.Set("to", p.To)
	q.Set("from", p.From)
	if p.Domain != "" {
		q.Set("domain", p.Domain)
	}
	q.Set("pos", fmt.Sprint(nextPos))
	return "/webhooks/ivr?" + q.Encode()
}

// isFinalDialStatus reports whether a dial result means the call leg was
// handled and the sequential loop must stop.
func isFinalDialStatus(status string) bool {
	switch status {
	case "completed", "answered":
		return true
	}
	return false
}

// rejectCall logs an authentication or admission failure and answers with
// a spoken rejection. Credential values are never logged.
func (s *Server) rejectCall(w http.ResponseWriter, r *http.Request, p callParams, tenantID, scheme string, err error) {
	kind := routing.KindOf(err)
	if kind == routing.KindUnauthorized || kind == routing.KindStaleRequest {
		s.metrics.AuthFailures.WithLabelValues(scheme, string(kind)).Inc()
	}
	s.logger.Warn("call-control request rejected",
		"request_id", middleware.GetReqID(r.Context()),
		"tenant_id", tenantID,
		"call_id", p.CallID,
		"source_ip", r.RemoteAddr,
		"kind", string(kind),
		"error", err,
	)
	s.metrics.RoutingDecisions.WithLabelValues("rejected_" + string(kind)).Inc()
	writeDocument(w, cxml.Reject(spokenMessageFor(kind)))
}

// replayIfSeen answers from the idempotency store when the delivery was
// already processed. Store failures count as a miss: processing again is
// safer than failing the call.
func (s *Server) replayIfSeen(w http.ResponseWriter, r *http.Request, key string) bool {
	rec, err := s.idem.Lookup(r.Context(), key)
	if err != nil {
		s.logger.Warn("idempotency store degraded", "op", "lookup", "error", err)
		return false
	}
	if rec == nil {
		return false
	}

	s.metrics.IdempotentReplays.Inc()
	s.logger.Info("replaying recorded outcome",
		"request_id", middleware.GetReqID(r.Context()),
		"stored_at", rec.StoredAt,
	)
	if rec.Oversized {
		// The original body was too large to cache; acknowledge generically,
		// matching the route class the record came from. A call-control
		// replay must still hand the platform a document, never JSON.
		if strings.HasPrefix(rec.ContentType, "text/xml") {
			writeDocument(w, cxml.Reject(""))
		} else {
			writeJSON(w, http.StatusOK, jsonEnvelope{Status: "ok", Message: "already processed"})
		}
		return true
	}
	w.Header().Set("Content-Type", rec.ContentType)
	w.WriteHeader(rec.StatusCode)
	w.Write(rec.Body)
	return true
}

// saveOutcome records a processed delivery for replay.
func (s *Server) saveOutcome(ctx context.Context, key string, status int, contentType string, body []byte) {
	rec := idempotency.Record{
		StatusCode:  status,
		ContentType: contentType,
		Body:        body,
		StoredAt:    s.nowFunc(),
	}
	if err := s.idem.Save(ctx, key, rec); err != nil {
		s.logger.Warn("idempotency store degraded", "op", "save", "error", err)
	}
}

// handleStatus receives call status events, verified by signature, and
// forwards them to the configured consumer.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.serveSignedEvent(w, r, "status", true)
}

// handleSession receives session lifecycle events, verified by signature.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.serveSignedEvent(w, r, "session", false)
}

// serveSignedEvent is the shared body of the signature-authenticated
// asynchronous endpoints.
func (s *Server) serveSignedEvent(w http.ResponseWriter, r *http.Request, endpoint string, forward bool) {
	ctx := r.Context()
	raw, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonEnvelope{Status: "error", Message: "unreadable body"})
		return
	}

	if err := s.auth.CheckSourceIP(r.RemoteAddr); err != nil {
		s.rejectEvent(w, r, endpoint, "signature", err)
		return
	}
	if !s.statusLimiter.Allow("source:" + r.RemoteAddr) {
		s.metrics.RateLimited.WithLabelValues(endpoint).Inc()
		writeJSON(w, http.StatusTooManyRequests, jsonEnvelope{Status: "error", Message: "rate limited"})
		return
	}
	if err := s.auth.VerifySignature(r, raw); err != nil {
		s.rejectEvent(w, r, endpoint, "signature", err)
		return
	}

	var payload statusPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonEnvelope{Status: "error", Message: "malformed payload"})
		return
	}

	s.logger.Info("event received",
		"request_id", middleware.GetReqID(ctx),
		"endpoint", endpoint,
		"call_id", payload.CallID,
		"status", payload.Status,
	)

	if forward && s.forwarder.Enabled() {
		tenantID := ""
		if payload.Domain != "" {
			if t, err := s.auth.TenantForCDR(ctx, payload.Domain); err == nil {
				tenantID = t.ID
			}
		}
		ev := notify.Event{
			TenantID:  tenantID,
			CallID:    payload.CallID,
			Status:    payload.Status,
			Caller:    payload.Caller,
			Callee:    payload.Callee,
			Timestamp: s.nowFunc(),
		}
		if err := s.forwarder.Send(ctx, ev); err != nil {
			s.logger.Warn("status forward failed", "call_id", payload.CallID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, jsonEnvelope{Status: "ok"})
}

// rejectEvent logs and answers an asynchronous-path failure as JSON.
func (s *Server) rejectEvent(w http.ResponseWriter, r *http.Request, endpoint, scheme string, err error) {
	kind := routing.KindOf(err)
	if kind == routing.KindUnauthorized || kind == routing.KindStaleRequest {
		s.metrics.AuthFailures.WithLabelValues(scheme, string(kind)).Inc()
	}
	s.logger.Warn("event rejected",
		"request_id", middleware.GetReqID(r.Context()),
		"endpoint", endpoint,
		"source_ip", r.RemoteAddr,
		"kind", string(kind),
		"error", err,
	)
	writeJSON(w, httpStatusFor(kind), jsonEnvelope{Status: "error", Message: string(kind)})
}

// handleCDR receives call detail records. Tenancy comes from the owner
// domain in the payload; the record is archived verbatim and forwarded.
func (s *Server) handleCDR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonEnvelope{Status: "error", Message: "unreadable body"})
		return
	}

	if err := s.auth.CheckSourceIP(r.RemoteAddr); err != nil {
		s.rejectEvent(w, r, "cdr", "owner", err)
		return
	}
	if !s.statusLimiter.Allow("source:" + r.RemoteAddr) {
		s.metrics.RateLimited.WithLabelValues("cdr").Inc()
		writeJSON(w, http.StatusTooManyRequests, jsonEnvelope{Status: "error", Message: "rate limited"})
		return
	}

	var payload cdrPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonEnvelope{Status: "error", Message: "malformed payload"})
		return
	}

	tenant, err := s.auth.TenantForCDR(ctx, payload.Owner.Domain.UUID)
	if err != nil {
		s.rejectEvent(w, r, "cdr", "owner", err)
		return
	}

	idemKey := idempotency.Key("cdr", tenant.ID, r.Header.Get(headerIdempotencyKey), raw)
	if s.replayIfSeen(w, r, idemKey) {
		return
	}

	if s.cdrs != nil {
		ev := cdrEventFrom(tenant.ID, payload, raw, s.nowFunc())
		if err := s.cdrs.Insert(ctx, ev); err != nil {
			s.logger.Error("archiving cdr failed",
				"request_id", middleware.GetReqID(ctx),
				"tenant_id", tenant.ID,
				"call_id", payload.CallID,
				"error", err,
			)
			writeJSON(w, http.StatusServiceUnavailable, jsonEnvelope{Status: "error", Message: "archive unavailable"})
			return
		}
	}

	if s.forwarder.Enabled() {
		ev := notify.Event{
			TenantID:  tenant.ID,
			CallID:    payload.CallID,
			Status:    payload.Disposition,
			Caller:    payload.Caller,
			Callee:    payload.Callee,
			Timestamp: s.nowFunc(),
		}
		if err := s.forwarder.Send(ctx, ev); err != nil {
			s.logger.Warn("cdr forward failed", "call_id", payload.CallID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, jsonEnvelope{Status: "ok"})
	body, _ := json.Marshal(jsonEnvelope{Status: "ok"})
	s.saveOutcome(ctx, idemKey, http.StatusOK, "application/json; charset=utf-8", body)
}

// cdrEventFrom maps a payload onto the archive model.
func cdrEventFrom(tenantID string, p cdrPayload, raw []byte, received time.Time) *models.CDREvent {
	unixPtr := func(v *int64) *time.Time {
		if v == nil {
			return nil
		}
		t := time.Unix(*v, 0).UTC()
		return &t
	}
	return &models.CDREvent{
		TenantID:    tenantID,
		CallID:      p.CallID,
		Direction:   p.Direction,
		Caller:      p.Caller,
		Callee:      p.Callee,
		StartTime:   unixPtr(p.StartTime),
		AnswerTime:  unixPtr(p.AnswerTime),
		EndTime:     unixPtr(p.EndTime),
		Duration:    p.Duration,
		Disposition: p.Disposition,
		Raw:         string(raw),
		ReceivedAt:  received,
	}
}

package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v4"
)

// invalidateRequest is the body of the admin cache-invalidation hook.
// Key is the entity's lookup key: a number for DIDs, an extension string
// for extensions, a decimal id for the rest, empty for whole-tenant flushes.
type invalidateRequest struct {
	TenantID string `json:"tenant_id"`
	Entity   string `json:"entity"`
	Key      string `json:"key"`
}

// handleInvalidate lets the administrative layer drop cache entries after
// configuration writes, authenticated by a service JWT.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if len(s.adminSecret) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, jsonEnvelope{Status: "error", Message: "invalidation hook not configured"})
		return
	}

	if err := s.verifyAdminJWT(r); err != nil {
		s.metrics.AuthFailures.WithLabelValues("admin_jwt", "unauthorized").Inc()
		s.logger.Warn("invalidation rejected",
			"request_id", middleware.GetReqID(ctx),
			"source_ip", r.RemoteAddr,
			"error", err,
		)
		writeJSON(w, http.StatusUnauthorized, jsonEnvelope{Status: "error", Message: "unauthorized"})
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonEnvelope{Status: "error", Message: "malformed body"})
		return
	}
	if req.TenantID == "" {
		writeJSON(w, http.StatusBadRequest, jsonEnvelope{Status: "error", Message: "tenant_id is required"})
		return
	}

	var err error
	switch req.Entity {
	case "tenant", "":
		err = s.invalidator.InvalidateTenant(ctx, req.TenantID)
	case "did":
		err = s.invalidator.InvalidateDid(ctx, req.TenantID, req.Key)
	case "extension":
		err = s.invalidator.InvalidateExtension(ctx, req.TenantID, req.Key)
	case "schedule", "ring_group", "conference":
		var id int64
		id, err = strconv.ParseInt(req.Key, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, jsonEnvelope{Status: "error", Message: "key must be a decimal id"})
			return
		}
		switch req.Entity {
		case "schedule":
			err = s.invalidator.InvalidateSchedule(ctx, req.TenantID, id)
		case "ring_group":
			err = s.invalidator.InvalidateRingGroup(ctx, req.TenantID, id)
		case "conference":
			err = s.invalidator.InvalidateConference(ctx, req.TenantID, id)
		}
	default:
		writeJSON(w, http.StatusBadRequest, jsonEnvelope{Status: "error", Message: "unknown entity"})
		return
	}
	if err != nil {
		s.logger.Error("cache invalidation failed",
			"request_id", middleware.GetReqID(ctx),
			"tenant_id", req.TenantID,
			"entity", req.Entity,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, jsonEnvelope{Status: "error", Message: "invalidation failed"})
		return
	}

	s.logger.Info("cache invalidated",
		"request_id", middleware.GetReqID(ctx),
		"tenant_id", req.TenantID,
		"entity", req.Entity,
	)
	writeJSON(w, http.StatusOK, jsonEnvelope{Status: "ok"})
}

// cdrListItem is one archived event in the admin listing.
type cdrListItem struct {
	ID          int64      `json:"id"`
	CallID      string     `json:"call_id"`
	Direction   string     `json:"direction"`
	Caller      string     `json:"caller"`
	Callee      string     `json:"callee"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	AnswerTime  *time.Time `json:"answer_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Duration    *int       `json:"duration,omitempty"`
	Disposition string     `json:"disposition"`
	ReceivedAt  time.Time  `json:"received_at"`
}

type cdrListResponse struct {
	Status string        `json:"status"`
	Events []cdrListItem `json:"events"`
}

// handleListCDRs lets the administrative layer read back a tenant's newest
// archived events, authenticated like the invalidation hook.
func (s *Server) handleListCDRs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lister, ok := s.cdrs.(CDRLister)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, jsonEnvelope{Status: "error", Message: "cdr archive not configured"})
		return
	}
	if len(s.adminSecret) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, jsonEnvelope{Status: "error", Message: "admin hook not configured"})
		return
	}
	if err := s.verifyAdminJWT(r); err != nil {
		s.metrics.AuthFailures.WithLabelValues("admin_jwt", "unauthorized").Inc()
		writeJSON(w, http.StatusUnauthorized, jsonEnvelope{Status: "error", Message: "unauthorized"})
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, jsonEnvelope{Status: "error", Message: "tenant_id is required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := lister.ListRecent(ctx, tenantID, limit)
	if err != nil {
		s.logger.Error("listing cdr events failed",
			"request_id", middleware.GetReqID(ctx),
			"tenant_id", tenantID,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, jsonEnvelope{Status: "error", Message: "archive unavailable"})
		return
	}

	resp := cdrListResponse{Status: "ok", Events: make([]cdrListItem, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, cdrListItem{
			ID:          ev.ID,
			CallID:      ev.CallID,
			Direction:   ev.Direction,
			Caller:      ev.Caller,
			Callee:      ev.Callee,
			StartTime:   ev.StartTime,
			AnswerTime:  ev.AnswerTime,
			EndTime:     ev.EndTime,
			Duration:    ev.Duration,
			Disposition: ev.Disposition,
			ReceivedAt:  ev.ReceivedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// verifyAdminJWT validates the HS256 service token on the invalidation hook.
func (s *Server) verifyAdminJWT(r *http.Request) error {
	raw, ok := bearerToken(r)
	if !ok {
		return fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.adminSecret, nil
	})
	if err != nil {
		return fmt.Errorf("parsing admin token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid admin token")
	}
	return nil
}

// Package handler exposes the authority over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"ied-sentinel/internal/audit"
	auditdomain "ied-sentinel/internal/audit/domain"
	"ied-sentinel/internal/authority"
	"ied-sentinel/internal/authority/domain"
	"ied-sentinel/internal/security"
	telemetrydomain "ied-sentinel/internal/telemetry/domain"
	"ied-sentinel/internal/validation"
)

const maxBodyBytes = 1 << 20

// Replies of the text endpoints.
const (
	BookkeepingReply = "BookKeeping Completed Successfully!"
	UpdateIDsReply   = "IDs Updated Successfully!"
)

// Service is the part of authority.Service the handlers use.
type Service interface {
	ValidateID(ctx context.Context, actor, id string) (bool, error)
	RecordBookkeeping(ctx context.Context, e domain.Entry) (domain.Entry, error)
	UpdateIDs(ctx context.Context, actor string, ids []string) ([]string, error)
	State(ctx context.Context) (domain.State, error)
	History(ctx context.Context, deviceID string, limit int) ([]domain.Entry, error)
	AuditTrail(ctx context.Context, resource string, limit int) ([]*auditdomain.AuditLog, error)
}

// UpdateIDsRequest is the body of POST /updateIDs.
type UpdateIDsRequest struct {
	IDs []string `json:"ids"`
}

// EntryView is an entry in the collector's wire form plus the time the authority stored it.
type EntryView struct {
	telemetrydomain.CollectorRequest
	CreatedAt string `json:"createdAt"`
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	IDs     []string             `json:"ids"`
	Devices map[string]EntryView `json:"devices"`
}

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	ID      string      `json:"id"`
	Records []EntryView `json:"records"`
}

// AuditView is one audit log entry.
type AuditView struct {
	ID        string `json:"id"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Resource  string `json:"resource"`
	IP        string `json:"ip"`
	Metadata  string `json:"metadata,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// OperatorTokens validates a bearer token and returns the operator it was issued to.
type OperatorTokens interface {
	Validate(token string) (string, error)
}

// Handler serves the authority endpoints.
type Handler struct {
	svc Service
	log logrus.FieldLogger
	// tokens guards /updateIDs when set.
	tokens OperatorTokens
}

// New returns a Handler. log may be nil.
func New(svc Service, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{svc: svc, log: log}
}

// WithOperatorTokens makes /updateIDs require a bearer token; the token's operator becomes the audit actor.
func (h *Handler) WithOperatorTokens(tokens OperatorTokens) *Handler {
	h.tokens = tokens
	return h
}

// Router returns a router with every authority route registered.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.withClientIP, h.logRequests)
	r.HandleFunc("/idValidate", h.validateID).Methods(http.MethodPost)
	r.HandleFunc("/bookKeeping", h.bookkeeping).Methods(http.MethodPost)
	r.Handle("/updateIDs", h.requireOperator(http.HandlerFunc(h.updateIDs))).Methods(http.MethodPost)
	r.HandleFunc("/state", h.state).Methods(http.MethodGet)
	r.HandleFunc("/history", h.history).Methods(http.MethodGet).Queries("id", "{id}")
	r.HandleFunc("/history/{id}", h.history).Methods(http.MethodGet)
	r.HandleFunc("/audit", h.auditTrail).Methods(http.MethodGet)
	return r
}

func (h *Handler) validateID(w http.ResponseWriter, r *http.Request) {
	var req validation.Request
	if !h.decode(w, r, &req) {
		return
	}
	ok, err := h.svc.ValidateID(r.Context(), r.Header.Get(validation.DeviceIDHeader), req.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validation.Response{IsValid: ok})
}

func (h *Handler) bookkeeping(w http.ResponseWriter, r *http.Request) {
	var req telemetrydomain.CollectorRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := telemetrydomain.FromRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entry := domain.Entry{Record: rec, BookkeepingLatency: telemetrydomain.FromMillis(req.BookKeepingTime)}
	if _, err := h.svc.RecordBookkeeping(r.Context(), entry); err != nil {
		h.fail(w, err)
		return
	}
	writeText(w, http.StatusOK, BookkeepingReply)
}

func (h *Handler) updateIDs(w http.ResponseWriter, r *http.Request) {
	var req UpdateIDsRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := r.Context().Value(operatorKey{}).(string)
	if actor == "" {
		actor = r.Header.Get(validation.DeviceIDHeader)
	}
	if _, err := h.svc.UpdateIDs(r.Context(), actor, req.IDs); err != nil {
		h.fail(w, err)
		return
	}
	writeText(w, http.StatusOK, UpdateIDsReply)
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.State(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := StateResponse{IDs: st.IDs, Devices: make(map[string]EntryView, len(st.Devices))}
	for id, e := range st.Devices {
		resp.Devices[id] = toView(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit, err := queryInt(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.svc.History(r.Context(), id, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := HistoryResponse{ID: id, Records: make([]EntryView, 0, len(entries))}
	for _, e := range entries {
		resp.Records = append(resp.Records, toView(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logs, err := h.svc.AuditTrail(r.Context(), r.URL.Query().Get("resource"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]AuditView, 0, len(logs))
	for _, a := range logs {
		out = append(out, AuditView{
			ID:        a.ID,
			Actor:     a.Actor,
			Action:    a.Action,
			Resource:  a.Resource,
			IP:        a.IP,
			Metadata:  a.Metadata,
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps service errors to status codes. Unexpected errors are logged and reported as 500.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authority.ErrInvalidID), errors.Is(err, authority.ErrInvalidIDs):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, authority.ErrUnknownDevice):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		h.log.WithError(err).Error("authority: request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) withClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(audit.WithClientIP(r.Context(), ip)))
	})
}

type operatorKey struct{}

func (h *Handler) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.tokens == nil {
			next.ServeHTTP(w, r)
			return
		}
		operator, err := h.tokens.Validate(security.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "missing or invalid authorization", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, operator)))
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("authority: request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func toView(e domain.Entry) EntryView {
	return EntryView{
		CollectorRequest: telemetrydomain.ToRequest(e.Record, e.BookkeepingLatency),
		CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, msg)
}

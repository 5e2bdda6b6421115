// Package api exposes the ticket service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"ticketcore/internal/core"
	"ticketcore/internal/exports"
	"ticketcore/pkg/domain"
)

// Error codes returned in response bodies. Stable across releases; clients
// switch on these rather than on messages.
const (
	CodeValidationFailed    = "validation_failed"
	CodeBadRequest          = "bad_request"
	CodeNotFound            = "not_found"
	CodeIllegalTransition   = "illegal_transition"
	CodeTimeout             = "timeout"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeInternal            = "internal"
)

// Handler routes ticket API requests to the service layer.
type Handler struct {
	service *core.Service
	exports *exports.Worker
	metrics http.Handler
	logger  *slog.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithExports enables the export endpoints.
func WithExports(w *exports.Worker) Option {
	return func(h *Handler) { h.exports = w }
}

// WithMetricsHandler serves the given handler on GET /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler constructs the ticket API handler.
func NewHandler(service *core.Service, opts ...Option) *Handler {
	h := &Handler{service: service, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		path = "/"
	}

	switch {
	case path == "/tickets":
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
		}
	case strings.HasPrefix(path, "/tickets/"):
		id := strings.TrimPrefix(path, "/tickets/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusNotFound, CodeNotFound, "ticket not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, id)
		case http.MethodPatch:
			h.handleUpdate(w, r, id)
		case http.MethodDelete:
			h.handleDelete(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
		}
	case path == "/healthz":
		h.handleHealth(w, r)
	case path == "/metrics" && h.metrics != nil:
		h.metrics.ServeHTTP(w, r)
	case path == "/exports" && h.exports != nil:
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
			return
		}
		h.handleExportCreate(w, r)
	case strings.HasPrefix(path, "/exports/") && h.exports != nil:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
			return
		}
		h.handleExportGet(w, strings.TrimPrefix(path, "/exports/"))
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "resource not found")
	}
}

type createRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	Assignee    *string `json:"assignee"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid ticket payload")
		return
	}
	ticket := domain.Ticket{
		Title:       req.Title,
		Description: req.Description,
		Priority:    domain.TicketPriority(req.Priority),
		Assignee:    req.Assignee,
	}
	created, err := h.service.CreateTicket(r.Context(), ticket)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	ticket, err := h.service.GetTicket(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseListQuery(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	result, err := h.service.ListTickets(r.Context(), filter, page)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type updateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	Assignee    *string `json:"assignee"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid ticket payload")
		return
	}
	update := core.TicketUpdate{
		Title:       req.Title,
		Description: req.Description,
		Assignee:    req.Assignee,
	}
	if req.Status != nil {
		status := domain.TicketStatus(*req.Status)
		update.Status = &status
	}
	if req.Priority != nil {
		priority := domain.TicketPriority(*req.Priority)
		update.Priority = &priority
	}
	ticket, err := h.service.UpdateTicket(r.Context(), id, update)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.DeleteTicket(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Health(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, CodeInternal, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type exportRequest struct {
	Status   *string  `json:"status"`
	Assignee *string  `json:"assignee"`
	Priority *string  `json:"priority"`
	Formats  []string `json:"formats"`
}

func (h *Handler) handleExportCreate(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	// An empty body is a valid export request for the full ticket set.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid export payload")
		return
	}
	input := exports.Input{}
	if req.Status != nil {
		status := domain.TicketStatus(*req.Status)
		input.Filter.Status = &status
	}
	if req.Assignee != nil {
		input.Filter.Assignee = req.Assignee
	}
	if req.Priority != nil {
		priority := domain.TicketPriority(*req.Priority)
		input.Filter.Priority = &priority
	}
	for _, f := range req.Formats {
		input.Formats = append(input.Formats, exports.Format(strings.ToLower(strings.TrimSpace(f))))
	}
	record, err := h.exports.Enqueue(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (h *Handler) handleExportGet(w http.ResponseWriter, id string) {
	record, ok := h.exports.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func parseListQuery(r *http.Request) (domain.TicketFilter, domain.Page, error) {
	query := r.URL.Query()
	var filter domain.TicketFilter
	if v := query.Get("status"); v != "" {
		status := domain.TicketStatus(v)
		filter.Status = &status
	}
	if v := query.Get("assignee"); v != "" {
		assignee := v
		filter.Assignee = &assignee
	}
	if v := query.Get("priority"); v != "" {
		priority := domain.TicketPriority(v)
		filter.Priority = &priority
	}

	page := domain.Page{Cursor: query.Get("cursor")}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, page, domain.ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
		}
		page.Limit = limit
	}
	return filter, page, nil
}

// writeServiceError maps domain errors to HTTP responses. Store internals
// never leak into response bodies.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var validation domain.ValidationError
	var notFound domain.NotFoundError
	var conflict domain.ConflictError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, CodeValidationFailed, validation.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, CodeNotFound, notFound.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, CodeIllegalTransition, conflict.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

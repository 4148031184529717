package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/logging"
	"github.com/bookinglake/bookinglake/internal/pipeline"
)

// SuccessMessage is the message returned for an ingested booking.
const SuccessMessage = "Booking processed successfully"

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = 1

// BookingResponse is the body of a successful POST /v1/bookings.
type BookingResponse struct {
	Message   string `json:"message"`
	Partition string `json:"partition"`
	Rows      int64  `json:"rows"`
	RequestID string `json:"request_id"`
}

// EventFailure reports one rejected element of POST /v1/events.
type EventFailure struct {
	Index     int    `json:"index"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// EventsResponse is the body of POST /v1/events.
type EventsResponse struct {
	Processed int            `json:"processed"`
	Failed    []EventFailure `json:"failed,omitempty"`
	Skipped   int            `json:"skipped,omitempty"`
	RequestID string         `json:"request_id"`
}

// BookingHandler handles POST /v1/bookings.
type BookingHandler struct {
	processor    pipeline.Processor
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewBookingHandler creates a new booking handler.
func NewBookingHandler(processor pipeline.Processor, maxBodyBytes int64, logger *zap.Logger) *BookingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingHandler{processor: processor, maxBodyBytes: maxBodyBytes, logger: logger}
}

// ServeHTTP handles the booking HTTP request.
func (h *BookingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := logging.RequestID(r.Context())

	body, ok := readBody(w, r, h.maxBodyBytes)
	if !ok {
		return
	}

	res, err := h.processor.Process(r.Context(), body)
	if err != nil {
		writePipelineError(w, err, requestID, logging.For(r.Context(), h.logger))
		return
	}

	writeJSON(w, http.StatusOK, BookingResponse{
		Message:   SuccessMessage,
		Partition: res.Key,
		Rows:      res.Rows,
		RequestID: requestID,
	})
}

// EventsHandler handles POST /v1/events, a JSON array of queue events
// written one object per event.
type EventsHandler struct {
	processor    pipeline.Processor
	policy       pipeline.BatchPolicy
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(processor pipeline.Processor, policy pipeline.BatchPolicy, maxBodyBytes int64, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{processor: processor, policy: policy, maxBodyBytes: maxBodyBytes, logger: logger}
}

// ServeHTTP handles the events HTTP request. The response is 200 when every
// event was written and 207 when some were not; failures are listed by index.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := logging.RequestID(r.Context())

	body, ok := readBody(w, r, h.maxBodyBytes)
	if !ok {
		return
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON array of events")
		return
	}
	if len(elems) == 0 {
		writeError(w, http.StatusBadRequest, "request body must contain at least one event")
		return
	}

	items := make([]pipeline.Item, len(elems))
	for i, e := range elems {
		items[i] = pipeline.Item{ID: strconv.Itoa(i), Body: e}
	}

	report := pipeline.ProcessBatch(r.Context(), h.processor, items, h.policy)

	resp := EventsResponse{
		Processed: report.Succeeded,
		Skipped:   report.Skipped,
		RequestID: requestID,
	}
	for _, it := range report.Failures() {
		if it.Skipped {
			continue
		}
		msg := apperrors.ClientMessage(it.Err)
		if !apperrors.IsClientError(it.Err) {
			msg = "internal error"
		}
		resp.Failed = append(resp.Failed, EventFailure{Index: it.Index, Error: msg, Retryable: it.Retryable()})
	}

	status := http.StatusOK
	if report.Failed > 0 || report.Skipped > 0 {
		status = http.StatusMultiStatus
		logging.For(r.Context(), h.logger).Warn("events partially written",
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped))
	}
	writeJSON(w, status, resp)
}

// HealthHandler handles GET /health.
func HealthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": service})
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// writePipelineError maps the error taxonomy onto HTTP statuses: client
// errors are 400 with their message, retryable infrastructure errors are
// 503 with Retry-After, everything else is 500.
func writePipelineError(w http.ResponseWriter, err error, requestID string, logger *zap.Logger) {
	switch {
	case apperrors.IsClientError(err):
		writeError(w, http.StatusBadRequest, apperrors.ClientMessage(err))
	case apperrors.IsRetryable(err):
		logger.Warn("retryable pipeline failure", zap.Error(err))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable", requestID)
	default:
		logger.Error("pipeline failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", requestID)
	}
}

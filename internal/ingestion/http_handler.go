package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/rpattn/persway/internal/domain"
	"github.com/rpattn/persway/internal/logger"
	"github.com/rpattn/persway/internal/metafield"
	"github.com/rpattn/persway/internal/repository"
)

// MaxBodyBytes caps request bodies accepted by the ingestion routes.
const MaxBodyBytes = 1 << 20

// Handler exposes ingestion over HTTP.
type Handler struct {
	service *Service
	log     *logger.Logger
}

// NewHTTPHandler wraps the service.
func NewHTTPHandler(service *Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{service: service, log: log}
}

// Register mounts the ingestion routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/persway/events", h.handlePixelEvents)
	mux.HandleFunc("GET /api/persway/events", h.describe("Persway Events API"))
	mux.HandleFunc("POST /api/persway/migrate", h.handleMigrate)
	mux.HandleFunc("GET /api/persway/migrate", h.describe("Persway Migration API"))
	mux.HandleFunc("POST /app/process-events", h.handleProcessEvents)
	mux.HandleFunc("GET /app/process-events", h.describe("Event Processing API"))
	mux.HandleFunc("GET /app/customers/{id}/profile", h.handleProfile)
}

type processEventsRequest struct {
	CustomerID string            `json:"customer_id"`
	Events     []domain.RawEvent `json:"events"`
}

func (h *Handler) handlePixelEvents(w http.ResponseWriter, r *http.Request) {
	var payload PixelPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if payload.Events == nil {
		writeError(w, http.StatusBadRequest, "Invalid events payload")
		return
	}

	result, err := h.service.IngestPixelBatch(r.Context(), payload)
	if err != nil {
		h.fail(w, "process pixel events", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req MigrationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CustomerID == "" || req.PerswayID == "" || req.AnonymousEvents == nil {
		writeError(w, http.StatusBadRequest, "Invalid migration payload")
		return
	}

	result, err := h.service.Migrate(r.Context(), req)
	if err != nil {
		h.fail(w, "migrate anonymous data", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleProcessEvents(w http.ResponseWriter, r *http.Request) {
	var req processEventsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CustomerID == "" || req.Events == nil {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	result, err := h.service.ProcessEvents(r.Context(), req.CustomerID, req.Events)
	if err != nil {
		h.fail(w, "process customer events", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Profile(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) describe(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": message})
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return false
	}
	return true
}

// fail maps service errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	var rateLimited *metafield.RateLimitError
	switch {
	case errors.Is(err, domain.ErrInvalidBatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, metafield.ErrSizeLimitExceeded):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rateLimited.RetryAfter.Seconds()))))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.log.Error("failed to "+action, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

package audience

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
)

type Handler struct {
	service *Service
	log     *logger.Logger
}

func NewHTTPHandler(service *Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{service: service, log: log}
}

// Register mounts the audience routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /app/audiences", h.handleList)
	mux.HandleFunc("POST /app/audiences", h.handleCreate)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	listing, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateAudienceInput
	body := http.MaxBytesReader(w, r.Body, 64<<10)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid json: %v", err)})
		return
	}

	audience, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"audience": audience})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var (
		invalid     *InputError
		rateLimited *metafield.RateLimitError
	)
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": invalid.Fields})
	case errors.Is(err, metafield.ErrSizeLimitExceeded):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rateLimited.RetryAfter.Seconds()))))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	default:
		h.log.Error("audience request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to save audience"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

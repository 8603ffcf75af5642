package export

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rpattn/persway/internal/logger"
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

// Register mounts the export route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /app/export/profiles", h.handleProfiles)
}

func (h *Handler) handleProfiles(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// buffer so a failure midway still yields a clean error response
	var buf bytes.Buffer
	rows, err := h.service.Write(r.Context(), format, &buf)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error("profile export failed", "format", format, "error", err)
		http.Error(w, "failed to export profiles", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("profiles-%s.%s", h.service.now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Export-Rows", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

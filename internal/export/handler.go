package export

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"aepblueprint/internal/app/apiresp"
	"aepblueprint/internal/outline"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Export serves GET /export?format=md|html|pdf|xlsx|json|yaml as an attachment.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "format must be one of md, html, pdf, xlsx, json, yaml")
		return
	}
	res, err := h.svc.Export(r.Context(), Request{Format: format})
	if err != nil {
		switch {
		case errors.Is(err, ErrPDFDependencyMissing):
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "pdf export is unavailable on this server")
		case errors.Is(err, ErrUnsupportedFormat):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, outline.ErrPersistence):
			apiresp.WriteError(w, r, http.StatusInternalServerError, "persistence error")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "export failed")
		}
		return
	}
	w.Header().Set("Content-Type", res.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

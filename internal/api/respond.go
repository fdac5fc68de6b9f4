// internal/api/respond.go
package api

import (
	"net/http"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// respondJSON writes body with the given status.
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	writeJSON(w, status, body, h.log)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}, log *zap.Logger) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Error("Failed to encode response", zap.Error(err))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"Internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		log.Debug("Failed to write response", zap.Error(err))
	}
}

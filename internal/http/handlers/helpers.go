// Package handlers implements the portal's HTTP surface. Handlers stay
// thin: decode, call the service, translate the error taxonomy into a
// status code.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// serviceError renders a service failure. Backend messages pass through
// verbatim so the user sees what the clinic system said, not a paraphrase.
func serviceError(w http.ResponseWriter, err error) {
	var vErr *upstream.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  vErr.Message,
			"fields": map[string]string{vErr.Field: vErr.Message},
		})
		return
	}
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		body := map[string]any{"error": apiErr.Message}
		if len(apiErr.Fields) > 0 {
			body["fields"] = apiErr.Fields
		}
		writeJSON(w, apiErr.Status, body)
		return
	}
	jsonError(w, err.Error(), auth.StatusForError(err))
}

func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// confirmed enforces the two-step contract on destructive calls: the
// client must resend with confirm=true after showing its dialog, or the
// request parks at 428.
func confirmed(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Query().Get("confirm") == "true" {
		return true
	}
	jsonError(w, "confirmation required: retry with confirm=true", http.StatusPreconditionRequired)
	return false
}

// copyStream relays a raw upstream body (ICS, PDF, file downloads).
func copyStream(w http.ResponseWriter, body io.ReadCloser, contentType, filename string) {
	defer body.Close()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	_, _ = io.Copy(w, body)
}

package httptransport

import (
	"encoding/json"
	"net/http"
)

// WriteJSON encodes payload as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteError writes the {"type", "detail"} error body every endpoint returns.
func WriteError(w http.ResponseWriter, status int, code, detail string) {
	WriteJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

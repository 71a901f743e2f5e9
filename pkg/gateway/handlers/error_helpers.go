package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/awaazlabs/voicejournal/pkg/gateway/apierror"
	"github.com/awaazlabs/voicejournal/pkg/gateway/mw"
)

func requestID(r *http.Request) string {
	id, _ := mw.RequestIDFrom(r.Context())
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apierror.Write(w, err, requestID(r))
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, apiErr *apierror.Error) {
	if apiErr != nil && apiErr.RequestID == "" {
		apiErr.RequestID = requestID(r)
	}
	writeJSON(w, status, apierror.Envelope{Error: apiErr})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeAPIError(w, r, http.StatusMethodNotAllowed, &apierror.Error{
		Type:    apierror.ErrInvalidRequest,
		Message: "method not allowed",
	})
}

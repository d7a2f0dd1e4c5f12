package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody is the "error" object of gateway error responses.
type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Rule    *int   `json:"rule,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: body})
}

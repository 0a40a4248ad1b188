package response

import (
	"encoding/json"
	"net/http"
)

// Body is the envelope for every JSON response
type Body struct {
	Success  bool        `json:"success"`
	Result   interface{} `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	Messages []string    `json:"messages,omitempty"`
}

// WriteResponse writes result as a success envelope
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Body{
		Success: true,
		Result:  result,
	})
}

// WriteError writes e with its status code. Only the messages carried on e
// reach the caller.
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(Body{
		Success:  false,
		Error:    e.Message,
		Messages: e.Messages,
	})
}

package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Envelope is the JSON body shape for every error response, per the
// external interfaces section: {error, message, code, details?, requestId,
// timestamp, retryAfter?, documentation?}.
type Envelope struct {
	Error         string      `json:"error"`
	Message       string      `json:"message"`
	Code          int         `json:"code"`
	Details       interface{} `json:"details,omitempty"`
	RequestID     string      `json:"requestId"`
	Timestamp     time.Time   `json:"timestamp"`
	RetryAfter    *int        `json:"retryAfter,omitempty"`
	Documentation string      `json:"documentation,omitempty"`
}

// WriteHTTP renders err as the stable JSON error envelope onto w, setting
// Retry-After and WWW-Authenticate where applicable. requestID should come
// from the request's Tenant Context (or chi's request ID middleware if auth
// never completed).
func WriteHTTP(w http.ResponseWriter, requestID string, err *Error, now time.Time) {
	status := err.Kind.Status()

	w.Header().Set("Content-Type", "application/json")
	if err.RetryAfter != nil {
		secs := int(err.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="llmgateway", error="invalid_token"`)
	}
	w.WriteHeader(status)

	env := Envelope{
		Error:     string(err.Kind),
		Message:   err.Message,
		Code:      status,
		RequestID: requestID,
		Timestamp: now.UTC(),
	}
	if err.RetryAfter != nil {
		secs := int(err.RetryAfter.Seconds())
		env.RetryAfter = &secs
	}

	_ = json.NewEncoder(w).Encode(env)
}

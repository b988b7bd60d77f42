package remote

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StatusError is a non-2xx API response.
type StatusError struct {
	Status  int
	Message string
	// Reason is the provider's machine-readable reason, e.g. PREMIUM_REQUIRED
	// or invalid_grant.
	Reason     string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Reason != "" {
		return fmt.Sprintf("api error %d: %s (%s)", e.Status, msg, e.Reason)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, msg)
}

// parseStatusError understands both error shapes used by the Web API:
//
//	{"error": {"status": 403, "message": "...", "reason": "PREMIUM_REQUIRED"}}
//	{"error": "invalid_grant", "error_description": "..."}
func parseStatusError(status int, body []byte) *StatusError {
	serr := &StatusError{Status: status}

	var envelope struct {
		Error       json.RawMessage `json:"error"`
		Description string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		serr.Message = strings.TrimSpace(string(body))
		if len(serr.Message) > 200 {
			serr.Message = serr.Message[:200]
		}
		return serr
	}

	var obj struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(envelope.Error, &obj); err == nil {
		serr.Message = obj.Message
		serr.Reason = obj.Reason
		return serr
	}

	var code string
	if err := json.Unmarshal(envelope.Error, &code); err == nil {
		serr.Reason = code
		serr.Message = envelope.Description
	}
	return serr
}

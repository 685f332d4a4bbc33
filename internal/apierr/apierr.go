package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoCredential means the pool or user lookup produced no usable credential.
	ErrNoCredential = errors.New("no credential available")
	// ErrCredentialDenied means the backend rejected the credential at the
	// account level; the credential has been disabled as a side effect.
	ErrCredentialDenied = errors.New("credential denied and disabled")
)

// BackendError is a non-retryable upstream HTTP failure.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend request failed (%d): %s", e.Status, e.Body)
}

// RetriesExhaustedError means a retryable failure class persisted for a full
// pass over the credential pool.
type RetriesExhaustedError struct {
	Status   int
	Body     string
	Attempts int
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("backend request failed (%d) after %d attempts: %s", e.Status, e.Attempts, e.Body)
}

type jsonError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSONError writes a JSON error body with the given status code.
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := jsonError{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	_ = json.NewEncoder(w).Encode(body)
}

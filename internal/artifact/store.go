// Package artifact externalizes payloads that are too large or too opaque to
// keep inline in conversation history: generated images and model
// continuation signatures. Payloads are persisted to object storage and
// referenced from the caller's plain-text history via the markers in codec.go.
package artifact

import "context"

// Store persists opaque payloads and serves them back by URL.
type Store interface {
	// StoreImage persists raw image bytes and returns a public fetch URL.
	StoreImage(ctx context.Context, data []byte, mimeType string) (string, error)

	// StoreText persists a text payload under the given object name.
	StoreText(ctx context.Context, text, name string) (string, error)

	// Fetch retrieves a previously stored payload by its public URL.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// Enabled reports whether the store is configured and usable. Callers
	// skip artifact handling entirely when it is not.
	Enabled() bool
}

// Disabled is a Store that stores nothing and fetches nothing. It stands in
// when object storage is not configured; the gateway then degrades to
// text-only responses.
type Disabled struct{}

func (Disabled) StoreImage(context.Context, []byte, string) (string, error) { return "", nil }
func (Disabled) StoreText(context.Context, string, string) (string, error) { return "", nil }
func (Disabled) Fetch(context.Context, string) ([]byte, error)             { return nil, nil }
func (Disabled) Enabled() bool                                             { return false }

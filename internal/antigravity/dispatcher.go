package antigravity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qiuyan86/antigravity-gateway/internal/apierr"
	"github.com/qiuyan86/antigravity-gateway/internal/artifact"
	"github.com/qiuyan86/antigravity-gateway/internal/metrics"
	"github.com/qiuyan86/antigravity-gateway/internal/tokenpool"
)

// CredentialResolver looks up a user-owned credential, falling back to a
// shared one. Implemented by the user store.
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, userID string) (tokenpool.Credential, error)
}

// CredentialSource names where the request's credential comes from: a
// specific end user, or (the zero value) the shared admin pool.
type CredentialSource struct {
	UserID string
}

// IsUser reports whether the source names an end user.
func (s CredentialSource) IsUser() bool { return s.UserID != "" }

// Job is one logical generation request.
type Job struct {
	Request *GenerateRequest

	// Model is the caller-visible model name. The artifact side-channel is
	// keyed off this name, not the normalized identifier in Request.Model.
	Model string

	Source CredentialSource
}

// Dispatcher executes generation requests end-to-end: credential selection,
// bounded retry with rotation, incremental stream decoding, and background
// artifact uploads.
type Dispatcher struct {
	client  *Client
	pool    *tokenpool.Pool
	users   CredentialResolver
	store   artifact.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	// cooldown is the fixed wait between rotation retries, throttling
	// synchronized retry storms across callers sharing the pool.
	cooldown time.Duration
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(client *Client, pool *tokenpool.Pool, users CredentialResolver, store artifact.Store, cooldown time.Duration, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = artifact.Disabled{}
	}
	return &Dispatcher{
		client:   client,
		pool:     pool,
		users:    users,
		store:    store,
		cooldown: cooldown,
		logger:   logger,
		metrics:  m,
	}
}

// Generate runs one logical request, delivering StreamEvents to onEvent as
// they are decoded. It returns only after the stream is exhausted and every
// outstanding background artifact upload has finished.
//
// 403 and 429 responses rotate to the next pool credential and retry, at
// most once per credential in the pool at request start. A retry after a
// user-sourced failure always falls back to the shared pool.
func (d *Dispatcher) Generate(ctx context.Context, job Job, onEvent func(StreamEvent)) error {
	maxAttempts := d.pool.Size()

	var cred tokenpool.Credential
	var err error
	if job.Source.IsUser() {
		cred, err = d.users.ResolveCredential(ctx, job.Source.UserID)
	} else {
		cred, err = d.pool.Acquire()
	}
	if err != nil {
		return err
	}

	attempts := 0
	for {
		attempts++
		resp, reqErr := d.client.Generate(ctx, cred.AccessToken, job.Request)
		if reqErr != nil {
			return reqErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return d.consume(ctx, resp.Body, job.Model, onEvent)
		}

		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		class, retryable := classifyStatus(resp.StatusCode)
		if !retryable {
			return &apierr.BackendError{Status: resp.StatusCode, Body: string(raw)}
		}

		if attempts >= maxAttempts {
			d.logger.Error("retry bound reached", "attempts", attempts, "status", resp.StatusCode)
			return &apierr.RetriesExhaustedError{Status: resp.StatusCode, Body: string(raw), Attempts: attempts}
		}

		next, rotErr := d.pool.HandleFailure(class, cred.ID)
		if rotErr != nil {
			if class == tokenpool.Forbidden {
				d.pool.Disable(cred.ID)
				d.metrics.CredentialDisabled()
				return fmt.Errorf("%w: %s", apierr.ErrCredentialDenied, raw)
			}
			return &apierr.BackendError{Status: resp.StatusCode, Body: string(raw)}
		}
		d.metrics.CredentialRotated(class.String())
		d.logger.Info("retrying with rotated credential",
			"attempt", attempts+1,
			"max", maxAttempts,
			"class", class.String(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cooldown):
		}
		cred = next
	}
}

func classifyStatus(code int) (tokenpool.FailureClass, bool) {
	switch code {
	case http.StatusForbidden:
		return tokenpool.Forbidden, true
	case http.StatusTooManyRequests:
		return tokenpool.Throttled, true
	}
	return 0, false
}

// consume decodes the response stream, emitting events in decode order and
// spawning background uploads for inline images and continuation signatures.
// Upload URL events are appended whenever the upload completes; decoding is
// never blocked on storage.
func (d *Dispatcher) consume(ctx context.Context, body io.ReadCloser, callerModel string, onEvent func(StreamEvent)) error {
	defer body.Close()

	// Upload goroutines emit concurrently with the decode loop.
	var emitMu sync.Mutex
	emit := func(ev StreamEvent) {
		emitMu.Lock()
		onEvent(ev)
		emitMu.Unlock()
	}

	var uploads sync.WaitGroup
	sigCapable := ArtifactCapable(callerModel) && d.store.Enabled()

	var pendingCalls []ToolCall

	err := decodeStream(body, func(p *streamPayload) {
		if len(p.Response.Candidates) == 0 {
			return
		}
		cand := p.Response.Candidates[0]
		for i := range cand.Content.Parts {
			part := &cand.Content.Parts[i]

			if sig := part.Signature(); sig != "" && sigCapable {
				uploads.Add(1)
				go func() {
					defer uploads.Done()
					d.uploadSignature(ctx, sig, emit)
				}()
			}

			switch {
			case part.Thought:
				var text string
				if part.Text != nil {
					text = *part.Text
				}
				emit(StreamEvent{Type: EventThinking, Text: text})
			case part.Text != nil:
				emit(StreamEvent{Type: EventText, Text: *part.Text})
			case part.FunctionCall != nil:
				args, _ := json.Marshal(part.FunctionCall.Args)
				pendingCalls = append(pendingCalls, ToolCall{
					ID:   part.FunctionCall.ID,
					Type: "function",
					Function: ToolCallFunction{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			case part.InlineData != nil:
				if !d.store.Enabled() {
					d.logger.Warn("artifact store disabled, dropping generated image")
					continue
				}
				data := part.InlineData
				uploads.Add(1)
				go func() {
					defer uploads.Done()
					d.uploadImage(ctx, data, emit)
				}()
			}
		}

		if cand.FinishReason != "" && len(pendingCalls) > 0 {
			emit(StreamEvent{Type: EventToolCalls, ToolCalls: pendingCalls})
			pendingCalls = nil
		}
	})

	// The request is not complete until every artifact is persisted;
	// otherwise the caller could replay history before its URLs resolve.
	uploads.Wait()
	return err
}

// uploadImage persists a generated image and emits its markdown link. A
// failed upload degrades to a missing link, never a failed request.
func (d *Dispatcher) uploadImage(ctx context.Context, data *InlineData, emit func(StreamEvent)) {
	raw, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		d.logger.Error("generated image is not valid base64", "error", err)
		d.metrics.UploadCompleted("image", false)
		return
	}
	url, err := d.store.StoreImage(ctx, raw, data.MimeType)
	if err != nil || url == "" {
		d.logger.Error("image upload failed", "error", err)
		d.metrics.UploadCompleted("image", false)
		return
	}
	d.logger.Info("image uploaded", "url", url)
	d.metrics.UploadCompleted("image", true)
	emit(StreamEvent{Type: EventText, Text: artifact.ImageMarkdown(url)})
}

// uploadSignature persists a continuation signature and emits its invisible
// marker so the caller's history carries the replay reference.
func (d *Dispatcher) uploadSignature(ctx context.Context, sig string, emit func(StreamEvent)) {
	name := fmt.Sprintf("sig_%d_%s.txt", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	url, err := d.store.StoreText(ctx, sig, name)
	if err != nil || url == "" {
		d.logger.Error("signature upload failed", "error", err)
		d.metrics.UploadCompleted("signature", false)
		return
	}
	d.logger.Info("signature uploaded", "url", url)
	d.metrics.UploadCompleted("signature", true)
	emit(StreamEvent{Type: EventText, Text: artifact.SignatureMarker(url)})
}

// Package catalog lists backend models and synthesizes the virtual
// size-variant model ids.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/qiuyan86/antigravity-gateway/internal/antigravity"
	"github.com/qiuyan86/antigravity-gateway/internal/apierr"
	"github.com/qiuyan86/antigravity-gateway/internal/tokenpool"
)

// Model is one catalog entry in the caller's wire shape.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the caller-facing list envelope.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Catalog fetches and derives the model list. Synthesized variants are never
// persisted; the list is recomputed on every call.
type Catalog struct {
	client *antigravity.Client
	pool   *tokenpool.Pool
	users  antigravity.CredentialResolver
	logger *slog.Logger
}

// New constructs a Catalog.
func New(client *antigravity.Client, pool *tokenpool.Pool, users antigravity.CredentialResolver, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{client: client, pool: pool, users: users, logger: logger}
}

// List fetches upstream model ids and appends the -2k/-4k variants whenever
// the base image model is present.
func (c *Catalog) List(ctx context.Context, source antigravity.CredentialSource) (*ModelList, error) {
	cred, err := c.resolve(ctx, source)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Models(ctx, cred.AccessToken)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Models))
	for id := range resp.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := time.Now().Unix()
	list := make([]Model, 0, len(ids)+2)
	hasBaseImage := false
	for _, id := range ids {
		if id == antigravity.BaseImageModel {
			hasBaseImage = true
		}
		list = append(list, Model{ID: id, Object: "model", Created: now, OwnedBy: "google"})
	}
	if hasBaseImage {
		for _, size := range []string{"2k", "4k"} {
			list = append(list, Model{
				ID:      antigravity.BaseImageModel + "-" + size,
				Object:  "model",
				Created: now,
				OwnedBy: "google",
			})
		}
	}

	return &ModelList{Object: "list", Data: list}, nil
}

// resolve picks the credential for a catalog fetch. An empty pool gets one
// forced reload before giving up.
func (c *Catalog) resolve(ctx context.Context, source antigravity.CredentialSource) (tokenpool.Credential, error) {
	if source.IsUser() {
		return c.users.ResolveCredential(ctx, source.UserID)
	}

	cred, err := c.pool.Acquire()
	if errors.Is(err, apierr.ErrNoCredential) {
		c.logger.Warn("credential pool empty, forcing reload")
		if rerr := c.pool.Reload(true); rerr != nil {
			c.logger.Error("credential reload failed", "error", rerr)
			return tokenpool.Credential{}, err
		}
		return c.pool.Acquire()
	}
	return cred, err
}

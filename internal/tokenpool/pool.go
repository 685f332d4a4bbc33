package tokenpool

import (
	"log/slog"
	"sync"
	"time"

	"github.com/qiuyan86/antigravity-gateway/internal/apierr"
)

// FailureClass labels the kind of upstream failure reported to the pool.
type FailureClass int

const (
	// Forbidden is an account-level denial (HTTP 403).
	Forbidden FailureClass = iota
	// Throttled is transient quota pressure (HTTP 429).
	Throttled
)

func (c FailureClass) String() string {
	switch c {
	case Forbidden:
		return "forbidden"
	case Throttled:
		return "throttled"
	}
	return "unknown"
}

// Credential is one bearer credential in the pool. The pool owns all
// credential state; callers only ever see value copies.
type Credential struct {
	ID          string `yaml:"id"`
	AccessToken string `yaml:"access_token"`
	Disabled    bool   `yaml:"disabled,omitempty"`
}

// Source re-derives the credential sequence on demand.
type Source interface {
	Load() ([]Credential, error)
}

// Pool holds an ordered credential sequence and a rotation cursor.
// All cursor and sequence mutation happens under one mutex; acquiring a
// credential and using it are deliberately not atomic, so two concurrent
// requests may transiently hold the same credential.
type Pool struct {
	source Source
	logger *slog.Logger

	mu       sync.Mutex
	creds    []Credential
	cursor   int
	loadedAt time.Time

	// minReload is the freshness window for non-forced reloads.
	minReload time.Duration
}

// New builds a Pool and performs the initial load.
func New(source Source, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		source:    source,
		logger:    logger,
		minReload: 30 * time.Second,
	}
	if err := p.Reload(true); err != nil {
		return nil, err
	}
	return p, nil
}

// Acquire returns the enabled credential at the rotation cursor, scanning
// forward (wrapping) past disabled entries. The cursor itself is not moved.
func (p *Pool) Acquire() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	for i := 0; i < n; i++ {
		c := p.creds[(p.cursor+i)%n]
		if !c.Disabled {
			return c, nil
		}
	}
	return Credential{}, apierr.ErrNoCredential
}

// HandleFailure advances the cursor past the credential that just failed and
// returns the next enabled one. It only repositions state; disabling on
// forbidden failures is the caller's decision via Disable.
func (p *Pool) HandleFailure(class FailureClass, usedID string) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	for i := 1; i <= n; i++ {
		idx := (p.cursor + i) % n
		c := p.creds[idx]
		if c.Disabled || c.ID == usedID {
			continue
		}
		p.cursor = idx
		p.logger.Info("rotated credential",
			"class", class.String(),
			"failed", usedID,
			"next", c.ID,
		)
		return c, nil
	}
	return Credential{}, apierr.ErrNoCredential
}

// Disable marks a credential unusable until the next reload. Entries are
// disabled in place, never removed, so the sequence order is stable.
func (p *Pool) Disable(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.creds {
		if p.creds[i].ID == id {
			p.creds[i].Disabled = true
			p.logger.Warn("credential disabled", "id", id)
			return
		}
	}
}

// Reload re-derives the sequence from the source. Non-forced reloads are
// dropped while the current sequence is still fresh.
func (p *Pool) Reload(force bool) error {
	p.mu.Lock()
	if !force && time.Since(p.loadedAt) < p.minReload {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	creds, err := p.source.Load()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = creds
	if p.cursor >= len(creds) {
		p.cursor = 0
	}
	p.loadedAt = time.Now()
	p.logger.Info("credential pool reloaded", "total", len(creds), "enabled", p.enabledLocked())
	return nil
}

// Size returns the total credential count, disabled entries included. The
// dispatcher uses it as the per-request retry bound: one pass over the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Enabled returns the number of currently enabled credentials.
func (p *Pool) Enabled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabledLocked()
}

func (p *Pool) enabledLocked() int {
	n := 0
	for _, c := range p.creds {
		if !c.Disabled {
			n++
		}
	}
	return n
}

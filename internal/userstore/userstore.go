// Package userstore resolves per-user backend credentials. Users may bring
// their own credential; failing that they fall back to a shared one.
package userstore

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/qiuyan86/antigravity-gateway/internal/apierr"
	"github.com/qiuyan86/antigravity-gateway/internal/tokenpool"
)

// User is one registered gateway user.
type User struct {
	ID          string `yaml:"id"`
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token,omitempty"`
}

// Store maps gateway API keys to users and users to backend credentials.
type Store struct {
	byAPIKey map[string]User
	byID     map[string]User
	shared   *tokenpool.Credential
}

type usersFile struct {
	Users  []User               `yaml:"users"`
	Shared *tokenpool.Credential `yaml:"shared,omitempty"`
}

// LoadFile reads the user registry from a YAML file. An empty path yields an
// empty store, which rejects every user lookup.
func LoadFile(path string) (*Store, error) {
	s := &Store{
		byAPIKey: make(map[string]User),
		byID:     make(map[string]User),
	}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var f usersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}

	for _, u := range f.Users {
		if u.ID == "" || u.APIKey == "" {
			return nil, fmt.Errorf("user entry missing id or api_key")
		}
		s.byAPIKey[u.APIKey] = u
		s.byID[u.ID] = u
	}
	s.shared = f.Shared
	return s, nil
}

// LookupAPIKey resolves a gateway API key to a user id.
func (s *Store) LookupAPIKey(key string) (string, bool) {
	u, ok := s.byAPIKey[key]
	return u.ID, ok
}

// ResolveCredential returns the user's own backend credential, or the shared
// fallback when the user has none.
func (s *Store) ResolveCredential(_ context.Context, userID string) (tokenpool.Credential, error) {
	if u, ok := s.byID[userID]; ok && u.AccessToken != "" {
		return tokenpool.Credential{ID: "user:" + u.ID, AccessToken: u.AccessToken}, nil
	}
	if s.shared != nil && s.shared.AccessToken != "" {
		return *s.shared, nil
	}
	return tokenpool.Credential{}, apierr.ErrNoCredential
}

package tokenpool

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource loads credentials from a YAML file of the form:
//
//	credentials:
//	  - id: acct-1
//	    access_token: ya29.xxx
//	  - id: acct-2
//	    access_token: ya29.yyy
//	    disabled: true
type FileSource struct {
	Path string
}

type credentialsFile struct {
	Credentials []Credential `yaml:"credentials"`
}

func (s *FileSource) Load() ([]Credential, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	var f credentialsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	for i, c := range f.Credentials {
		if c.ID == "" {
			return nil, fmt.Errorf("credential %d: missing id", i)
		}
		if c.AccessToken == "" {
			return nil, fmt.Errorf("credential %q: missing access_token", c.ID)
		}
	}
	return f.Credentials, nil
}

// StaticSource serves a fixed credential list. Used in tests and for
// credentials passed directly through configuration.
type StaticSource struct {
	Credentials []Credential
}

func (s *StaticSource) Load() ([]Credential, error) {
	out := make([]Credential, len(s.Credentials))
	copy(out, s.Credentials)
	return out, nil
}

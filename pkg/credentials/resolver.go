// Package credentials resolves API keys for source APIs from the
// environment and a local TOML secrets file.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/fcat-validator/econfetch/pkg/catalog"
)

// ErrMissingCredential is returned when neither the environment nor the
// secrets file provides a non-empty key.
var ErrMissingCredential = errors.New("missing credential")

// Resolver looks up API keys with a fixed precedence: the
// <SOURCE>_API_KEY environment variable wins, then a key of the same
// name in the secrets file. The secrets file is read at most once per
// Resolver; a missing or malformed file behaves as an empty one.
type Resolver struct {
	secretsPath string

	once    sync.Once
	secrets map[string]string
}

// NewResolver creates a resolver backed by the secrets file at path.
func NewResolver(secretsPath string) *Resolver {
	return &Resolver{secretsPath: secretsPath}
}

// Resolve returns the API key for a source, or ErrMissingCredential.
func (r *Resolver) Resolve(source catalog.Source) (string, error) {
	return r.Lookup(source.CredentialEnvKey())
}

// Lookup resolves a key by its exact name.
func (r *Resolver) Lookup(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}

	r.once.Do(r.loadSecrets)

	if v := r.secrets[key]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingCredential, key)
}

// loadSecrets parses the secrets file into a flat string map. Only
// top-level string values are considered; anything else is ignored.
func (r *Resolver) loadSecrets() {
	r.secrets = map[string]string{}

	data, err := os.ReadFile(r.secretsPath)
	if err != nil {
		return
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return
	}

	for k, v := range raw {
		if s, ok := v.(string); ok {
			r.secrets[k] = s
		}
	}
}

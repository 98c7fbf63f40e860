// Package auth supplies bearer tokens for the collector API. Acquiring tokens is left to the
// embedding application.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/sensorsync/go-collector-sync/upload"
)

// DefaultTokenEnvKey ...
const DefaultTokenEnvKey = "COLLECTOR_TOKEN"

// ErrNoToken ...
var ErrNoToken = errors.New("no collector token available")

// Static always returns the same token.
type Static string

var _ upload.TokenProvider = Static("")

// CurrentToken ...
func (s Static) CurrentToken(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// EnvProvider reads the token from the environment on every call, so a refreshed token is
// picked up by the next upload.
type EnvProvider struct {
	repository env.Repository
	key        string
}

var _ upload.TokenProvider = (*EnvProvider)(nil)

// NewEnvProvider ...
func NewEnvProvider(repository env.Repository, key string) *EnvProvider {
	if key == "" {
		key = DefaultTokenEnvKey
	}
	return &EnvProvider{repository: repository, key: key}
}

// CurrentToken ...
func (p *EnvProvider) CurrentToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token := strings.TrimSpace(p.repository.Get(p.key))
	if token == "" {
		return "", fmt.Errorf("%w: $%s is empty", ErrNoToken, p.key)
	}
	return token, nil
}

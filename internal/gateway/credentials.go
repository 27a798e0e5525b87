package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Credentials supplies the bearer token for each request. Issuing and
// refreshing it is the identity layer's job.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(t)), nil
}

// TokenFile re-reads the file on every request, so a login helper that
// rewrites it is picked up without restarting.
type TokenFile string

func (f TokenFile) Token(context.Context) (string, error) {
	b, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Anonymous sends no Authorization header.
type Anonymous struct{}

func (Anonymous) Token(context.Context) (string, error) { return "", nil }

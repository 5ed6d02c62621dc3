package graph

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// StaticTokenProvider hands out a fixed bearer token. Used by tests and
// by deployments that refresh tokens out of band.
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("no token configured")
	}
	return p.token, nil
}

// EnvTokenProvider reads the bearer token from an environment variable on
// first use and caches it for the lifetime of the process.
type EnvTokenProvider struct {
	variable string

	once  sync.Once
	token string
	err   error
}

func NewEnvTokenProvider(variable string) *EnvTokenProvider {
	return &EnvTokenProvider{variable: variable}
}

func (p *EnvTokenProvider) Token(ctx context.Context) (string, error) {
	p.once.Do(func() {
		p.token = os.Getenv(p.variable)
		if p.token == "" {
			p.err = fmt.Errorf("environment variable %s is not set", p.variable)
		}
	})
	return p.token, p.err
}

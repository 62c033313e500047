// Package factory turns provider configuration into registered providers.
package factory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"poetry-tutor/internal/config"
	"poetry-tutor/internal/provider"
	"poetry-tutor/internal/provider/claude"
	"poetry-tutor/internal/provider/openai"
)

const (
	dialTimeout         = 10 * time.Second
	keepAlive           = 30 * time.Second
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	maxIdleConns        = 50
)

type constructor func(name string, cfg config.ProviderConfig, client *http.Client) (provider.Provider, error)

type spec struct {
	name string
	cfg  *config.ProviderConfig
	new  constructor
}

// RegisterConfiguredProviders builds every configured provider and adds it
// to registry. OpenAI is always configured; Claude only when present.
func RegisterConfiguredProviders(ctx context.Context, cfg config.Config, registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	specs := []spec{
		{name: "openai", cfg: &cfg.Providers.OpenAI, new: func(name string, pc config.ProviderConfig, c *http.Client) (provider.Provider, error) {
			return openai.New(name, pc, c)
		}},
		{name: "claude", cfg: cfg.Providers.Claude, new: func(name string, pc config.ProviderConfig, c *http.Client) (provider.Provider, error) {
			return claude.New(name, pc, c)
		}},
	}

	for _, s := range specs {
		if s.cfg == nil {
			continue
		}
		p, err := s.new(s.name, *s.cfg, newHTTPClient(cfg.LLM.Timeout))
		if err != nil {
			return fmt.Errorf("initialise %s provider: %w", s.name, err)
		}
		if err := registry.RegisterProvider(ctx, p, s.cfg.Aliases); err != nil {
			return fmt.Errorf("register %s provider: %w", s.name, err)
		}
	}
	return nil
}

// newHTTPClient returns a client with its own pooled transport, bounded by
// the overall request timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          maxIdleConns,
			IdleConnTimeout:       idleConnTimeout,
			TLSHandshakeTimeout:   tlsHandshakeTimeout,
			ExpectContinueTimeout: time.Second,
		},
	}
}

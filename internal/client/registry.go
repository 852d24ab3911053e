package client

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentarena/api/internal/config"
	"github.com/agentarena/api/internal/conversation"
)

type provider struct {
	name    string
	cfg     config.ProviderConfig
	limiter *rate.Limiter
}

// Registry holds one limiter per configured provider and hands out backends.
// Limiters are shared by every backend built for the same provider, so
// concurrent jobs stay within the provider's RPM budget together.
type Registry struct {
	providers   map[string]*provider
	httpClient  *http.Client
	temperature float64
}

// NewRegistry keeps every provider that has an API key.
func NewRegistry(providers map[string]config.ProviderConfig, temperature float64, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		providers:   make(map[string]*provider),
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		temperature: temperature,
	}
	for name, cfg := range providers {
		if cfg.APIKey == "" {
			logger.Debug("provider not configured", "model", name)
			continue
		}
		r.providers[name] = &provider{name: name, cfg: cfg, limiter: NewRPMLimiter(cfg.RPMLimit)}
		logger.Info("provider configured", "model", name, "upstream", cfg.Model, "rpm", cfg.RPMLimit)
	}
	return r
}

// Available returns the configured provider names, sorted.
func (r *Registry) Available() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Backend resolves a provider at the registry's default temperature.
func (r *Registry) Backend(name string) (conversation.Backend, bool) {
	return r.build(name, r.temperature)
}

// WithTemperature returns a resolver whose backends sample at t.
func (r *Registry) WithTemperature(t float64) conversation.BackendResolver {
	return temperatureResolver{registry: r, temperature: t}
}

func (r *Registry) build(name string, temperature float64) (conversation.Backend, bool) {
	p, ok := r.providers[name]
	if !ok {
		return nil, false
	}
	var b conversation.Backend
	switch p.cfg.Kind {
	case config.KindAnthropic:
		b = NewAnthropicClient(p.cfg, temperature, r.httpClient)
	default:
		b = NewOpenAIClient(name, p.cfg, temperature, r.httpClient)
	}
	return WithLimiter(b, p.limiter), true
}

type temperatureResolver struct {
	registry    *Registry
	temperature float64
}

func (t temperatureResolver) Backend(name string) (conversation.Backend, bool) {
	return t.registry.build(name, t.temperature)
}

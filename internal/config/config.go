// Package config loads service settings from defaults, an optional YAML file
// and HEMICYCLE_* environment variables, in that order.
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"hemicycle.org/internal/archive"
	"hemicycle.org/internal/enrich"
	"hemicycle.org/internal/query"
	"hemicycle.org/internal/refresh"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "hemicycle"

const (
	DefaultMembersURL = "https://data.assemblee-nationale.fr/static/openData/repository/17/amo/deputes_actifs_mandats_actifs_organes/AMO10_deputes_actifs_mandats_actifs_organes.json.zip"
	DefaultBallotsURL = "https://data.assemblee-nationale.fr/static/openData/repository/17/loi/scrutins/Scrutins.json.zip"
)

type ctxKey struct{}

// WithContext stores cfg in ctx.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext returns the config stored by WithContext, or nil.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(ctxKey{}).(*Config)
	return cfg
}

// Config is the full service configuration.
type Config struct {
	ListenAddr      string        `yaml:"listenAddr"      split_words:"true"`
	MembersURL      string        `yaml:"membersURL"      envconfig:"MEMBERS_URL"`
	BallotsURL      string        `yaml:"ballotsURL"      envconfig:"BALLOTS_URL"`
	RefreshInterval time.Duration `yaml:"refreshInterval" split_words:"true"`
	FetchTimeout    time.Duration `yaml:"fetchTimeout"    split_words:"true"`
	MaxEntrySize    int64         `yaml:"maxEntrySize"    split_words:"true"`
	TempDir         string        `yaml:"tempDir"         split_words:"true"`
	GroupPrefix     string        `yaml:"groupPrefix"     split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
	Debug           bool          `yaml:"debug"`

	RateLimit RateLimit `yaml:"rateLimit" split_words:"true"`
	Enrich    Enrich    `yaml:"enrich"`
	Auth      Auth      `yaml:"auth"`
	CORS      CORS      `yaml:"cors"`
	GRPC      GRPC      `yaml:"grpc"`
}

// GRPC configures the optional gRPC health listener. An empty Addr
// disables it.
type GRPC struct {
	Addr string `yaml:"addr"`
}

// Auth holds the operator token secret. An empty secret leaves the
// refresh trigger open.
type Auth struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"tokenTTL" envconfig:"TOKEN_TTL"`
}

// CORS lists browser origins allowed besides localhost.
type CORS struct {
	Origins []string `yaml:"origins"`
}

// RateLimit bounds inbound requests per client address.
type RateLimit struct {
	PerSecond float64 `yaml:"perSecond" split_words:"true"`
	Burst     int     `yaml:"burst"`
}

// Enrich describes the optional statistics API.
type Enrich struct {
	BaseURL    string        `yaml:"baseURL"    envconfig:"BASE_URL"`
	Resource   string        `yaml:"resource"`
	Candidates []string      `yaml:"candidates"`
	Timeout    time.Duration `yaml:"timeout"`
	Backoff    time.Duration `yaml:"backoff"`
	Rate       float64       `yaml:"rate"`
	Burst      int           `yaml:"burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		MembersURL:      DefaultMembersURL,
		BallotsURL:      DefaultBallotsURL,
		RefreshInterval: refresh.DefaultInterval,
		FetchTimeout:    archive.DefaultTimeout,
		MaxEntrySize:    archive.DefaultMaxEntrySize,
		GroupPrefix:     query.DefaultGroupPrefix,
		ShutdownTimeout: 15 * time.Second,
		RateLimit: RateLimit{
			PerSecond: 20,
			Burst:     40,
		},
		Enrich: Enrich{
			Candidates: enrich.DefaultCandidates,
			Timeout:    enrich.DefaultTimeout,
			Backoff:    enrich.DefaultBackoff,
			Rate:       5,
			Burst:      5,
		},
		Auth: Auth{
			TokenTTL: 24 * time.Hour,
		},
	}
}

// Load overlays the YAML file at path (if any) and the environment onto the
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listenAddr is required"))
	}
	for name, raw := range map[string]string{"membersURL": c.MembersURL, "ballotsURL": c.BallotsURL} {
		if err := checkURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.RefreshInterval < time.Minute {
		errs = append(errs, fmt.Errorf("refreshInterval %s is below one minute", c.RefreshInterval))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetchTimeout must be positive"))
	}
	if c.MaxEntrySize <= 0 {
		errs = append(errs, errors.New("maxEntrySize must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdownTimeout must be positive"))
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rateLimit perSecond and burst must be positive"))
	}
	if c.Enrich.BaseURL != "" {
		if err := checkURL(c.Enrich.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("enrich.baseURL: %w", err))
		}
		if c.Enrich.Resource == "" {
			errs = append(errs, errors.New("enrich.resource is required with enrich.baseURL"))
		}
	}
	if c.Auth.Secret != "" && len(c.Auth.Secret) < 16 {
		errs = append(errs, errors.New("auth.secret must be at least 16 characters"))
	}
	if c.GRPC.Addr != "" {
		if _, _, err := net.SplitHostPort(c.GRPC.Addr); err != nil {
			errs = append(errs, fmt.Errorf("grpc.addr: %w", err))
		}
	}
	if c.Enrich.Timeout <= 0 {
		errs = append(errs, errors.New("enrich.timeout must be positive"))
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// Sources lists the archives consumed on each refresh.
func (c *Config) Sources() []refresh.Source {
	return []refresh.Source{
		{Name: "members", URL: c.MembersURL},
		{Name: "ballots", URL: c.BallotsURL},
	}
}

// EnrichConfig converts the enrich section for the client.
func (c *Config) EnrichConfig() enrich.Config {
	return enrich.Config{
		BaseURL:    c.Enrich.BaseURL,
		Resource:   c.Enrich.Resource,
		Candidates: c.Enrich.Candidates,
		Timeout:    c.Enrich.Timeout,
		Backoff:    c.Enrich.Backoff,
		Rate:       c.Enrich.Rate,
		Burst:      c.Enrich.Burst,
	}
}

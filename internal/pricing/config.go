package pricing

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

//go:embed default_pricing.yaml
var defaultPricingYAML []byte

// Config is the external, versioned pricing document.
type Config struct {
	Version   string                       `yaml:"version"`
	Currency  string                       `yaml:"currency"`
	Products  map[ProductKey]ProductConfig `yaml:"products"`
	Overrides []Override                   `yaml:"overrides"`
	Bonus     *BonusRule                   `yaml:"bonus"`
}

// ProductConfig describes one product family.
type ProductConfig struct {
	Mode   Mode              `yaml:"mode"`
	Labels map[string]string `yaml:"labels"`
	Tiers  []TierEntry       `yaml:"tiers"`
}

// ParseConfig decodes a YAML pricing document. Unknown fields are rejected so
// that typos never silently drop a rule.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode pricing config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile reads and parses a pricing document from disk.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read pricing config: %w", err)
	}
	return ParseConfig(data)
}

// DefaultConfig returns the built-in storefront price list.
func DefaultConfig() Config {
	cfg, err := ParseConfig(defaultPricingYAML)
	if err != nil {
		panic(err)
	}
	return cfg
}

// NewEngine validates cfg and freezes it into an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.Version) == "" {
		return nil, fmt.Errorf("pricing version is required: %w", ErrInvalidTable)
	}
	if len(cfg.Products) == 0 {
		return nil, fmt.Errorf("no products configured: %w", ErrInvalidTable)
	}
	tiers := make(map[ProductKey][]TierEntry, len(cfg.Products))
	modes := make(map[ProductKey]Mode, len(cfg.Products))
	labels := make(map[ProductKey]map[string]string, len(cfg.Products))
	for key, p := range cfg.Products {
		tiers[key] = p.Tiers
		switch p.Mode {
		case "", ModeLine:
			modes[key] = ModeLine
		case ModeCart:
			modes[key] = ModeCart
		default:
			return nil, fmt.Errorf("%s: unknown mode %q: %w", key, p.Mode, ErrInvalidTable)
		}
		l := make(map[string]string, len(p.Labels))
		for locale, v := range p.Labels {
			l[strings.ToLower(locale)] = v
		}
		labels[key] = l
	}

	table, err := NewTierTable(tiers)
	if err != nil {
		return nil, err
	}
	resolver, err := NewResolver(table, cfg.Overrides...)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		version:  cfg.Version,
		currency: strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		table:    table,
		resolver: resolver,
		modes:    modes,
		labels:   labels,
	}
	if e.currency == "" {
		e.currency = "UZS"
	}
	if cfg.Bonus != nil {
		if err := validateBonus(*cfg.Bonus, table); err != nil {
			return nil, err
		}
		b := *cfg.Bonus
		e.bonus = &b
	}
	return e, nil
}

// LoadEngine builds an engine from path, or from the built-in configuration
// when path is empty.
func LoadEngine(path string) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return NewEngine(DefaultConfig())
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return NewEngine(cfg)
}

// Provider publishes the current Engine to concurrent readers. Callers take
// one snapshot per request so a reload never mixes two price lists.
type Provider struct {
	current atomic.Pointer[Engine]
}

// NewProvider returns a provider serving e.
func NewProvider(e *Engine) *Provider {
	p := &Provider{}
	p.current.Store(e)
	return p
}

// Engine returns the current snapshot.
func (p *Provider) Engine() *Engine {
	if p == nil {
		return nil
	}
	return p.current.Load()
}

// Swap installs e and returns the previous engine.
func (p *Provider) Swap(e *Engine) *Engine {
	return p.current.Swap(e)
}

package privacy

import (
	"fmt"

	"github.com/raaihank/scribe-sentinel/internal/config"
	"github.com/raaihank/scribe-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Detector handles PII detection and masking as configured
type Detector struct {
	engine *Engine
	logger *logger.Logger
	config config.PrivacyConfig
}

// New creates a new PII detector instance
func New(cfg config.PrivacyConfig, log *logger.Logger) (*Detector, error) {
	catalog, err := DefaultCatalog().Select(cfg.Detectors)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	opts := []Option{WithLogger(log.Logger)}
	if !cfg.ContextRules {
		opts = append(opts, WithoutContextRules())
	}

	detector := &Detector{
		engine: NewEngine(catalog, opts...),
		logger: log,
		config: cfg,
	}

	log.Info("Privacy detector initialized",
		zap.Strings("categories", catalog.Names()),
		zap.Bool("context_rules", cfg.ContextRules),
		zap.Bool("enabled", cfg.Enabled),
	)

	return detector, nil
}

// Redact processes text through all enabled categories. When privacy is
// disabled the text is returned unchanged with no findings.
func (d *Detector) Redact(text string) *Report {
	if !d.config.Enabled {
		return &Report{
			RedactedText: text,
			Counts:       map[string]int{},
			Matches:      []Match{},
		}
	}
	return d.engine.Redact(text)
}

// Enabled reports whether redaction is switched on.
func (d *Detector) Enabled() bool {
	return d.config.Enabled
}

// GetEnabledRules returns the enabled category names in processing order
func (d *Detector) GetEnabledRules() []string {
	names := d.engine.Catalog().Names()
	if d.engine.contextRules != nil {
		names = append(names, d.engine.contextRules.Names()...)
	}
	return names
}

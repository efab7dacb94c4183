// Package alert decides when a low heart rate must drive the buzzer.
package alert

import (
	"go.uber.org/zap"

	"wisefido-ppg/internal/models"
)

// Config for the low heart rate rule.
type Config struct {
	Enabled bool
	// ThresholdBPM: the alert is active while a confident estimate is below it.
	ThresholdBPM uint32
	// ConfirmCount is the number of consecutive low evaluations required
	// before the alert becomes active.
	ConfirmCount int
}

// Policy debounces low heart rate estimates into an AlertState.
type Policy struct {
	cfg    Config
	logger *zap.Logger

	state  models.AlertState
	streak int
}

// NewPolicy creates an inactive Policy.
func NewPolicy(cfg Config, logger *zap.Logger) *Policy {
	if cfg.ConfirmCount < 1 {
		cfg.ConfirmCount = 1
	}
	return &Policy{cfg: cfg, logger: logger}
}

// Config returns the active rule.
func (p *Policy) Config() Config { return p.cfg }

// State returns the last evaluated state.
func (p *Policy) State() models.AlertState { return p.state }

// Evaluate applies one estimate. Activation needs ConfirmCount consecutive low
// readings; a normal or low-confidence reading clears the alert at once.
// While active every evaluation requests one buzzer pulse.
func (p *Policy) Evaluate(est models.HeartRateEstimate) models.AlertState {
	low := p.cfg.Enabled &&
		est.Confidence == models.ConfidenceOK &&
		est.BPM < p.cfg.ThresholdBPM

	if !low {
		p.streak = 0
		if p.state.Active {
			p.state.Active = false
			p.state.LastTransition = est.UpdatedAt
			p.logger.Info("Low heart rate alert cleared",
				zap.Uint32("bpm", est.BPM),
				zap.String("confidence", est.Confidence.String()),
			)
		}
		p.state.Actuate = false
		return p.state
	}

	if p.streak < p.cfg.ConfirmCount {
		p.streak++
	}
	if !p.state.Active && p.streak >= p.cfg.ConfirmCount {
		p.state.Active = true
		p.state.LastTransition = est.UpdatedAt
		p.logger.Warn("Low heart rate alert",
			zap.Uint32("bpm", est.BPM),
			zap.Uint32("threshold", p.cfg.ThresholdBPM),
		)
	}
	p.state.Actuate = p.state.Active
	return p.state
}

// Reconfigure replaces the rule and clears any pending confirmation.
func (p *Policy) Reconfigure(cfg Config) {
	if cfg.ConfirmCount < 1 {
		cfg.ConfirmCount = 1
	}
	p.cfg = cfg
	p.streak = 0
}

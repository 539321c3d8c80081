package processor

import (
	"time"

	"github.com/LokaMart/ParcelPulse/internal/models"
)

// PolicyConfig holds the poll-cadence and retry-backoff knobs. Zero
// fields fall back to defaults in NewPolicy.
type PolicyConfig struct {
	TerminalDelay time.Duration // default: 365 days

	PreTransitDelay     time.Duration // PENDING / INFO_RECEIVED, default: 6 hours
	PickedUpDelay       time.Duration // default: 2 hours
	InTransitDelay      time.Duration // default: 1 hour
	OutForDeliveryDelay time.Duration // default: 20 minutes
	ExceptionDelay      time.Duration // default: 4 hours
	UnknownDelay        time.Duration // default: 90 minutes

	// NearDeliveryWindow halves the interval when the estimated delivery
	// date is this close.
	NearDeliveryWindow time.Duration // default: 24 hours

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes, also the cap
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		TerminalDelay: 365 * 24 * time.Hour,

		PreTransitDelay:     6 * time.Hour,
		PickedUpDelay:       2 * time.Hour,
		InTransitDelay:      1 * time.Hour,
		OutForDeliveryDelay: 20 * time.Minute,
		ExceptionDelay:      4 * time.Hour,
		UnknownDelay:        90 * time.Minute,

		NearDeliveryWindow: 24 * time.Hour,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

// Policy is pure: it computes durations from shipment state and holds no
// mutable state of its own.
type Policy struct {
	cfg PolicyConfig
}

func NewPolicy(cfg PolicyConfig) *Policy {
	def := DefaultPolicyConfig()
	if cfg.TerminalDelay <= 0 {
		cfg.TerminalDelay = def.TerminalDelay
	}
	if cfg.PreTransitDelay <= 0 {
		cfg.PreTransitDelay = def.PreTransitDelay
	}
	if cfg.PickedUpDelay <= 0 {
		cfg.PickedUpDelay = def.PickedUpDelay
	}
	if cfg.InTransitDelay <= 0 {
		cfg.InTransitDelay = def.InTransitDelay
	}
	if cfg.OutForDeliveryDelay <= 0 {
		cfg.OutForDeliveryDelay = def.OutForDeliveryDelay
	}
	if cfg.ExceptionDelay <= 0 {
		cfg.ExceptionDelay = def.ExceptionDelay
	}
	if cfg.UnknownDelay <= 0 {
		cfg.UnknownDelay = def.UnknownDelay
	}
	if cfg.NearDeliveryWindow <= 0 {
		cfg.NearDeliveryWindow = def.NearDeliveryWindow
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	return &Policy{cfg: cfg}
}

func DefaultPolicy() *Policy {
	return NewPolicy(DefaultPolicyConfig())
}

// NextUpdateDelay returns how long to wait before polling the shipment
// again. Terminal statuses get a delay long enough that polling
// effectively stops. The interval shrinks as the estimated delivery date
// approaches and stretches for shipments that keep failing.
func (p *Policy) NextUpdateDelay(status string, lastUpdate time.Time, consecutiveFailures int32, estimatedDelivery *time.Time) time.Duration {
	if models.IsTerminalStatus(status) {
		return p.cfg.TerminalDelay
	}

	var d time.Duration
	switch status {
	case models.ShipmentStatusPending, models.ShipmentStatusInfoReceived:
		d = p.cfg.PreTransitDelay
	case models.ShipmentStatusPickedUp:
		d = p.cfg.PickedUpDelay
	case models.ShipmentStatusInTransit:
		d = p.cfg.InTransitDelay
	case models.ShipmentStatusOutForDelivery:
		d = p.cfg.OutForDeliveryDelay
	case models.ShipmentStatusException:
		d = p.cfg.ExceptionDelay
	default:
		d = p.cfg.UnknownDelay
	}

	if estimatedDelivery != nil {
		until := estimatedDelivery.Sub(lastUpdate)
		if until > 0 && until <= p.cfg.NearDeliveryWindow {
			d /= 2
		}
	}

	// Flaky shipments get polled less aggressively, capped at 4x.
	if consecutiveFailures > 0 {
		mult := time.Duration(consecutiveFailures + 1)
		if mult > 4 {
			mult = 4
		}
		d *= mult
	}

	return d
}

// RetryDelay converts an attempt number into a backoff delay. Stepped,
// monotonically non-decreasing, capped at Backoff4.
func (p *Policy) RetryDelay(attempt int32) time.Duration {
	switch {
	case attempt <= 1:
		return p.cfg.Backoff1
	case attempt == 2:
		return p.cfg.Backoff2
	case attempt == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}

package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SchedulerConfig controls the background sweep and the borrower standing
// policy it enforces.
type SchedulerConfig struct {
	Interval              time.Duration   // SWEEP_INTERVAL
	BatchSize             int             // SWEEP_BATCH_SIZE, rows per sweep phase
	PickupReminderLead    time.Duration   // PICKUP_REMINDER_LEAD before pickup_date
	ReturnReminderOffsets []time.Duration // RETURN_REMINDER_OFFSETS after expected_return_date, one per level
	RestrictionThreshold  int             // RESTRICTION_THRESHOLD late returns on record
	WarningThreshold      int             // RESTRICTION_WARNING_THRESHOLD late returns, 0 disables
	RestrictionPeriod     time.Duration   // RESTRICTION_PERIOD
	OutboxRelayInterval   time.Duration   // OUTBOX_RELAY_INTERVAL
}

// LoadSchedulerConfig reads the sweep settings, falling back to defaults.
func LoadSchedulerConfig() (SchedulerConfig, error) {
	cfg := SchedulerConfig{
		Interval:             envDur("SWEEP_INTERVAL", 5*time.Minute),
		BatchSize:            envInt("SWEEP_BATCH_SIZE", 200),
		PickupReminderLead:   envDur("PICKUP_REMINDER_LEAD", 24*time.Hour),
		RestrictionThreshold: envInt("RESTRICTION_THRESHOLD", 3),
		WarningThreshold:     envInt("RESTRICTION_WARNING_THRESHOLD", 2),
		RestrictionPeriod:    envDur("RESTRICTION_PERIOD", 30*24*time.Hour),
		OutboxRelayInterval:  envDur("OUTBOX_RELAY_INTERVAL", 2*time.Second),
	}
	offsets, err := ParseOffsets(envStr("RETURN_REMINDER_OFFSETS", "0s,72h"))
	if err != nil {
		return SchedulerConfig{}, err
	}
	cfg.ReturnReminderOffsets = offsets
	if cfg.Interval <= 0 {
		return SchedulerConfig{}, fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.RestrictionThreshold < 1 {
		return SchedulerConfig{}, fmt.Errorf("RESTRICTION_THRESHOLD must be at least 1")
	}
	if cfg.WarningThreshold < 0 || cfg.WarningThreshold >= cfg.RestrictionThreshold {
		cfg.WarningThreshold = 0
	}
	return cfg, nil
}

// ParseOffsets parses a comma separated list of non-negative durations and
// returns them in ascending order.
func ParseOffsets(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("invalid reminder offset %q: %w", p, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("reminder offset %q is negative", p)
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

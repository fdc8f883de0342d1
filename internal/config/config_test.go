package config

import "testing"

func TestHistorySizeClampedToMinSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.MinSamples = 20
	cfg.Detection.HistorySize = 12
	applyDefaults(cfg)
	if cfg.Detection.HistorySize < cfg.Detection.MinSamples {
		t.Fatalf("history_size = %d stayed below min_samples = %d",
			cfg.Detection.HistorySize, cfg.Detection.MinSamples)
	}
}

func TestHistorySizeDefaulted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.HistorySize = 0
	applyDefaults(cfg)
	if cfg.Detection.HistorySize != 12 {
		t.Fatalf("history_size = %d, want default 12", cfg.Detection.HistorySize)
	}
}

func TestValidateRejectsUnorderedBreakpoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.Tier2Points = cfg.Detection.Tier3Points
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for non-increasing breakpoints")
	}
}

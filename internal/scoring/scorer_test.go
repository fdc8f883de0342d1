package scoring

import (
	"reflect"
	"testing"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

func detectionConfig() config.DetectionConfig {
	return config.DefaultConfig().Detection
}

func healthySample(subject string) model.Sample {
	return model.Sample{
		SubjectID: subject,
		HeartRate: 72,
		SpO2:      98,
		Activity:  55,
		Recovery:  80,
	}
}

func TestHealthySampleScoresTierNone(t *testing.T) {
	cfg := detectionConfig()
	res := Score(cfg, healthySample("s1"), nil)
	if res.Tier != model.TierNone {
		t.Fatalf("expected tier none, got %d", res.Tier)
	}
	if res.Points != 0 {
		t.Fatalf("expected zero points, got %d", res.Points)
	}
	if len(res.Signals) != 0 {
		t.Fatalf("expected no signals, got %v", res.Signals)
	}
}

func TestSixPointsIsCritical(t *testing.T) {
	cfg := detectionConfig()
	s := healthySample("s1")
	s.SpO2 = 88      // low_oxygen, 3 pts
	s.HeartRate = 130 // high_heart_rate, 2 pts
	s.Recovery = 20   // poor_recovery, 1 pt
	res := Score(cfg, s, nil)
	if res.Points != 6 {
		t.Fatalf("expected 6 points, got %d", res.Points)
	}
	if res.Tier != model.TierCritical {
		t.Fatalf("expected critical tier, got %d", res.Tier)
	}
	want := []string{"low_oxygen", "high_heart_rate", "poor_recovery"}
	if !reflect.DeepEqual(res.TopContributors, want) {
		t.Fatalf("contributors = %v, want %v", res.TopContributors, want)
	}
}

func TestTierBreakpoints(t *testing.T) {
	cfg := detectionConfig()

	s := healthySample("s1")
	s.Recovery = 20 // 1 pt
	if res := Score(cfg, s, nil); res.Tier != model.TierLow {
		t.Fatalf("1 point should be tier low, got %d", res.Tier)
	}

	s = healthySample("s1")
	s.HeartRate = 130 // 2 pts
	s.Recovery = 20   // 1 pt
	if res := Score(cfg, s, nil); res.Tier != model.TierModerate {
		t.Fatalf("3 points should be tier moderate, got %d", res.Tier)
	}

	s = healthySample("s1")
	s.SpO2 = 88       // 3 pts
	s.HeartRate = 130 // 2 pts
	if res := Score(cfg, s, nil); res.Tier != model.TierCritical {
		t.Fatalf("5 points should be tier critical, got %d", res.Tier)
	}
}

func TestFlaggedVitalsDeduplicated(t *testing.T) {
	cfg := detectionConfig()
	hist := make([]model.Sample, 3)
	for i := range hist {
		hist[i] = healthySample("s1")
		hist[i].HeartRate = 130
	}
	s := healthySample("s1")
	s.HeartRate = 130 // high_heart_rate and sustained_hr_spike both flag heart_rate
	res := Score(cfg, s, hist)
	count := 0
	for _, v := range res.FlaggedVitals {
		if v == "heart_rate" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("heart_rate flagged %d times, want 1", count)
	}
}

func TestSustainedSpikeNeedsConsecutiveRun(t *testing.T) {
	cfg := detectionConfig()
	cfg.SustainedSpikeCount = 4

	elevated := healthySample("s1")
	elevated.HeartRate = 110 // above sustained threshold, below max

	// Two elevated history samples plus latest: run of 3, not enough.
	hist := []model.Sample{elevated, elevated}
	if res := Score(cfg, elevated, hist); hasSignal(res, "sustained_hr_spike") {
		t.Fatalf("run of 3 should not fire sustained_hr_spike")
	}

	// A normal reading in the middle of the tail breaks the run.
	hist = []model.Sample{elevated, healthySample("s1"), elevated, elevated}
	if res := Score(cfg, elevated, hist); hasSignal(res, "sustained_hr_spike") {
		t.Fatalf("broken run should not fire sustained_hr_spike")
	}

	hist = []model.Sample{elevated, elevated, elevated}
	res := Score(cfg, elevated, hist)
	if !hasSignal(res, "sustained_hr_spike") {
		t.Fatalf("expected sustained_hr_spike after 4 consecutive elevated samples")
	}
	if res.Tier != model.TierLow {
		t.Fatalf("sustained spike alone should be tier low, got %d", res.Tier)
	}
}

func TestTitleNamesDominantSignal(t *testing.T) {
	cfg := detectionConfig()
	s := healthySample("s1")
	s.SpO2 = 85
	res := Score(cfg, s, nil)
	if res.Title != "Moderate: blood oxygen below safe range" {
		t.Fatalf("unexpected title %q", res.Title)
	}
	if res.Message == "" {
		t.Fatalf("expected message text")
	}
}

func hasSignal(res model.ScoreResult, label string) bool {
	for _, h := range res.Signals {
		if h.Label == label {
			return true
		}
	}
	return false
}

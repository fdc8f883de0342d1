package scoring

import (
	"sort"
	"strings"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

// signal is one independently triggered scoring rule. Declaration order
// breaks ties when ranking contributors.
type signal struct {
	label    string
	points   int
	vitals   []string
	describe string
	fires    func(cfg config.DetectionConfig, latest model.Sample, history []model.Sample) bool
}

var signals = []signal{
	{
		label:    "low_oxygen",
		points:   3,
		vitals:   []string{"spo2"},
		describe: "blood oxygen below safe range",
		fires: func(cfg config.DetectionConfig, latest model.Sample, _ []model.Sample) bool {
			return latest.SpO2 > 0 && latest.SpO2 < cfg.SpO2Min
		},
	},
	{
		label:    "high_heart_rate",
		points:   2,
		vitals:   []string{"heart_rate"},
		describe: "heart rate above safe range",
		fires: func(cfg config.DetectionConfig, latest model.Sample, _ []model.Sample) bool {
			return latest.HeartRate > cfg.HeartRateMax
		},
	},
	{
		label:    "sustained_hr_spike",
		points:   2,
		vitals:   []string{"heart_rate"},
		describe: "sustained heart rate spike",
		fires:    sustainedSpike,
	},
	{
		label:    "poor_recovery",
		points:   1,
		vitals:   []string{"recovery"},
		describe: "recovery score below baseline",
		fires: func(cfg config.DetectionConfig, latest model.Sample, _ []model.Sample) bool {
			return latest.Recovery > 0 && latest.Recovery < cfg.RecoveryMin
		},
	},
	{
		label:    "low_activity",
		points:   1,
		vitals:   []string{"activity"},
		describe: "activity level below baseline",
		fires: func(cfg config.DetectionConfig, latest model.Sample, _ []model.Sample) bool {
			return latest.Activity >= 0 && latest.Activity < cfg.ActivityMin
		},
	},
}

// sustainedSpike fires when the latest sample and the preceding samples
// form a run of SustainedSpikeCount consecutive readings above the
// sustained threshold. History arrives oldest first, latest excluded.
func sustainedSpike(cfg config.DetectionConfig, latest model.Sample, history []model.Sample) bool {
	need := cfg.SustainedSpikeCount
	if need <= 0 {
		return false
	}
	if latest.HeartRate <= cfg.SustainedHRThreshold {
		return false
	}
	run := 1
	for i := len(history) - 1; i >= 0 && run < need; i-- {
		if history[i].HeartRate <= cfg.SustainedHRThreshold {
			break
		}
		run++
	}
	return run >= need
}

// Score maps one sample plus its recent history to a tier verdict.
// Pure: no clock, no store, no side effects.
func Score(cfg config.DetectionConfig, latest model.Sample, history []model.Sample) model.ScoreResult {
	var hits []model.SignalHit
	points := 0
	for _, sig := range signals {
		if !sig.fires(cfg, latest, history) {
			continue
		}
		hits = append(hits, model.SignalHit{Label: sig.label, Points: sig.points, Vitals: sig.vitals})
		points += sig.points
	}

	result := model.ScoreResult{Points: points, Tier: tierFor(cfg, points), Signals: hits}
	if result.Tier == model.TierNone {
		return result
	}

	result.TopContributors = topContributors(hits, 3)
	result.FlaggedVitals = flaggedVitals(hits)
	result.Title, result.Message = describe(result.Tier, hits)
	return result
}

func tierFor(cfg config.DetectionConfig, points int) model.Tier {
	switch {
	case points >= cfg.Tier3Points:
		return model.TierCritical
	case points >= cfg.Tier2Points:
		return model.TierModerate
	case points >= cfg.Tier1Points:
		return model.TierLow
	}
	return model.TierNone
}

func topContributors(hits []model.SignalHit, n int) []string {
	ranked := make([]model.SignalHit, len(hits))
	copy(ranked, hits)
	// Stable keeps declaration order for equal point values.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Points > ranked[j].Points
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, 0, len(ranked))
	for _, h := range ranked {
		out = append(out, h.Label)
	}
	return out
}

func flaggedVitals(hits []model.SignalHit) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		for _, v := range h.Vitals {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func describe(tier model.Tier, hits []model.SignalHit) (string, string) {
	dominant := hits[0]
	for _, h := range hits[1:] {
		if h.Points > dominant.Points {
			dominant = h
		}
	}
	var dominantText string
	var parts []string
	for _, sig := range signals {
		for _, h := range hits {
			if h.Label != sig.label {
				continue
			}
			parts = append(parts, sig.describe)
			if sig.label == dominant.Label {
				dominantText = sig.describe
			}
		}
	}
	severity := tier.Severity()
	title := strings.ToUpper(severity[:1]) + severity[1:] + ": " + dominantText
	return title, "Detected " + strings.Join(parts, "; ")
}

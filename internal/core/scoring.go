package core

import (
	"strings"
)

// ScoringWeights holds the per-signal contributions to a sender score.
type ScoringWeights struct {
	ListUnsubscribe float64
	SenderPattern   float64
	PrecedenceBulk  float64
	HighVolume      float64
	Promotions      float64
}

// ClassThresholds holds the lower score bound of each classification bucket.
type ClassThresholds struct {
	Newsletter       float64
	LikelyNewsletter float64
	Uncertain        float64
}

// Scorer turns aggregated sender signals into a score and classification.
// Scoring is a pure function of the signals, so identical inputs always
// produce identical outputs.
type Scorer struct {
	weights             ScoringWeights
	patterns            []string
	highVolumeThreshold int
	thresholds          ClassThresholds
}

// NewScorer creates a scorer. Patterns are matched case-insensitively as
// prefixes of the address local part.
func NewScorer(weights ScoringWeights, patterns []string, highVolumeThreshold int, thresholds ClassThresholds) *Scorer {
	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			normalized = append(normalized, p)
		}
	}
	return &Scorer{
		weights:             weights,
		patterns:            normalized,
		highVolumeThreshold: highVolumeThreshold,
		thresholds:          thresholds,
	}
}

// MatchesAutomatedPattern reports whether the local part of email starts
// with one of the configured automated-sender prefixes.
func (s *Scorer) MatchesAutomatedPattern(email string) bool {
	local := strings.ToLower(email)
	if idx := strings.Index(local, "@"); idx >= 0 {
		local = local[:idx]
	}
	for _, p := range s.patterns {
		if strings.HasPrefix(local, p) {
			return true
		}
	}
	return false
}

// IsHighVolume reports whether count meets the high-volume threshold.
func (s *Scorer) IsHighVolume(count int) bool {
	return count >= s.highVolumeThreshold
}

// Score computes the weighted sum of the active signals, clamped to [0, 1].
// Each signal only ever adds, so enabling a signal never lowers the score.
func (s *Scorer) Score(signals SenderSignals) float64 {
	score := 0.0
	if signals.HasListUnsubscribe {
		score += s.weights.ListUnsubscribe
	}
	if signals.IsAutomatedPattern {
		score += s.weights.SenderPattern
	}
	if signals.HasPrecedenceBulk {
		score += s.weights.PrecedenceBulk
	}
	if signals.IsHighVolume {
		score += s.weights.HighVolume
	}
	if signals.IsPromotionsCategory {
		score += s.weights.Promotions
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Classify maps a score to its classification bucket.
func (s *Scorer) Classify(score float64) Classification {
	switch {
	case score >= s.thresholds.Newsletter:
		return ClassNewsletter
	case score >= s.thresholds.LikelyNewsletter:
		return ClassLikelyNewsletter
	case score >= s.thresholds.Uncertain:
		return ClassUncertain
	default:
		return ClassPersonal
	}
}

// Grade fills in the derived signals, score and classification of a profile.
func (s *Scorer) Grade(p *SenderProfile) {
	p.Signals.IsAutomatedPattern = s.MatchesAutomatedPattern(p.Email)
	p.Signals.IsHighVolume = s.IsHighVolume(p.MessageCount)
	p.Score = s.Score(p.Signals)
	p.Classification = s.Classify(p.Score)
}

// UncertainThreshold exposes the floor below which senders are considered
// personal. The cleanup flow never proposes senders under this bound.
func (s *Scorer) UncertainThreshold() float64 {
	return s.thresholds.Uncertain
}

// Package consensus decides whether a debate terminates and why.
package consensus

import (
	"math"
	"time"

	"github.com/altwn/consilium/internal/core"
)

// Input is everything one termination decision depends on. The detector is a
// pure function of this value; the caller supplies the clock.
type Input struct {
	RoundNumber   int
	Distribution  map[string]int
	AvgConfidence float64
	// PrevAvgConfidence is nil when there is no previous round.
	PrevAvgConfidence *float64
	Deadline          *time.Time
	Now               time.Time
	AdminResolved     bool
}

// Config holds the thresholds for the decision.
type Config struct {
	MaxRounds          int
	ConsensusThreshold float64
	StabilityThreshold float64
}

// Verdict is the detector's output.
type Verdict struct {
	Terminate      bool
	Reason         core.TerminationReason
	ConsensusScore float64
}

// minStalemateRound is the first round at which confidence stability can
// terminate a debate; earlier rounds have not had room to move yet.
const minStalemateRound = 3

// Score computes the consensus score: the majority position's share of all
// position votes. An empty distribution scores zero.
func Score(distribution map[string]int) float64 {
	total := 0
	max := 0
	for _, n := range distribution {
		total += n
		if n > max {
			max = n
		}
	}
	if total == 0 {
		return 0
	}
	return float64(max) / float64(total)
}

// Evaluate applies the termination rules in strict priority order; the first
// match wins. Administrative and temporal constraints are absolute and
// short-circuit any content-based reasoning about agreement.
func Evaluate(in Input, cfg Config) Verdict {
	score := Score(in.Distribution)

	if in.AdminResolved {
		return Verdict{Terminate: true, Reason: core.ReasonAdminResolved, ConsensusScore: score}
	}

	if in.Deadline != nil && !in.Now.Before(*in.Deadline) {
		return Verdict{Terminate: true, Reason: core.ReasonDeadline, ConsensusScore: score}
	}

	if in.RoundNumber >= cfg.MaxRounds {
		return Verdict{Terminate: true, Reason: core.ReasonMaxRounds, ConsensusScore: score}
	}

	if score >= cfg.ConsensusThreshold {
		return Verdict{Terminate: true, Reason: core.ReasonConsensus, ConsensusScore: score}
	}

	if in.RoundNumber >= minStalemateRound && in.PrevAvgConfidence != nil {
		if math.Abs(in.AvgConfidence-*in.PrevAvgConfidence) < cfg.StabilityThreshold {
			return Verdict{Terminate: true, Reason: core.ReasonStalemate, ConsensusScore: score}
		}
	}

	return Verdict{Terminate: false, ConsensusScore: score}
}

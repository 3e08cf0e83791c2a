package main

import (
	"math"
	"time"
)

// ScoreValidator bounds the maximum plausible score for an elapsed session
// duration under the game's pacing constants. The bound is a soft ceiling
// that rounds in the player's favor: honest fast play must never be
// rejected, while scores requiring super-human or time-manipulated input
// must be.
//
// The constants are versioned together with the client's timing
// configuration; a mismatch is a correctness bug, not a security one.
type ScoreValidator struct {
	SpawnInterval       float64 // seconds between scoring opportunities
	InitialDelay        float64 // seconds before the first opportunity
	LatencyBuffer       float64 // tolerance for network/render lag, seconds
	SmallScoreExemption int64   // scores at or below this are never rejected
}

// defaultValidator matches client timing config v1.
var defaultValidator = ScoreValidator{
	SpawnInterval:       1.5,
	InitialDelay:        2.0,
	LatencyBuffer:       0.8,
	SmallScoreExemption: 3,
}

// MaxPlausibleScore returns the highest score reachable within elapsed time.
// Before the first spawn the bound is zero.
func (v ScoreValidator) MaxPlausibleScore(elapsed time.Duration) int64 {
	netTime := elapsed.Seconds() - v.InitialDelay
	if netTime <= 0 {
		return 0
	}
	return int64(math.Floor((netTime+v.LatencyBuffer)/v.SpawnInterval)) + 1
}

// Validate reports whether a submitted score is plausible for the elapsed
// duration. Trivially low scores pass regardless of the bound, so timing
// noise around session start cannot produce false rejections.
func (v ScoreValidator) Validate(elapsed time.Duration, score int64) bool {
	return !(score > v.MaxPlausibleScore(elapsed) && score > v.SmallScoreExemption)
}

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaxPlausibleScore(t *testing.T) {
	v := ScoreValidator{SpawnInterval: 1.5, InitialDelay: 2.0, LatencyBuffer: 0.8, SmallScoreExemption: 3}

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int64
	}{
		{"before first spawn", 1 * time.Second, 0},
		{"exactly at initial delay", 2 * time.Second, 0},
		{"just after initial delay", 2100 * time.Millisecond, 1},
		{"ten point three seconds", 10300 * time.Millisecond, 7},
		{"one minute", time.Minute, 40},
		{"zero elapsed", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.MaxPlausibleScore(tt.elapsed))
		})
	}
}

func TestValidate(t *testing.T) {
	v := ScoreValidator{SpawnInterval: 1.5, InitialDelay: 2.0, LatencyBuffer: 0.8, SmallScoreExemption: 3}

	tests := []struct {
		name    string
		elapsed time.Duration
		score   int64
		want    bool
	}{
		{"score at the bound", 10300 * time.Millisecond, 7, true},
		{"score below the bound", 10300 * time.Millisecond, 5, true},
		{"score above the bound", 10300 * time.Millisecond, 20, false},
		{"zero score always passes", 0, 0, true},
		{"small score exempt despite zero bound", 1 * time.Second, 2, true},
		{"exemption boundary passes", 1 * time.Second, 3, true},
		{"above exemption with zero bound fails", 1 * time.Second, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Validate(tt.elapsed, tt.score))
		})
	}
}

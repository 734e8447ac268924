package sync

import (
	"testing"
	"time"
)

func TestRetryDelay(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.attempt, base, max, 0); got != tt.want {
			t.Errorf("RetryDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryDelayJitterStaysUnderCap(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := RetryDelay(10, time.Second, 30*time.Second, 0.5)
		if d > 30*time.Second {
			t.Fatalf("jittered delay %s exceeds cap", d)
		}
		if d < 30*time.Second {
			t.Fatalf("capped delay %s dropped below cap", d)
		}
	}
	d := RetryDelay(1, time.Second, time.Minute, 0.5)
	if d < 2*time.Second || d > 3*time.Second {
		t.Errorf("jittered delay %s outside [2s, 3s]", d)
	}
}

func TestInCooldown(t *testing.T) {
	interval := time.Minute
	tests := []struct {
		name     string
		failures int
		since    time.Duration
		want     bool
	}{
		{"no failures", 0, 0, false},
		{"below threshold", 2, 0, false},
		{"at threshold, just failed", 3, 30 * time.Second, true},
		{"at threshold, one cycle later", 3, interval + time.Second, true},
		{"at threshold, past 2x window", 3, 2*interval + time.Second, false},
		{"fourth failure doubles window", 4, 3 * interval, true},
		{"fourth failure past 4x window", 4, 4*interval + time.Second, false},
		{"runaway failures hit the cap", 50, 31 * interval, true},
		{"runaway failures past the cap", 50, 32*interval + time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InCooldown(tt.failures, tt.since, interval, 3, 32)
			if got != tt.want {
				t.Errorf("InCooldown(%d, %s) = %v, want %v", tt.failures, tt.since, got, tt.want)
			}
		})
	}
}

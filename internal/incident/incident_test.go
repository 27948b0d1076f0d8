package incident

import "testing"

func TestDetermineStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		signalCount int
		confidence  float64
		severity    Severity
		want        Status
	}{
		{"high confidence high severity well corroborated", 3, 0.85, SeverityHigh, StatusConfirm},
		{"confirm at exact boundary", 3, 0.8, SeverityHigh, StatusConfirm},
		{"just below confirm confidence", 3, 0.79, SeverityHigh, StatusAlert},
		{"confirm needs high severity", 3, 0.9, SeverityMedium, StatusAlert},
		{"confirm needs three signals", 2, 0.9, SeverityHigh, StatusAlert},
		{"alert at exact boundary", 2, 0.6, SeverityLow, StatusAlert},
		{"just below alert confidence", 2, 0.59, SeverityLow, StatusMonitor},
		{"alert needs two signals", 1, 0.95, SeverityHigh, StatusMonitor},
		{"weak evidence", 1, 0.3, SeverityLow, StatusMonitor},
		{"zero signals", 0, 0.9, SeverityHigh, StatusMonitor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := DetermineStatus(tt.signalCount, tt.confidence, tt.severity)
			if got != tt.want {
				t.Errorf("DetermineStatus(%d, %v, %s) = %s, want %s",
					tt.signalCount, tt.confidence, tt.severity, got, tt.want)
			}
		})
	}
}

func TestClampConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want float64
	}{
		{0.5, 0.5},
		{0, 0},
		{1, 1},
		{1.15, 1},   // 0.95 raw + 0.20 bonus overflows, clamp to 1
		{-0.05, 0},  // lone-signal penalty can push below zero
		{-0.5, 0},
		{2.0, 1},
	}

	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package signal

import "testing"

func TestIsNoise(t *testing.T) {
	t.Parallel()

	tests := []struct {
		eventType string
		want      bool
	}{
		{EventFlood, false},
		{EventEarthquake, false},
		{EventOther, true},
		{EventNoise, true},
		{"", false},
	}
	for _, tt := range tests {
		s := Signal{EventType: tt.eventType}
		if got := s.IsNoise(); got != tt.want {
			t.Errorf("IsNoise(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestHasCoordinates(t *testing.T) {
	t.Parallel()

	lat, lng := -6.2, 106.8
	tests := []struct {
		name string
		sig  Signal
		want bool
	}{
		{"both set", Signal{Latitude: &lat, Longitude: &lng}, true},
		{"lat only", Signal{Latitude: &lat}, false},
		{"lng only", Signal{Longitude: &lng}, false},
		{"neither", Signal{}, false},
	}
	for _, tt := range tests {
		if got := tt.sig.HasCoordinates(); got != tt.want {
			t.Errorf("%s: HasCoordinates = %v, want %v", tt.name, got, tt.want)
		}
	}
}

package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReverseGeocode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("path = %q, want /reverse", r.URL.Path)
		}
		if got := r.URL.Query().Get("lat"); got != "-6.2" {
			t.Errorf("lat = %q, want -6.2", got)
		}
		if got := r.URL.Query().Get("format"); got != "jsonv2" {
			t.Errorf("format = %q, want jsonv2", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"address":{"city":"Jakarta","state":"DKI Jakarta"},"display_name":"Jakarta, Indonesia"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	city, err := c.ReverseGeocode(context.Background(), -6.2, 106.8)
	if err != nil {
		t.Fatalf("ReverseGeocode: %v", err)
	}
	if city != "Jakarta" {
		t.Errorf("city = %q, want Jakarta", city)
	}
}

func TestReverseGeocodeFallbackFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"town", `{"address":{"town":"Palu"}}`, "Palu"},
		{"county over state", `{"address":{"county":"Sleman","state":"Yogyakarta"}}`, "Sleman"},
		{"display name", `{"display_name":"Cianjur, West Java, Indonesia"}`, "Cianjur"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tc.body)) //nolint:errcheck
			}))
			defer srv.Close()

			city, err := NewClient(srv.URL).ReverseGeocode(context.Background(), 0, 0)
			if err != nil {
				t.Fatalf("ReverseGeocode: %v", err)
			}
			if city != tc.want {
				t.Errorf("city = %q, want %q", city, tc.want)
			}
		})
	}
}

func TestReverseGeocodeErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"invalid json", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("<html>not json</html>")) //nolint:errcheck
		}},
		{"empty address", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"address":{}}`)) //nolint:errcheck
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			if _, err := NewClient(srv.URL).ReverseGeocode(context.Background(), 0, 0); err == nil {
				t.Error("ReverseGeocode succeeded, want error")
			}
		})
	}
}

package geo

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestMaps(t *testing.T, h http.HandlerFunc) *GoogleMaps {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGoogleMaps("test-key", WithBaseURL(srv.URL))
}

func TestGeocode_Success(t *testing.T) {
	t.Parallel()

	g := newTestMaps(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/maps/api/geocode/json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("address"); got != "Mumbai" {
			t.Errorf("address = %q, want Mumbai", got)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q, want test-key", got)
		}
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"geometry":{"location":{"lat":19.076,"lng":72.8777}}}]}`))
	})

	p, ok, err := g.Geocode(context.Background(), "Mumbai")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Lat != 19.076 || p.Lon != 72.8777 {
		t.Errorf("point = %+v", p)
	}
}

func TestGeocode_NoResults(t *testing.T) {
	t.Parallel()

	g := newTestMaps(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	_, ok, err := g.Geocode(context.Background(), "Atlantis")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if ok {
		t.Error("expected no match")
	}
}

func TestGeocode_HTTPError(t *testing.T) {
	t.Parallel()

	g := newTestMaps(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	})

	_, _, err := g.Geocode(context.Background(), "Delhi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want status code", err)
	}
}

func TestGeocode_MissingKey(t *testing.T) {
	t.Parallel()

	g := NewGoogleMaps("")
	if _, _, err := g.Geocode(context.Background(), "Delhi"); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestFindShelters_CapsResults(t *testing.T) {
	t.Parallel()

	g := newTestMaps(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("radius"); got != "15000" {
			t.Errorf("radius = %q, want 15000", got)
		}
		type res struct {
			Name     string `json:"name"`
			PlaceID  string `json:"place_id"`
			Geometry struct {
				Location mapsLatLng `json:"location"`
			} `json:"geometry"`
		}
		out := struct {
			Status  string `json:"status"`
			Results []res  `json:"results"`
		}{Status: "OK"}
		for i := range 15 {
			var r res
			r.Name = "school-" + string(rune('a'+i))
			r.PlaceID = "pid"
			r.Geometry.Location = mapsLatLng{Lat: 10, Lng: 20}
			out.Results = append(out.Results, r)
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	shelters, err := g.FindShelters(context.Background(), Point{Lat: 10, Lon: 20}, 15000)
	if err != nil {
		t.Fatalf("FindShelters: %v", err)
	}
	if len(shelters) != maxShelterResults {
		t.Fatalf("len = %d, want %d", len(shelters), maxShelterResults)
	}
	if shelters[0].Name != "school-a" {
		t.Errorf("first = %q, want school-a", shelters[0].Name)
	}
}

func TestEstimateRoute(t *testing.T) {
	t.Parallel()

	g := newTestMaps(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("origin"); got != "1.5,2.5" {
			t.Errorf("origin = %q", got)
		}
		_, _ = w.Write([]byte(`{"status":"OK","routes":[{"overview_polyline":{"points":"abc"},"legs":[{"distance":{"value":1200},"duration":{"value":300}}]}]}`))
	})

	route, err := g.EstimateRoute(context.Background(), Point{Lat: 1.5, Lon: 2.5}, Point{Lat: 1.6, Lon: 2.6})
	if err != nil {
		t.Fatalf("EstimateRoute: %v", err)
	}
	if route.DistanceMeters != 1200 || route.DurationSeconds != 300 || route.Polyline != "abc" {
		t.Errorf("route = %+v", route)
	}
}

func TestEstimateRoute_NoRoutes(t *testing.T) {
	t.Parallel()

	g := newTestMaps(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","routes":[]}`))
	})

	if _, err := g.EstimateRoute(context.Background(), Point{}, Point{Lat: 1, Lon: 1}); err == nil {
		t.Fatal("expected error for empty routes")
	}
}

func TestGoogleMaps_ErrorStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []string{"REQUEST_DENIED", "OVER_QUERY_LIMIT", "INVALID_REQUEST", ""} {
		t.Run("status="+status, func(t *testing.T) {
			t.Parallel()

			g := newTestMaps(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":"` + status + `","results":[]}`))
			})

			_, ok, err := g.Geocode(context.Background(), "Delhi")
			if err == nil || ok {
				t.Errorf("Geocode ok=%v err=%v, want error", ok, err)
			} else if !strings.Contains(err.Error(), status) {
				t.Errorf("Geocode error = %v, want status %q", err, status)
			}

			if _, err := g.FindShelters(context.Background(), Point{Lat: 10, Lon: 20}, 15000); err == nil {
				t.Error("FindShelters: expected error")
			}
		})
	}
}

func TestFindShelters_ZeroResults(t *testing.T) {
	t.Parallel()

	g := newTestMaps(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	shelters, err := g.FindShelters(context.Background(), Point{Lat: 10, Lon: 20}, 15000)
	if err != nil {
		t.Fatalf("FindShelters: %v", err)
	}
	if len(shelters) != 0 {
		t.Errorf("shelters = %d, want 0", len(shelters))
	}
}

func TestStaticShelters(t *testing.T) {
	t.Parallel()

	got, err := StaticShelters{}.FindShelters(context.Background(), Point{Lat: 17.385, Lon: 78.4867}, 15000)
	if err != nil {
		t.Fatalf("FindShelters: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Central Shelter" || got[0].Capacity != 200 {
		t.Fatalf("shelters = %+v", got)
	}
	if math.Abs(got[0].Lat-17.395) > 1e-9 {
		t.Errorf("lat = %v, want 17.395", got[0].Lat)
	}
}

func TestStraightLine(t *testing.T) {
	t.Parallel()

	r, err := StraightLine{}.EstimateRoute(context.Background(), Point{Lat: 0, Lon: 0}, Point{Lat: 0, Lon: 1})
	if err != nil {
		t.Fatalf("EstimateRoute: %v", err)
	}
	// one degree of longitude at the equator is ~111.2km
	if r.DistanceMeters < 111000 || r.DistanceMeters > 111400 {
		t.Errorf("distance = %v", r.DistanceMeters)
	}
	if r.DurationSeconds <= 0 {
		t.Error("expected positive duration")
	}

	if _, err := (StraightLine{}).EstimateRoute(context.Background(), Point{Lat: 100}, Point{}); err == nil {
		t.Error("expected error for invalid origin")
	}
}

func TestFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float", 1.5, 1.5, true},
		{"int", 3, 3, true},
		{"json number", json.Number("2.25"), 2.25, true},
		{"string", " 4.5 ", 4.5, true},
		{"bad string", "abc", 0, false},
		{"nan", math.NaN(), 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Float(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Float(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

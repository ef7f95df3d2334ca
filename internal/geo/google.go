package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultMapsBaseURL = "https://maps.googleapis.com"
	geocodeTimeout     = 8 * time.Second
	placesTimeout      = 8 * time.Second
	directionsTimeout  = 10 * time.Second
	maxShelterResults  = 10
	shelterKeyword     = "shelter OR community center OR school"
)

// GoogleMaps resolves places, nearby shelters and driving routes through the
// Google Maps web services.
type GoogleMaps struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// GoogleOption configures a GoogleMaps client.
type GoogleOption func(*GoogleMaps)

// WithBaseURL points the client at a different host, used by tests.
func WithBaseURL(u string) GoogleOption {
	return func(g *GoogleMaps) { g.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(g *GoogleMaps) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// NewGoogleMaps creates a Google Maps client for the given API key.
func NewGoogleMaps(apiKey string, opts ...GoogleOption) *GoogleMaps {
	g := &GoogleMaps{
		apiKey:  apiKey,
		baseURL: defaultMapsBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type mapsLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type mapsGeometry struct {
	Location mapsLatLng `json:"location"`
}

// Geocode returns the first match for a free-text place name. A name with no
// match yields ok=false and a nil error.
func (g *GoogleMaps) Geocode(ctx context.Context, name string) (Point, bool, error) {
	if name == "" {
		return Point{}, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, geocodeTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("address", name)

	var out struct {
		Status  string `json:"status"`
		Results []struct {
			Geometry mapsGeometry `json:"geometry"`
		} `json:"results"`
	}
	if err := g.getJSON(ctx, "/maps/api/geocode/json", q, &out); err != nil {
		return Point{}, false, fmt.Errorf("geocode %q: %w", name, err)
	}
	if err := checkStatus(out.Status); err != nil {
		return Point{}, false, fmt.Errorf("geocode %q: %w", name, err)
	}
	if len(out.Results) == 0 {
		return Point{}, false, nil
	}
	loc := out.Results[0].Geometry.Location
	p := Point{Lat: loc.Lat, Lon: loc.Lng}
	if !p.Valid() {
		return Point{}, false, nil
	}
	return p, true, nil
}

// FindShelters runs a Places nearby search around p and returns at most ten
// candidates in the order Google ranks them.
func (g *GoogleMaps) FindShelters(ctx context.Context, p Point, radiusMeters int) ([]Shelter, error) {
	ctx, cancel := context.WithTimeout(ctx, placesTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("location", latLng(p))
	q.Set("radius", strconv.Itoa(radiusMeters))
	q.Set("keyword", shelterKeyword)

	var out struct {
		Status  string `json:"status"`
		Results []struct {
			Name     string       `json:"name"`
			PlaceID  string       `json:"place_id"`
			Geometry mapsGeometry `json:"geometry"`
		} `json:"results"`
	}
	if err := g.getJSON(ctx, "/maps/api/place/nearbysearch/json", q, &out); err != nil {
		return nil, fmt.Errorf("places nearby search: %w", err)
	}
	if err := checkStatus(out.Status); err != nil {
		return nil, fmt.Errorf("places nearby search: %w", err)
	}

	results := out.Results
	if len(results) > maxShelterResults {
		results = results[:maxShelterResults]
	}
	shelters := make([]Shelter, 0, len(results))
	for _, r := range results {
		shelters = append(shelters, Shelter{
			Name:    r.Name,
			Lat:     r.Geometry.Location.Lat,
			Lon:     r.Geometry.Location.Lng,
			PlaceID: r.PlaceID,
		})
	}
	return shelters, nil
}

// EstimateRoute asks the Directions API for a driving route from origin to dest.
func (g *GoogleMaps) EstimateRoute(ctx context.Context, origin, dest Point) (*Route, error) {
	ctx, cancel := context.WithTimeout(ctx, directionsTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("origin", latLng(origin))
	q.Set("destination", latLng(dest))
	q.Set("mode", "driving")

	var out struct {
		Status string `json:"status"`
		Routes []struct {
			OverviewPolyline struct {
				Points string `json:"points"`
			} `json:"overview_polyline"`
			Legs []struct {
				Distance struct {
					Value float64 `json:"value"`
				} `json:"distance"`
				Duration struct {
					Value float64 `json:"value"`
				} `json:"duration"`
			} `json:"legs"`
		} `json:"routes"`
	}
	if err := g.getJSON(ctx, "/maps/api/directions/json", q, &out); err != nil {
		return nil, fmt.Errorf("directions: %w", err)
	}
	if len(out.Routes) == 0 || len(out.Routes[0].Legs) == 0 {
		return nil, fmt.Errorf("directions: no route (status %s)", out.Status)
	}

	route := out.Routes[0]
	leg := route.Legs[0]
	return &Route{
		DistanceMeters:  leg.Distance.Value,
		DurationSeconds: leg.Duration.Value,
		Polyline:        route.OverviewPolyline.Points,
	}, nil
}

// checkStatus maps the body status of a 200 response. Anything other than
// OK or ZERO_RESULTS (REQUEST_DENIED, OVER_QUERY_LIMIT, ...) is a failure.
func checkStatus(status string) error {
	switch status {
	case "OK", "ZERO_RESULTS":
		return nil
	default:
		return fmt.Errorf("api status %q", status)
	}
}

func (g *GoogleMaps) getJSON(ctx context.Context, path string, q url.Values, dest any) error {
	if g.apiKey == "" {
		return errors.New("google maps api key not configured")
	}
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	u.Path = path
	q.Set("key", g.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := g.httpClient.Do(req) //nolint:gosec // G704: base URL comes from trusted config
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("maps api returned %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func latLng(p Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

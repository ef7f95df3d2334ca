// Package source provides the alert feeds polled by the ingestion loop.
// Each adapter owns the decoding of its own payload shape and hands back
// raw candidates for normalization.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/geo"
)

// Kinds accepted by New.
const (
	KindSimulated   = "simulated"
	KindFeed        = "feed"
	KindOpenWeather = "openweather"
)

const maxBodyBytes = 8 << 20

// Source yields a batch of raw alert candidates per poll.
type Source interface {
	Name() string
	Poll(ctx context.Context) ([]alert.Raw, error)
}

// Gazetteer lists known cities and their coordinates.
type Gazetteer interface {
	Cities() []string
	Lookup(name string) (geo.Point, bool)
}

// Config selects and configures an adapter.
type Config struct {
	Kind              string
	FeedURL           string
	OpenWeatherAPIKey string
	Gazetteer         Gazetteer
	HTTPClient        *http.Client
}

// New builds the adapter named by c.Kind.
func New(c Config) (Source, error) {
	switch c.Kind {
	case "", KindSimulated:
		return NewSimulated(nil), nil
	case KindFeed:
		if c.FeedURL == "" {
			return nil, fmt.Errorf("%s source requires a feed url", KindFeed)
		}
		return NewFeed(c.FeedURL, c.HTTPClient), nil
	case KindOpenWeather:
		if c.OpenWeatherAPIKey == "" {
			return nil, fmt.Errorf("%s source requires an api key", KindOpenWeather)
		}
		if c.Gazetteer == nil {
			return nil, fmt.Errorf("%s source requires a gazetteer", KindOpenWeather)
		}
		return NewOpenWeather(c.OpenWeatherAPIKey, c.Gazetteer, c.HTTPClient), nil
	default:
		return nil, fmt.Errorf("unknown alert source: %q", c.Kind)
	}
}

// feedArrayKeys are the wrapper keys checked, in order, for an alert array.
var feedArrayKeys = []string{"alerts", "data", "results", "items", "payload"}

// DecodeFeed extracts candidates from a JSON document. It accepts a bare
// array, an object carrying the array under one of the wrapper keys, or a
// single alert object. Any other shape yields an empty batch. Non-object
// array elements are dropped.
func DecodeFeed(b []byte) ([]alert.Raw, error) {
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	switch v := doc.(type) {
	case []any:
		return objects(v), nil
	case map[string]any:
		for _, k := range feedArrayKeys {
			if arr, ok := v[k].([]any); ok {
				return objects(arr), nil
			}
		}
		if looksLikeAlert(v) {
			return []alert.Raw{v}, nil
		}
	}
	return []alert.Raw{}, nil
}

func objects(arr []any) []alert.Raw {
	out := make([]alert.Raw, 0, len(arr))
	for _, it := range arr {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func looksLikeAlert(m map[string]any) bool {
	for _, k := range []string{"id", "type", "location"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func fetch(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req) //nolint:gosec // G704: URL comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/linnemanlabs/haven/internal/alert"
)

const (
	defaultOpenWeatherURL = "https://api.openweathermap.org/data/3.0/onecall"
	openWeatherConfidence = 0.9
)

// OpenWeather polls the One Call API for every gazetteer city with
// coordinates and turns each active weather alert into a candidate.
type OpenWeather struct {
	apiKey    string
	baseURL   string
	gazetteer Gazetteer
	client    *http.Client
}

// NewOpenWeather creates an OpenWeather source.
func NewOpenWeather(apiKey string, gaz Gazetteer, client *http.Client) *OpenWeather {
	return &OpenWeather{
		apiKey:    apiKey,
		baseURL:   defaultOpenWeatherURL,
		gazetteer: gaz,
		client:    defaultHTTPClient(client),
	}
}

// Name implements Source.
func (o *OpenWeather) Name() string { return KindOpenWeather }

type oneCallResponse struct {
	Alerts []struct {
		SenderName  string   `json:"sender_name"`
		Event       string   `json:"event"`
		Start       int64    `json:"start"`
		End         int64    `json:"end"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	} `json:"alerts"`
}

// Poll implements Source. A failing city is skipped; the poll only fails
// when every city fails.
func (o *OpenWeather) Poll(ctx context.Context) ([]alert.Raw, error) {
	var (
		out  []alert.Raw
		errs []error
	)
	cities := o.gazetteer.Cities()
	for _, city := range cities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, ok := o.gazetteer.Lookup(city)
		if !ok {
			continue
		}

		q := url.Values{}
		q.Set("lat", strconv.FormatFloat(p.Lat, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(p.Lon, 'f', -1, 64))
		q.Set("exclude", "minutely,hourly,daily")
		q.Set("appid", o.apiKey)

		body, err := fetch(ctx, o.client, o.baseURL+"?"+q.Encode())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", city, err))
			continue
		}
		var resp oneCallResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			errs = append(errs, fmt.Errorf("%s: decode: %w", city, err))
			continue
		}

		for _, a := range resp.Alerts {
			event := a.Event
			if event == "" {
				event = "weather"
			}
			tags := make([]any, 0, len(a.Tags))
			for _, t := range a.Tags {
				tags = append(tags, t)
			}
			raw := alert.Raw{
				"id":         event + "-" + strconv.FormatInt(a.Start, 10),
				"type":       event,
				"location":   city,
				"source":     KindOpenWeather,
				"confidence": openWeatherConfidence,
				"payload": map[string]any{
					"description": a.Description,
					"sender":      a.SenderName,
					"tags":        tags,
					"lat":         p.Lat,
					"lon":         p.Lon,
				},
			}
			if a.Start > 0 {
				raw["time"] = float64(a.Start)
			}
			out = append(out, raw)
		}
	}

	if len(errs) > 0 && len(errs) == len(cities) {
		return nil, fmt.Errorf("poll openweather: %w", errors.Join(errs...))
	}
	return out, nil
}

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vercel/ai-chatbot-sub000/iox"
	"github.com/vercel/ai-chatbot-sub000/provider"
)

// WeatherToolName is the name the model uses to call the weather tool.
const WeatherToolName = "getWeather"

// Open-Meteo endpoints.
const (
	DefaultForecastURL  = "https://api.open-meteo.com/v1/forecast"
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
)

// WeatherConfig configures the weather tool.
type WeatherConfig struct {
	ForecastURL  string
	GeocodingURL string
	Timeout      time.Duration
}

// Weather reports current conditions from Open-Meteo. It accepts either
// coordinates or a city name, which is geocoded first.
type Weather struct {
	config WeatherConfig
	client *http.Client
}

// NewWeather creates the weather tool.
func NewWeather(cfg WeatherConfig) *Weather {
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = DefaultForecastURL
	}
	if cfg.GeocodingURL == "" {
		cfg.GeocodingURL = DefaultGeocodingURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Weather{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type weatherArgs struct {
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// WeatherReport is the tool output.
type WeatherReport struct {
	Temp        float64 `json:"temp"`
	Unit        string  `json:"unit"`
	WindSpeed   float64 `json:"windSpeed"`
	WeatherCode int     `json:"weatherCode"`
	Location    string  `json:"location,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Time        string  `json:"time"`
}

// Definition implements Tool.
func (w *Weather) Definition() provider.ToolDefinition {
	return provider.ToolDefinition{
		Name:        WeatherToolName,
		Description: "Get the current weather for a city or a latitude/longitude pair.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city":      map[string]any{"type": "string", "description": "City name, e.g. Paris"},
				"latitude":  map[string]any{"type": "number"},
				"longitude": map[string]any{"type": "number"},
			},
		},
	}
}

// Call implements Tool.
func (w *Weather) Call(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args weatherArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	report := WeatherReport{Location: args.City}
	switch {
	case args.Latitude != nil && args.Longitude != nil:
		report.Latitude, report.Longitude = *args.Latitude, *args.Longitude
	case args.City != "":
		lat, lon, name, err := w.geocode(ctx, args.City)
		if err != nil {
			return nil, err
		}
		report.Latitude, report.Longitude, report.Location = lat, lon, name
	default:
		return nil, errors.New("either city or latitude and longitude are required")
	}

	var forecast struct {
		Current struct {
			Time        string  `json:"time"`
			Temperature float64 `json:"temperature_2m"`
			WindSpeed   float64 `json:"wind_speed_10m"`
			WeatherCode int     `json:"weather_code"`
		} `json:"current"`
		CurrentUnits struct {
			Temperature string `json:"temperature_2m"`
		} `json:"current_units"`
	}
	q := url.Values{
		"latitude":  {strconv.FormatFloat(report.Latitude, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(report.Longitude, 'f', -1, 64)},
		"current":   {"temperature_2m,wind_speed_10m,weather_code"},
	}
	if err := w.getJSON(ctx, w.config.ForecastURL, q, &forecast); err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}

	report.Temp = forecast.Current.Temperature
	report.Unit = forecast.CurrentUnits.Temperature
	report.WindSpeed = forecast.Current.WindSpeed
	report.WeatherCode = forecast.Current.WeatherCode
	report.Time = forecast.Current.Time
	return json.Marshal(report)
}

func (w *Weather) geocode(ctx context.Context, city string) (lat, lon float64, name string, err error) {
	var result struct {
		Results []struct {
			Name      string  `json:"name"`
			Country   string  `json:"country"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	q := url.Values{"name": {city}, "count": {"1"}, "format": {"json"}}
	if err := w.getJSON(ctx, w.config.GeocodingURL, q, &result); err != nil {
		return 0, 0, "", fmt.Errorf("geocode %q: %w", city, err)
	}
	if len(result.Results) == 0 {
		return 0, 0, "", fmt.Errorf("geocode %q: no match", city)
	}
	r := result.Results[0]
	name = r.Name
	if r.Country != "" {
		name += ", " + r.Country
	}
	return r.Latitude, r.Longitude, name, nil
}

func (w *Weather) getJSON(ctx context.Context, endpoint string, q url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	body, err := iox.ReadCapped(resp.Body, MaxResponseBytes)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// Verify Weather implements Tool.
var _ Tool = (*Weather)(nil)

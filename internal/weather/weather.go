package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/KyleBrandon/hydro-exporter/config"
	"github.com/KyleBrandon/hydro-exporter/internal/sensor"
)

const maxResponseBytes = 1 << 20

type Client struct {
	httpClient  *http.Client
	url         string
	redactedURL string
}

// NewClient builds an OpenWeather client. Every request is bounded by the
// configured timeout so a stalled API can't hang the poll loop.
func NewClient(settings config.OpenWeatherConfig) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: settings.Timeout()},
		url:         buildURL(settings, settings.APIKey),
		redactedURL: buildURL(settings, "REDACTED"),
	}
}

func buildURL(settings config.OpenWeatherConfig, apiKey string) string {
	return fmt.Sprintf("%s?lat=%s&lon=%s&APPID=%s",
		settings.BaseURL(),
		strconv.FormatFloat(*settings.Lat, 'f', -1, 64),
		strconv.FormatFloat(*settings.Lon, 'f', -1, 64),
		url.QueryEscape(apiKey))
}

// Current fetches and validates the current weather.
func (c *Client) Current(ctx context.Context) (Current, error) {
	slog.Debug(">>Current", "url", c.redactedURL)
	defer slog.Debug("<<Current")

	var current Current

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return current, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// keep the api key out of the logs
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = c.redactedURL
		}
		return current, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return current, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return current, err
	}

	slog.Debug("weather response", "body", string(body))

	err = json.Unmarshal(body, &current)
	if err != nil {
		return current, fmt.Errorf("failed to decode weather response: %w", err)
	}

	err = current.Validate()
	if err != nil {
		return current, err
	}

	return current, nil
}

// Validate reports the first field the exporter needs that the response lacks.
func (w *Current) Validate() error {
	switch {
	case w.Main == nil:
		return fmt.Errorf("%w: main", ErrMissingField)
	case w.Main.TempKelvin == nil:
		return fmt.Errorf("%w: main.temp", ErrMissingField)
	case w.Main.Pressure == nil:
		return fmt.Errorf("%w: main.pressure", ErrMissingField)
	case w.Main.Humidity == nil:
		return fmt.Errorf("%w: main.humidity", ErrMissingField)
	case w.Wind == nil || w.Wind.Speed == nil:
		return fmt.Errorf("%w: wind.speed", ErrMissingField)
	case w.Clouds == nil || w.Clouds.All == nil:
		return fmt.Errorf("%w: clouds.all", ErrMissingField)
	case w.Sys == nil || w.Sys.Sunrise == nil:
		return fmt.Errorf("%w: sys.sunrise", ErrMissingField)
	case w.Sys.Sunset == nil:
		return fmt.Errorf("%w: sys.sunset", ErrMissingField)
	}

	return nil
}

// Readings converts a validated response into the exported readings.
func (w *Current) Readings() []sensor.Reading {
	return []sensor.Reading{
		{Name: sensor.READING_WEATHER_TEMP_F, Value: sensor.KelvinToFahrenheit(*w.Main.TempKelvin)},
		{Name: sensor.READING_WEATHER_PRESSURE, Value: *w.Main.Pressure},
		{Name: sensor.READING_WEATHER_HUMIDITY, Value: *w.Main.Humidity},
		{Name: sensor.READING_WEATHER_WIND, Value: *w.Wind.Speed},
		{Name: sensor.READING_WEATHER_CLOUDS, Value: *w.Clouds.All},
		{Name: sensor.READING_WEATHER_SUNRISE, Value: float64(*w.Sys.Sunrise)},
		{Name: sensor.READING_WEATHER_SUNSET, Value: float64(*w.Sys.Sunset)},
	}
}

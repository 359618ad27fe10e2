package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KyleBrandon/hydro-exporter/internal/metrics"
	"github.com/KyleBrandon/hydro-exporter/internal/sensor"
	"github.com/KyleBrandon/hydro-exporter/internal/weather"
)

type mockSensors struct {
	sync.Mutex
	ambient        sensor.AmbientReading
	ambientErr     error
	light          int
	lightErr       error
	reservoir      float64
	reservoirErr   error
	ambientCalls   int
	lightCalls     int
	reservoirCalls int
}

func (m *mockSensors) ReadAmbient() (sensor.AmbientReading, error) {
	m.Lock()
	defer m.Unlock()
	m.ambientCalls++
	return m.ambient, m.ambientErr
}

func (m *mockSensors) ReadLightIntensity() (int, error) {
	m.Lock()
	defer m.Unlock()
	m.lightCalls++
	return m.light, m.lightErr
}

func (m *mockSensors) ReadReservoirTemperature() (float64, error) {
	m.Lock()
	defer m.Unlock()
	m.reservoirCalls++
	return m.reservoir, m.reservoirErr
}

func (m *mockSensors) calls() (int, int, int) {
	m.Lock()
	defer m.Unlock()
	return m.ambientCalls, m.lightCalls, m.reservoirCalls
}

type mockWeather struct {
	current weather.Current
	err     error
	calls   int
}

func (m *mockWeather) Current(ctx context.Context) (weather.Current, error) {
	m.calls++
	return m.current, m.err
}

type mockPublisher struct {
	sync.Mutex
	values     map[string]float64
	readErrors map[string]int
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{
		values:     make(map[string]float64),
		readErrors: make(map[string]int),
	}
}

func (m *mockPublisher) Publish(readings ...sensor.Reading) error {
	m.Lock()
	defer m.Unlock()
	for _, r := range readings {
		m.values[r.Name] = r.Value
	}
	return nil
}

func (m *mockPublisher) RecordReadError(reader string) {
	m.Lock()
	defer m.Unlock()
	m.readErrors[reader]++
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func ptr[T any](v T) *T {
	return &v
}

func sampleWeather() weather.Current {
	return weather.Current{
		Main:   &weather.MainSection{TempKelvin: ptr(300.0), Pressure: ptr(1012.0), Humidity: ptr(81.0)},
		Wind:   &weather.WindSection{Speed: ptr(4.1)},
		Clouds: &weather.CloudsSection{All: ptr(90.0)},
		Sys:    &weather.SysSection{Sunrise: ptr(int64(1560343627)), Sunset: ptr(int64(1560396563))},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func allReaders() ReaderConfig {
	return ReaderConfig{Ambient: true, Light: true, Reservoir: true, Weather: true}
}

func newTestPoller(t *testing.T, readers ReaderConfig, s *mockSensors, w *mockWeather, pub MetricsPublisher, clock *fakeClock) *Poller {
	t.Helper()

	p, err := NewPoller(PollerOptions{
		Interval: 10 * time.Millisecond,
		Readers:  readers,
		Sensors:  s,
		Weather:  w,
		Metrics:  pub,
		Logger:   testLogger(),
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create poller: %v", err)
	}

	return p
}

func TestRateGate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	gate := NewRateGate(60*time.Second, clock.Now)

	if !gate.Allow() {
		t.Fatalf("expected the first call to be allowed")
	}

	clock.Advance(5 * time.Second)
	if gate.Allow() {
		t.Errorf("expected a call 5s later to be blocked")
	}

	clock.Advance(55 * time.Second)
	if !gate.Allow() {
		t.Errorf("expected a call 60s after the last attempt to be allowed")
	}

	clock.Advance(59 * time.Second)
	if gate.Allow() {
		t.Errorf("expected a call 59s later to be blocked")
	}
}

func TestFetchWeather(t *testing.T) {
	t.Run("should not call the api twice within a minute", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		w := &mockWeather{current: sampleWeather()}
		p := newTestPoller(t, ReaderConfig{Weather: true}, nil, w, newMockPublisher(), clock)

		p.FetchWeather(context.Background())
		clock.Advance(5 * time.Second)
		p.FetchWeather(context.Background())

		if w.calls != 1 {
			t.Errorf("expected 1 api call, got %d", w.calls)
		}
	})

	t.Run("should call the api again after 65 seconds", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		w := &mockWeather{current: sampleWeather()}
		p := newTestPoller(t, ReaderConfig{Weather: true}, nil, w, newMockPublisher(), clock)

		p.FetchWeather(context.Background())
		clock.Advance(65 * time.Second)
		p.FetchWeather(context.Background())

		if w.calls != 2 {
			t.Errorf("expected 2 api calls, got %d", w.calls)
		}
	})

	t.Run("should rate limit failed attempts too", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		w := &mockWeather{err: errors.New("connection refused")}
		p := newTestPoller(t, ReaderConfig{Weather: true}, nil, w, newMockPublisher(), clock)

		if err := p.FetchWeather(context.Background()); err == nil {
			t.Errorf("expected the failure to be reported")
		}

		clock.Advance(10 * time.Second)
		if err := p.FetchWeather(context.Background()); err != nil {
			t.Errorf("expected the rate limited call to be skipped, got %v", err)
		}

		if w.calls != 1 {
			t.Errorf("expected 1 api call, got %d", w.calls)
		}
	})

	t.Run("should publish the converted weather", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		pub := newMockPublisher()
		p := newTestPoller(t, ReaderConfig{Weather: true}, nil, &mockWeather{current: sampleWeather()}, pub, clock)

		if err := p.FetchWeather(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(pub.values) != 7 {
			t.Errorf("expected 7 weather readings, got %d", len(pub.values))
		}

		if math.Abs(pub.values[sensor.READING_WEATHER_TEMP_F]-80.6) > 1e-9 {
			t.Errorf("expected 80.6F, got %v", pub.values[sensor.READING_WEATHER_TEMP_F])
		}
	})

	t.Run("should leave gauges untouched on failure", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		pub := newMockPublisher()
		w := &mockWeather{current: sampleWeather()}
		p := newTestPoller(t, ReaderConfig{Weather: true}, nil, w, pub, clock)

		p.PollOnce(context.Background())

		w.err = errors.New("malformed json")
		clock.Advance(61 * time.Second)
		p.PollOnce(context.Background())

		if pub.values[sensor.READING_WEATHER_PRESSURE] != 1012 {
			t.Errorf("expected the stale pressure to remain, got %v", pub.values[sensor.READING_WEATHER_PRESSURE])
		}

		if pub.readErrors[READER_WEATHER] != 1 {
			t.Errorf("expected 1 weather read error, got %d", pub.readErrors[READER_WEATHER])
		}
	})
}

func TestReadAmbient(t *testing.T) {
	t.Run("should publish fahrenheit and humidity", func(t *testing.T) {
		pub := newMockPublisher()
		s := &mockSensors{ambient: sensor.AmbientReading{TemperatureC: 21.0, Humidity: 45.2}}
		p := newTestPoller(t, ReaderConfig{Ambient: true}, s, nil, pub, &fakeClock{})

		if err := p.ReadAmbient(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if math.Abs(pub.values[sensor.READING_AMBIENT_TEMP_F]-69.8) > 1e-9 {
			t.Errorf("expected 69.8F, got %v", pub.values[sensor.READING_AMBIENT_TEMP_F])
		}

		if pub.values[sensor.READING_HUMIDITY_PCT] != 45.2 {
			t.Errorf("expected 45.2%%, got %v", pub.values[sensor.READING_HUMIDITY_PCT])
		}
	})

	t.Run("should skip publishing on failure", func(t *testing.T) {
		pub := newMockPublisher()
		s := &mockSensors{ambientErr: sensor.ErrNoData}
		p := newTestPoller(t, ReaderConfig{Ambient: true}, s, nil, pub, &fakeClock{})

		if err := p.ReadAmbient(); !errors.Is(err, sensor.ErrNoData) {
			t.Errorf("expected ErrNoData, got %v", err)
		}

		if len(pub.values) != 0 {
			t.Errorf("expected nothing published, got %v", pub.values)
		}
	})
}

func TestReadReservoirTemp(t *testing.T) {
	t.Run("should not publish an invalid reading", func(t *testing.T) {
		pub := newMockPublisher()
		s := &mockSensors{reservoir: math.NaN(), reservoirErr: sensor.ErrInvalidReading}
		p := newTestPoller(t, ReaderConfig{Reservoir: true}, s, nil, pub, &fakeClock{})

		p.PollOnce(context.Background())

		if _, ok := pub.values[sensor.READING_RESERVOIR_TEMP_C]; ok {
			t.Errorf("expected the reservoir gauge to be left alone")
		}

		if pub.readErrors[READER_RESERVOIR] != 1 {
			t.Errorf("expected 1 reservoir read error, got %d", pub.readErrors[READER_RESERVOIR])
		}
	})

	t.Run("should publish celsius", func(t *testing.T) {
		pub := newMockPublisher()
		s := &mockSensors{reservoir: 21.812}
		p := newTestPoller(t, ReaderConfig{Reservoir: true}, s, nil, pub, &fakeClock{})

		p.PollOnce(context.Background())

		if pub.values[sensor.READING_RESERVOIR_TEMP_C] != 21.812 {
			t.Errorf("expected 21.812, got %v", pub.values[sensor.READING_RESERVOIR_TEMP_C])
		}
	})
}

func TestPollOnce(t *testing.T) {
	t.Run("should keep polling after a sensor failure", func(t *testing.T) {
		pub := newMockPublisher()
		s := &mockSensors{
			ambientErr: errors.New("DHT read timeout"),
			lightErr:   errors.New("spi bus error"),
			reservoir:  19.5,
		}
		w := &mockWeather{current: sampleWeather()}
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		p := newTestPoller(t, allReaders(), s, w, pub, clock)

		p.PollOnce(context.Background())
		clock.Advance(10 * time.Second)
		p.PollOnce(context.Background())

		ambient, light, reservoir := s.calls()
		if ambient != 2 || light != 2 || reservoir != 2 {
			t.Errorf("expected every reader to be attempted twice, got ambient=%d light=%d reservoir=%d", ambient, light, reservoir)
		}

		if pub.readErrors[READER_AMBIENT] != 2 || pub.readErrors[READER_LIGHT] != 2 {
			t.Errorf("unexpected read errors: %v", pub.readErrors)
		}

		if pub.values[sensor.READING_RESERVOIR_TEMP_C] != 19.5 {
			t.Errorf("expected the reservoir to be published despite other failures")
		}
	})

	t.Run("should never call disabled readers", func(t *testing.T) {
		pub := newMockPublisher()
		s := &mockSensors{light: 300}
		w := &mockWeather{current: sampleWeather()}
		p := newTestPoller(t, ReaderConfig{Light: true}, s, w, pub, &fakeClock{})

		p.PollOnce(context.Background())

		ambient, light, reservoir := s.calls()
		if ambient != 0 || reservoir != 0 || w.calls != 0 {
			t.Errorf("expected disabled readers to be skipped, got ambient=%d reservoir=%d weather=%d", ambient, reservoir, w.calls)
		}

		if light != 1 || pub.values[sensor.READING_LIGHT_INTENSITY] != 300 {
			t.Errorf("expected the light reading to be published")
		}
	})

	t.Run("should survive a panicking driver", func(t *testing.T) {
		pub := newMockPublisher()
		p := newTestPoller(t, ReaderConfig{Ambient: true}, &mockSensors{}, nil, pub, &fakeClock{})

		p.poll(READER_AMBIENT, func() error { panic("gpio not mapped") })

		if pub.readErrors[READER_AMBIENT] != 1 {
			t.Errorf("expected the panic to count as a read error")
		}
	})
}

func TestDisabledReaderNeverScraped(t *testing.T) {
	registry, err := metrics.NewRegistry(metrics.AmbientGauges)
	if err != nil {
		t.Fatal(err)
	}

	s := &mockSensors{ambient: sensor.AmbientReading{TemperatureC: 21, Humidity: 50}, reservoir: 19}
	p := newTestPoller(t, ReaderConfig{Ambient: true}, s, &mockWeather{current: sampleWeather()}, registry, &fakeClock{})

	p.PollOnce(context.Background())
	p.PollOnce(context.Background())

	rr := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()

	if !strings.Contains(body, "\nambient_temp_f ") {
		t.Errorf("expected the ambient gauge in the scrape")
	}

	for _, name := range []string{"weather_temp_f", "reservoir_temp_c", "light_intensity"} {
		if strings.Contains(body, name) {
			t.Errorf("expected %s to be absent from the scrape", name)
		}
	}
}

func TestRun(t *testing.T) {
	s := &mockSensors{ambientErr: errors.New("DHT read timeout")}
	p := newTestPoller(t, ReaderConfig{Ambient: true}, s, nil, newMockPublisher(), &fakeClock{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		ambient, _, _ := s.calls()
		if ambient >= 3 {
			break
		}

		if time.Now().After(deadline) {
			t.Fatalf("expected the loop to keep ticking, saw %d ambient reads", ambient)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return after cancel")
	}
}

func TestNewPoller(t *testing.T) {
	if _, err := NewPoller(PollerOptions{Readers: allReaders()}); err == nil {
		t.Errorf("expected an error without a metrics publisher")
	}

	if _, err := NewPoller(PollerOptions{Readers: ReaderConfig{Weather: true}, Metrics: newMockPublisher()}); err == nil {
		t.Errorf("expected an error without a weather source")
	}

	p, err := NewPoller(PollerOptions{Metrics: newMockPublisher()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.interval != DEFAULT_POLL_INTERVAL {
		t.Errorf("expected the default interval, got %v", p.interval)
	}
}

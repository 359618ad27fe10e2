package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/KyleBrandon/hydro-exporter/config"
	"github.com/KyleBrandon/hydro-exporter/internal/metrics"
	"github.com/KyleBrandon/hydro-exporter/internal/mqtt"
	"github.com/KyleBrandon/hydro-exporter/internal/sensor"
	"github.com/KyleBrandon/hydro-exporter/internal/weather"
	"github.com/KyleBrandon/hydro-exporter/pkg/server/health"
	"github.com/KyleBrandon/hydro-exporter/pkg/server/poller"
	"github.com/KyleBrandon/hydro-exporter/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

const (
	DEFAULT_SERVER_PORT          = 8000
	DEFAULT_CONFIG_FILE_LOCATION = "./config.yml"
	DEFAULT_SHUTDOWN_TIMEOUT     = 5 * time.Second
)

// Used by "flag" to read command line argument
var (
	cmdLineFlagPort             int
	cmdLineFlagDisableLight     bool
	cmdLineFlagDisableReservoir bool
	cmdLineFlagDisableAmbient   bool
	cmdLineFlagDisableWeather   bool
	cmdLineFlagMockSensor       bool
	cmdLineFlagLogLevel         string
)

type (
	// DisableFlags are the --disable-* command line switches.
	DisableFlags struct {
		Light     bool
		Reservoir bool
		Ambient   bool
		Weather   bool
	}

	ServerConfig struct {
		mux       *http.ServeMux
		poller    *poller.Poller
		registry  *metrics.Registry
		telemetry *mqtt.Client

		ServerPort         int
		UseMockSensor      bool
		Disabled           DisableFlags
		Readers            poller.ReaderConfig
		LogFileLocation    string
		ConfigFileLocation string
		Logger             *slog.Logger
		LoggerLevel        *slog.LevelVar
		LogFile            *os.File
		Settings           config.Config
		Sensors            sensor.Sensors
	}
)

// init will read and initialize the global command line variables
func init() {
	flag.IntVar(&cmdLineFlagPort, "port", DEFAULT_SERVER_PORT, "The port to serve metrics on")
	flag.IntVar(&cmdLineFlagPort, "p", DEFAULT_SERVER_PORT, "The port to serve metrics on (shorthand)")
	flag.BoolVar(&cmdLineFlagDisableLight, "disable-light-sensor", false, "Disable the light intensity sensor")
	flag.BoolVar(&cmdLineFlagDisableReservoir, "disable-reservoir-sensor", false, "Disable the reservoir temperature sensor")
	flag.BoolVar(&cmdLineFlagDisableAmbient, "disable-ambiant-sensor", false, "Disable the ambient temperature and humidity sensor")
	flag.BoolVar(&cmdLineFlagDisableWeather, "disable-weather", false, "Disable polling the weather API")
	flag.BoolVar(&cmdLineFlagMockSensor, "use_mock_sensor", false, "Indicate if we should use a mock sensor for the server instance.")
	flag.StringVar(&cmdLineFlagLogLevel, "log_level", config.DefaultLogLevel.String(), "The log level to start the server at")
}

// InitializeServer loads the environment, config file and sensors and wires
// the poller and HTTP routes. Any configuration error is returned before
// anything is served.
func InitializeServer() (*ServerConfig, error) {
	slog.Debug(">>InitializeServer")
	defer slog.Debug("<<InitializeServer")

	sc := &ServerConfig{}

	// MUST BE FIRST
	sc.readEnvironmentVariables()

	if err := sc.configureLogger(); err != nil {
		return nil, err
	}

	settings, err := config.LoadConfigSettings(sc.ConfigFileLocation)
	if err != nil {
		sc.Logger.Error("failed to load config file", "file", sc.ConfigFileLocation, "error", err)
		sc.Close()
		return nil, err
	}
	sc.Settings = settings

	sc.Readers = EnabledReaders(settings.Sensors, sc.Disabled)

	sensors, err := sensor.NewSensors(settings.Sensors, sc.UseMockSensor)
	if err != nil {
		sc.Logger.Error("failed to initialize sensors", "error", err)
		sc.Close()
		return nil, err
	}
	sc.Sensors = sensors

	registry, err := metrics.NewRegistry(GaugeGroups(sc.Readers)...)
	if err != nil {
		sc.Logger.Error("failed to create the metrics registry", "error", err)
		sc.Close()
		return nil, err
	}
	sc.registry = registry

	if err := sc.configureTelemetry(); err != nil {
		sc.Logger.Error("failed to configure mqtt telemetry", "error", err)
		sc.Close()
		return nil, err
	}

	opts := poller.PollerOptions{
		Interval: settings.PollInterval(),
		Readers:  sc.Readers,
		Sensors:  sc.Sensors,
		Metrics:  sc.registry,
		Logger:   sc.Logger,
	}

	if sc.Readers.Weather {
		opts.Weather = weather.NewClient(settings.OpenWeather)
	}

	// a nil *mqtt.Client must not end up in the interface
	if sc.telemetry != nil {
		opts.Telemetry = sc.telemetry
	}

	p, err := poller.NewPoller(opts)
	if err != nil {
		sc.Close()
		return nil, err
	}
	sc.poller = p

	sc.mux = http.NewServeMux()
	sc.registerRoutes()

	return sc, nil
}

// EnabledReaders combines the disable flags with the optional config
// sections. Light and reservoir also need their section in the config.
func EnabledReaders(sensors sensor.SensorConfig, disabled DisableFlags) poller.ReaderConfig {
	return poller.ReaderConfig{
		Ambient:   !disabled.Ambient,
		Light:     !disabled.Light && sensors.Light != nil,
		Reservoir: !disabled.Reservoir && sensors.Reservoir != nil,
		Weather:   !disabled.Weather,
	}
}

// GaugeGroups returns the gauges to register for the enabled readers.
func GaugeGroups(readers poller.ReaderConfig) [][]metrics.GaugeDef {
	groups := make([][]metrics.GaugeDef, 0, 4)

	if readers.Weather {
		groups = append(groups, metrics.WeatherGauges)
	}

	if readers.Ambient {
		groups = append(groups, metrics.AmbientGauges)
	}

	if readers.Light {
		groups = append(groups, metrics.LightGauges)
	}

	if readers.Reservoir {
		groups = append(groups, metrics.ReservoirGauges)
	}

	return groups
}

func readerNames(readers poller.ReaderConfig) []string {
	names := make([]string, 0, 4)

	if readers.Weather {
		names = append(names, poller.READER_WEATHER)
	}

	if readers.Ambient {
		names = append(names, poller.READER_AMBIENT)
	}

	if readers.Light {
		names = append(names, poller.READER_LIGHT)
	}

	if readers.Reservoir {
		names = append(names, poller.READER_RESERVOIR)
	}

	return names
}

func (sc *ServerConfig) registerRoutes() {
	metricsHandler := sc.registry.Handler()
	sc.mux.Handle("GET /metrics", metricsHandler)
	sc.mux.Handle("GET /{$}", metricsHandler)

	healthHandler := health.NewHandler(sc.LoggerLevel, sc.Logger, readerNames(sc.Readers))
	healthHandler.RegisterRoutes(sc.mux)
}

// RunServer serves metrics and runs the poller until ctx is done, then shuts
// both down.
func (sc *ServerConfig) RunServer(ctx context.Context) error {
	sc.Logger.Info(">>RunServer")
	defer sc.Logger.Info("<<RunServer")

	defer sc.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	if sc.telemetry != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sc.telemetry.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				sc.Logger.Warn("mqtt connect failed, telemetry disabled until reconnect", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sc.poller.Run(ctx)
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.ServerPort),
		Handler:           sc.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		sc.Logger.Info("Starting server", "port", sc.ServerPort, "readers", readerNames(sc.Readers))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		sc.Logger.Info("Shutdown signal received")
	case err, ok := <-serverErr:
		if ok {
			sc.Logger.Error("Server failed", "error", err)
			runErr = err
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DEFAULT_SHUTDOWN_TIMEOUT)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sc.Logger.Error("Server shutdown failed", "error", err)
	}

	wg.Wait()

	return runErr
}

// Close releases the log file and the mqtt connection.
func (sc *ServerConfig) Close() {
	if sc.telemetry != nil {
		sc.telemetry.Disconnect()
	}

	if sc.LogFile != nil && sc.LogFile != os.Stderr {
		sc.LogFile.Close()
		sc.LogFile = nil
	}
}

func (sc *ServerConfig) readEnvironmentVariables() {
	slog.Info(">>readEnvironmentVariables")
	defer slog.Info("<<readEnvironmentVariables")

	// load the environment
	err := godotenv.Load()
	if err != nil {
		slog.Warn("could not load .env file", "error", err)
	}

	sc.LogFileLocation = os.Getenv("LOG_FILE_LOCATION")

	sc.ConfigFileLocation = os.Getenv("CONFIG_FILE_LOCATION")
	if len(sc.ConfigFileLocation) == 0 {
		sc.ConfigFileLocation = DEFAULT_CONFIG_FILE_LOCATION
	}

	sc.ServerPort = cmdLineFlagPort
	sc.UseMockSensor = cmdLineFlagMockSensor
	sc.Disabled = DisableFlags{
		Light:     cmdLineFlagDisableLight,
		Reservoir: cmdLineFlagDisableReservoir,
		Ambient:   cmdLineFlagDisableAmbient,
		Weather:   cmdLineFlagDisableWeather,
	}
}

// configureLogger will initialize slog and save the log level so it can be set via API.
func (sc *ServerConfig) configureLogger() error {
	// create a variable to store the current log level
	currentLevel := new(slog.LevelVar)

	// parse the log level from any passed in command line flag
	level, err := utils.ParseLogLevel(cmdLineFlagLogLevel)
	if err != nil {
		slog.Error("Failed to parse the log level, setting to DefaultLogLevel", "error", err, "log_level", cmdLineFlagLogLevel)
		level = config.DefaultLogLevel
	}

	currentLevel.Set(level)

	var handler slog.Handler
	logFile := os.Stderr
	if len(sc.LogFileLocation) != 0 {
		slog.Info("Save to log file", "file", sc.LogFileLocation)
		logFile, err = os.OpenFile(sc.LogFileLocation, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", sc.LogFileLocation, err)
		}

		handler = slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: currentLevel})
	} else {
		handler = tint.NewHandler(logFile, &tint.Options{
			Level:      currentLevel,
			TimeFormat: time.Kitchen,
		})
	}

	logger := slog.New(handler)

	slog.SetDefault(logger)

	sc.Logger = logger
	sc.LoggerLevel = currentLevel
	sc.LogFile = logFile

	return nil
}

func (sc *ServerConfig) configureTelemetry() error {
	mqttConfig, ok, err := mqtt.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	if !ok {
		sc.Logger.Info("MQTT_BROKER not set, mqtt telemetry disabled")
		return nil
	}

	sc.Logger.Info("mqtt telemetry enabled", "broker", mqttConfig.Broker, "port", mqttConfig.Port)
	sc.telemetry = mqtt.NewClient(mqttConfig)

	return nil
}

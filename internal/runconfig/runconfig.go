// Package runconfig loads transportx's configuration with viper:
// defaults set up front, a config file discovered across several
// search paths, then live reload via fsnotify through
// viper.WatchConfig/OnConfigChange.
package runconfig

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// SourceConfig describes the connection a Source dialect opens.
type SourceConfig struct {
	Dialect string   `mapstructure:"dialect"`
	DSN     string   `mapstructure:"dsn"`
	Queries []string `mapstructure:"queries"`
}

// TransportConfig names the Transport table to use and the expected
// partition count. Partitions does not change how a run is split: the
// run uses one partition per query, and cmd/transportx only logs a
// warning when Partitions differs from the number of queries.
type TransportConfig struct {
	Partitions int    `mapstructure:"partitions"`
	Table      string `mapstructure:"table"`
}

// FlushConfig holds the variable-length column writer's tunables.
type FlushConfig struct {
	StringThresholdBytes int  `mapstructure:"string_threshold_bytes"`
	BytesThresholdBytes  int  `mapstructure:"bytes_threshold_bytes"`
	NonBlockingHalfFlush bool `mapstructure:"nonblocking_half_flush"`
}

// LoggingConfig controls the run logger's level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Config is the root configuration document.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Transport TransportConfig `mapstructure:"transport"`
	Flush     FlushConfig     `mapstructure:"flush"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DefaultConfig returns a Config populated with transportx's defaults.
func DefaultConfig() Config {
	return Config{
		Transport: TransportConfig{Partitions: 4, Table: "mysql_to_arrow"},
		Flush: FlushConfig{
			StringThresholdBytes: 4 << 20,
			BytesThresholdBytes:  16 << 20,
			NonBlockingHalfFlush: false,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics", Namespace: "transportx"},
	}
}

// Global holds the most recently loaded configuration, refreshed
// in-place by the fsnotify watcher started in Load.
var Global = DefaultConfig()

// Load discovers and parses transportx's config file, sets viper
// defaults, and installs a live-reload watcher. Finding no file on the
// search paths is not an error (the defaults stand), but an explicitly
// named file that is missing, or a malformed file that was found, is.
//
// A config file is resolved in order: the first non-empty explicit
// path wins, then the TRANSPORTX_CONFIG_FILE environment variable,
// then the fixed search paths below.
func Load(configFile ...string) (Config, error) {
	viper.SetDefault("transport.partitions", 4)
	viper.SetDefault("transport.table", "mysql_to_arrow")
	viper.SetDefault("flush.string_threshold_bytes", 4<<20)
	viper.SetDefault("flush.bytes_threshold_bytes", 16<<20)
	viper.SetDefault("flush.nonblocking_half_flush", false)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.namespace", "transportx")

	explicit := ""
	for _, f := range configFile {
		if f != "" {
			explicit = f
			break
		}
	}
	if explicit == "" {
		explicit = os.Getenv("TRANSPORTX_CONFIG_FILE")
	}

	if explicit != "" {
		viper.SetConfigFile(explicit)
	} else {
		viper.SetConfigName("transportx.conf")
		viper.AddConfigPath("/etc/transportx/")
		viper.AddConfigPath("$HOME/.transportx")
		viper.AddConfigPath("./conf")
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("runconfig: read config: %w", err)
		}
		log.Warn().Msg("no config file found, using defaults")
	}

	viper.WatchConfig()
	viper.OnConfigChange(reload)

	cfg := DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("runconfig: unmarshal: %w", err)
	}

	applyLogLevel(cfg.Logging.Level)
	Global = cfg
	return cfg, nil
}

func reload(e fsnotify.Event) {
	log.Info().Str("file", e.Name).Msg("config file changed, reloading")
	cfg := DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("unable to decode changed config")
		return
	}
	applyLogLevel(cfg.Logging.Level)
	Global = cfg
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

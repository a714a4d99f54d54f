package config

// Default values: layer 0 of the override chain.
const (
	defaultServerURL         = "http://127.0.0.1:8085"
	defaultHealthPath        = "/health"
	defaultRequestTimeout    = "30s"
	defaultMaxValueSize      = "5MB"
	defaultBatchSize         = 10
	defaultBatchDelay        = "100ms"
	defaultMaxRetries        = 3
	defaultProbeInterval     = "30s"
	defaultProbeTimeout      = "5s"
	defaultProbeRetries      = 2
	defaultBackoffStep       = "1s"
	defaultImmediateInterval = "30s"
	defaultDelayedInterval   = "2m"
	defaultBatchInterval     = "5m"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:            defaultServerURL,
			HealthPath:     defaultHealthPath,
			RequestTimeout: defaultRequestTimeout,
		},
		Storage: StorageConfig{
			DataDir:      DefaultDataDir(),
			MaxValueSize: defaultMaxValueSize,
		},
		Queue: QueueConfig{
			BatchSize:  defaultBatchSize,
			BatchDelay: defaultBatchDelay,
			MaxRetries: defaultMaxRetries,
		},
		Network: NetworkConfig{
			ProbeInterval: defaultProbeInterval,
			ProbeTimeout:  defaultProbeTimeout,
			ProbeRetries:  defaultProbeRetries,
			BackoffStep:   defaultBackoffStep,
		},
		Sync: SyncConfig{
			ImmediateInterval: defaultImmediateInterval,
			DelayedInterval:   defaultDelayedInterval,
			BatchInterval:     defaultBatchInterval,
			PreferRecent:      true,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "TODOSYNC_CONFIG"
	EnvServerURL = "TODOSYNC_SERVER_URL"
	EnvToken     = "TODOSYNC_TOKEN"
	EnvDataDir   = "TODOSYNC_DATA_DIR"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath string
	ServerURL  string
	Token      string
	DataDir    string
}

// ReadEnvOverrides reads the TODOSYNC_* variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		ServerURL:  os.Getenv(EnvServerURL),
		Token:      os.Getenv(EnvToken),
		DataDir:    os.Getenv(EnvDataDir),
	}
}

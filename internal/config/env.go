package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names. Secrets stay out of the YAML file and are
// loaded from the process environment, optionally seeded from a .env file.
const (
	EnvCloudAPIKey = "GLASSES_CLOUD_API_KEY"
	EnvTTSAPIKey   = "GLASSES_TTS_API_KEY"
)

// Secrets holds credentials resolved from the environment
type Secrets struct {
	CloudAPIKey string
	TTSAPIKey   string
}

// LoadSecrets reads the optional .env file and resolves known secrets.
// A missing .env file is not an error; variables may come from the real
// environment (systemd unit, container).
func LoadSecrets(envPath string) Secrets {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	return Secrets{
		CloudAPIKey: os.Getenv(EnvCloudAPIKey),
		TTSAPIKey:   os.Getenv(EnvTTSAPIKey),
	}
}

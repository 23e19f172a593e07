package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Addr     string
	DBDSN    string
	LogLevel string

	FCMProjectID       string
	FCMCredentialsPath string
	DispatchInterval   time.Duration
	DispatchBatch      int

	BackendURL  *url.URL
	DeviceState string
	UserID      string
	CallTimeout time.Duration
	ClientLog   string
}

func Load() (Config, error) {
	envFile := os.Getenv("APP_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := loadDotEnvFile(envFile, os.Setenv, os.Getenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	return LoadFromEnv(os.Getenv)
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:                getenv("APP_ENV"),
		Addr:               getenv("APP_ADDR"),
		DBDSN:              getenv("APP_DB_DSN"),
		LogLevel:           getenv("APP_LOG_LEVEL"),
		FCMProjectID:       strings.TrimSpace(getenv("APP_FCM_PROJECT_ID")),
		FCMCredentialsPath: strings.TrimSpace(getenv("APP_FCM_CREDENTIALS")),
		DeviceState:        strings.TrimSpace(getenv("APP_DEVICE_STATE")),
		UserID:             strings.TrimSpace(getenv("APP_USER_ID")),
		ClientLog:          strings.TrimSpace(getenv("APP_CLIENT_LOG")),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}

	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}

	var err error
	if cfg.DispatchInterval, err = parseDuration(getenv, "APP_DISPATCH_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CallTimeout, err = parseDuration(getenv, "APP_CALL_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}

	batchRaw := strings.TrimSpace(getenv("APP_DISPATCH_BATCH"))
	if batchRaw == "" {
		cfg.DispatchBatch = 50
	} else {
		n, err := strconv.Atoi(batchRaw)
		if err != nil {
			return Config{}, fmt.Errorf("APP_DISPATCH_BATCH: %w", err)
		}
		if n <= 0 {
			return Config{}, errors.New("APP_DISPATCH_BATCH: must be > 0")
		}
		cfg.DispatchBatch = n
	}

	backendRaw := strings.TrimSpace(getenv("APP_BACKEND_URL"))
	if backendRaw == "" {
		backendRaw = "http://" + cfg.Addr
	}
	parsed, err := url.Parse(backendRaw)
	if err != nil {
		return Config{}, fmt.Errorf("APP_BACKEND_URL: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return Config{}, errors.New("APP_BACKEND_URL: must be an absolute URL")
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return Config{}, errors.New("APP_BACKEND_URL: scheme must be http or https")
	}
	cfg.BackendURL = parsed

	if cfg.DeviceState == "" {
		cfg.DeviceState = filepath.Join(defaultStateDir(getenv), "device.yaml")
	}
	if cfg.ClientLog == "" {
		cfg.ClientLog = filepath.Join(filepath.Dir(cfg.DeviceState), "pushdemo.log")
	}

	if cfg.FCMCredentialsPath == "" && cfg.FCMProjectID != "" {
		return Config{}, errors.New("APP_FCM_CREDENTIALS: required when APP_FCM_PROJECT_ID is set")
	}

	if cfg.IsProd() {
		if cfg.DBDSN == "" {
			return Config{}, errors.New("APP_DB_DSN: required in prod")
		}
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

func (c Config) FCMEnabled() bool { return c.FCMCredentialsPath != "" }

func parseDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be > 0", key)
	}
	return d, nil
}

func defaultStateDir(getenv func(string) string) string {
	if dir := getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "pushscheduler")
	}
	if home := getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", "pushscheduler")
	}
	return "."
}

// loadDotEnvFile merges path into the environment. Variables that are already set win,
// and empty values are skipped.
func loadDotEnvFile(path string, setenv func(string, string) error, getenv func(string) string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	for k, v := range values {
		if v == "" || getenv(k) != "" {
			continue
		}
		if err := setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/era5-downloader/internal/cds"
	"github.com/i474232898/era5-downloader/internal/era5"
)

type AppConfig struct {
	// Output directory holding one file per downloaded day.
	DataDir    string `validate:"required"`
	Dataset    string `validate:"required"`
	Redownload bool
	Debug      bool

	// Optional YAML file overriding the default download configuration.
	RequestConfigPath string

	// Date range inputs, YYYY-MM-DD. Flags take precedence.
	StartDate string `validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `validate:"omitempty,datetime=2006-01-02"`
	FixedDate string `validate:"omitempty,datetime=2006-01-02"`

	// CDS endpoint and credentials, from the environment or the rc file.
	CDSURL          string        `validate:"required,url"`
	CDSKey          string
	HTTPTimeout     time.Duration `validate:"gt=0"`
	PollInterval    time.Duration `validate:"gt=0"`
	MaxPollInterval time.Duration `validate:"gtefield=PollInterval"`

	// Daily run time (HH:MM, UTC) in serve mode.
	ScheduleAt string `validate:"required,datetime=15:04"`

	// In-memory run history retention.
	StoreMaxHistory int           `validate:"gte=0"` // 0 = unlimited
	StoreMaxAge     time.Duration `validate:"gte=0"` // 0 = unlimited

	Port     string `validate:"required,numeric"`
	LogLevel string `validate:"omitempty,oneof=debug info warn error"`
}

var validate = validator.New()

// Load reads configuration from an optional .env file and the environment,
// with sensible defaults. CDS credentials missing from the environment are
// read from the cdsapi rc file.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &AppConfig{}

	cfg.DataDir = getenvDefault("ERA5_DATA_DIR", "./downloads/era5/healpix/")
	cfg.Dataset = getenvDefault("ERA5_DATASET", era5.DefaultDataset)
	cfg.Redownload = getenvBool("ERA5_REDOWNLOAD", false)
	cfg.Debug = getenvBool("ERA5_DEBUG", false)
	cfg.RequestConfigPath = os.Getenv("ERA5_REQUEST_CONFIG")
	cfg.StartDate = os.Getenv("ERA5_START_DATE")
	cfg.EndDate = os.Getenv("ERA5_END_DATE")
	cfg.FixedDate = os.Getenv("ERA5_FIXED_DATE")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30m"); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getenvDuration("CDS_POLL_INTERVAL", "1s"); err != nil {
		return nil, err
	}
	if cfg.MaxPollInterval, err = getenvDuration("CDS_MAX_POLL_INTERVAL", "2m"); err != nil {
		return nil, err
	}
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "720h"); err != nil {
		return nil, err
	}
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 30)
	cfg.ScheduleAt = getenvDefault("SCHEDULE_AT", "06:00")
	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	cfg.CDSURL = os.Getenv("CDSAPI_URL")
	cfg.CDSKey = os.Getenv("CDSAPI_KEY")
	if cfg.CDSURL == "" || cfg.CDSKey == "" {
		rc, err := loadRC(rcPath())
		if err != nil {
			return nil, err
		}
		if cfg.CDSURL == "" {
			cfg.CDSURL = rc.URL
		}
		if cfg.CDSKey == "" {
			cfg.CDSKey = rc.Key
		}
	}
	if cfg.CDSURL == "" {
		cfg.CDSURL = cds.DefaultURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints; it is run again after flags are applied.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// CDSConfig returns the settings for the CDS retrieval client.
func (c *AppConfig) CDSConfig() cds.Config {
	return cds.Config{
		URL:             c.CDSURL,
		Key:             c.CDSKey,
		PollInterval:    c.PollInterval,
		MaxPollInterval: c.MaxPollInterval,
	}
}

// cdsRC mirrors the url/key lines of a .cdsapirc file.
type cdsRC struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

func rcPath() string {
	if p := os.Getenv("CDSAPI_RC"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cdsapirc")
}

// loadRC reads the rc file at path. A missing file yields an empty result.
func loadRC(path string) (cdsRC, error) {
	var rc cdsRC
	if path == "" {
		return rc, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return rc, nil
	}
	if err != nil {
		return rc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &rc); err != nil {
		return rc, fmt.Errorf("parse %s: %w", path, err)
	}
	return rc, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

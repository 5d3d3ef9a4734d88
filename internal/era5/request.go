package era5

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultDataset is the CDS dataset requested for every day.
const DefaultDataset = "reanalysis-era5-pressure-levels"

// GlobalArea is the [North, West, South, East] box covering the whole globe.
var GlobalArea = []float64{90, -180, -90, 180}

var validate = validator.New()

// DownloadConfig selects what is requested for each day.
type DownloadConfig struct {
	Variables      []string  `yaml:"variable" validate:"required,min=1,dive,required"`
	PressureLevels []string  `yaml:"pressure_level" validate:"required,min=1,dive,required"`
	Times          []string  `yaml:"time" validate:"required,min=1,dive,required"`
	Area           []float64 `yaml:"area" validate:"len=4"` // North, West, South, East
}

// DefaultDownloadConfig returns humidity on five pressure levels, four times a
// day, over the whole globe.
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		Variables:      []string{"relative_humidity", "specific_humidity"},
		PressureLevels: []string{"300", "500", "800", "900", "975"},
		Times:          []string{"00:00", "06:00", "12:00", "18:00"},
		Area:           append([]float64(nil), GlobalArea...),
	}
}

// Validate checks the configuration and returns a copy with an empty area
// replaced by GlobalArea. A non-empty area must have exactly four values.
func (c DownloadConfig) Validate() (DownloadConfig, error) {
	if len(c.Area) == 0 {
		c.Area = append([]float64(nil), GlobalArea...)
	}
	if err := validate.Struct(c); err != nil {
		return DownloadConfig{}, fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}
	return c, nil
}

// LoadDownloadConfig reads a YAML download configuration using the CDS key
// names (variable, pressure_level, time, area). It does not validate.
func LoadDownloadConfig(path string) (DownloadConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DownloadConfig{}, fmt.Errorf("read download config: %w", err)
	}
	var cfg DownloadConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return DownloadConfig{}, fmt.Errorf("parse download config %s: %w", path, err)
	}
	return cfg, nil
}

// Request is the payload submitted to the retrieval client for one day.
type Request struct {
	ProductType   string    `json:"product_type"`
	Format        string    `json:"format"`
	Variable      []string  `json:"variable"`
	PressureLevel []string  `json:"pressure_level"`
	Year          string    `json:"year"`
	Month         string    `json:"month"`
	Day           string    `json:"day"`
	Time          []string  `json:"time"`
	Area          []float64 `json:"area"`
}

// BuildRequest builds the request for day from an already validated config.
func BuildRequest(day time.Time, cfg DownloadConfig) Request {
	day = day.UTC()
	return Request{
		ProductType:   "reanalysis",
		Format:        "netcdf",
		Variable:      cfg.Variables,
		PressureLevel: cfg.PressureLevels,
		Year:          fmt.Sprintf("%d", day.Year()),
		Month:         fmt.Sprintf("%02d", int(day.Month())),
		Day:           fmt.Sprintf("%02d", day.Day()),
		Time:          cfg.Times,
		Area:          cfg.Area,
	}
}

// Package config provides configuration management for the reservoir area batch job.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/robert-malhotra/reservoir-area/internal/pipeline"
	"github.com/robert-malhotra/reservoir-area/internal/timegrid"
)

// DateLayout is the format of RUN_START and RUN_END.
const DateLayout = "2006-01-02"

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	Run      RunConfig      `envPrefix:"RUN_"`
	Proc     ProcConfig     `envPrefix:"PROC_"`
	Exec     ExecConfig     `envPrefix:"EXEC_"`
	ASF      ASFConfig      `envPrefix:"ASF_"`
	Raster   RasterConfig   `envPrefix:"RASTER_"`
	Features FeaturesConfig `envPrefix:"FEATURES_"`
	Export   ExportConfig   `envPrefix:"EXPORT_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`

	// JournalPath is the SQLite run journal; empty disables it.
	JournalPath string `env:"JOURNAL_PATH" envDefault:""`
	// StatusAddr is the listen address of the status API; empty disables it.
	StatusAddr string `env:"STATUS_ADDR" envDefault:""`
}

// Date is a calendar day parsed from DateLayout, in UTC.
type Date struct {
	time.Time
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	t, err := time.Parse(DateLayout, strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", string(b))
	}
	d.Time = t
	return nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// RunConfig selects the time range, partitioning and output naming.
type RunConfig struct {
	Start        Date   `env:"START"`
	End          Date   `env:"END"`
	StepInterval int    `env:"STEP_INTERVAL" envDefault:"30"`
	StepUnit     string `env:"STEP_UNIT" envDefault:"day"`

	// Parts is used when PartitionSize is 0.
	Parts         int `env:"PARTS" envDefault:"10"`
	PartitionSize int `env:"PARTITION_SIZE" envDefault:"0"`
	StartOffset   int `env:"START_OFFSET" envDefault:"0"`

	OutputLabel  string `env:"OUTPUT_LABEL" envDefault:"ID_1000"`
	OutputFolder string `env:"OUTPUT_FOLDER" envDefault:""`

	// Only features with IDMin < ID < IDMax are processed.
	IDMin int64 `env:"ID_MIN" envDefault:"0"`
	IDMax int64 `env:"ID_MAX" envDefault:"1000"`
}

// ProcConfig holds the image processing parameters.
type ProcConfig struct {
	BufferRadius   float64  `env:"BUFFER_RADIUS" envDefault:"10"`
	ContextBuffer  float64  `env:"CONTEXT_BUFFER" envDefault:"100"`
	SmoothRadius   float64  `env:"SMOOTH_RADIUS" envDefault:"10"`
	ReduceScale    float64  `env:"REDUCE_SCALE" envDefault:"10"`
	ReadScale      float64  `env:"READ_SCALE" envDefault:"10"`
	MaxPixels      int64    `env:"MAX_PIXELS" envDefault:"10000000000000"`
	WaterThreshold float64  `env:"WATER_THRESHOLD" envDefault:"0.3"`
	FloorThreshold float64  `env:"FLOOR_THRESHOLD" envDefault:"-100"`
	Polarizations  []string `env:"POLARIZATIONS" envDefault:"VV,VH"`
	Mode           string   `env:"MODE" envDefault:"IW"`
	MinBands       int      `env:"MIN_BANDS" envDefault:"2"`
	MaxCloud       float64  `env:"MAX_CLOUD_PERCENT" envDefault:"100"`
}

// ExecConfig bounds concurrency and retries.
type ExecConfig struct {
	FeatureConcurrency int           `env:"FEATURE_CONCURRENCY" envDefault:"4"`
	StepConcurrency    int           `env:"STEP_CONCURRENCY" envDefault:"4"`
	MaxRequests        int64         `env:"MAX_REQUESTS" envDefault:"8"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"2m"`
	MaxAttempts        int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryBackoff       time.Duration `env:"RETRY_BACKOFF" envDefault:"2s"`
}

// ASFConfig contains ASF API client configuration.
type ASFConfig struct {
	BaseURL         string        `env:"BASE_URL" envDefault:"https://api.daac.asf.alaska.edu"`
	Timeout         time.Duration `env:"TIMEOUT" envDefault:"30s"`
	Dataset         string        `env:"DATASET" envDefault:"SENTINEL-1"`
	ProcessingLevel []string      `env:"PROCESSING_LEVEL" envDefault:"GRD_HD"`
	MaxResults      int           `env:"MAX_RESULTS" envDefault:"500"`
}

// RasterConfig points at the raster read service.
type RasterConfig struct {
	BaseURL string        `env:"BASE_URL"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"60s"`
}

// Feature source types.
const (
	FeaturesGeoJSON = "geojson"
	FeaturesSQLite  = "sqlite"
	FeaturesPostGIS = "postgis"
)

// FeaturesConfig selects where reservoir outlines are loaded from.
type FeaturesConfig struct {
	Type      string `env:"TYPE" envDefault:"geojson"`
	Path      string `env:"PATH" envDefault:""`
	DSN       string `env:"DSN" envDefault:""`
	Table     string `env:"TABLE" envDefault:"reservoirs"`
	IDField   string `env:"ID_FIELD" envDefault:"ID"`
	GeomField string `env:"GEOM_FIELD" envDefault:"geom"`
}

// Export sink types.
const (
	ExportDir   = "dir"
	ExportMinio = "minio"
)

// ExportConfig selects where partition tables are written.
type ExportConfig struct {
	Type      string `env:"TYPE" envDefault:"dir"`
	Dir       string `env:"DIR" envDefault:"output"`
	Endpoint  string `env:"ENDPOINT" envDefault:""`
	AccessKey string `env:"ACCESS_KEY" envDefault:""`
	SecretKey string `env:"SECRET_KEY" envDefault:""`
	Bucket    string `env:"BUCKET" envDefault:"reservoir-area"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"true"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid and fills in the derived
// output folder.
func (c *Config) Validate() error {
	if err := c.Run.validate(); err != nil {
		return err
	}
	if err := c.Proc.validate(); err != nil {
		return err
	}
	if err := c.Exec.validate(); err != nil {
		return err
	}

	if c.ASF.BaseURL == "" {
		return fmt.Errorf("ASF base URL is required")
	}
	if c.ASF.Timeout <= 0 {
		return fmt.Errorf("ASF timeout must be positive, got %s", c.ASF.Timeout)
	}
	if c.ASF.Dataset == "" {
		return fmt.Errorf("ASF dataset is required")
	}
	if c.ASF.MaxResults < 1 {
		return fmt.Errorf("ASF max results must be at least 1, got %d", c.ASF.MaxResults)
	}

	if c.Raster.BaseURL == "" {
		return fmt.Errorf("raster base URL is required")
	}
	if c.Raster.Timeout <= 0 {
		return fmt.Errorf("raster timeout must be positive, got %s", c.Raster.Timeout)
	}

	switch c.Features.Type {
	case FeaturesGeoJSON, FeaturesSQLite:
		if c.Features.Path == "" {
			return fmt.Errorf("features path is required for type %q", c.Features.Type)
		}
	case FeaturesPostGIS:
		if c.Features.DSN == "" {
			return fmt.Errorf("features DSN is required for type %q", c.Features.Type)
		}
	default:
		return fmt.Errorf("features type must be one of: geojson, sqlite, postgis, got %q", c.Features.Type)
	}

	switch c.Export.Type {
	case ExportDir:
		if c.Export.Dir == "" {
			return fmt.Errorf("export dir is required for type %q", ExportDir)
		}
	case ExportMinio:
		if c.Export.Endpoint == "" || c.Export.Bucket == "" {
			return fmt.Errorf("export endpoint and bucket are required for type %q", ExportMinio)
		}
	default:
		return fmt.Errorf("export type must be 'dir' or 'minio', got %q", c.Export.Type)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

func (r *RunConfig) validate() error {
	if r.End.Before(r.Start.Time) {
		return fmt.Errorf("run end (%s) must not be before run start (%s)", r.End, r.Start)
	}
	if r.StepInterval < 1 {
		return fmt.Errorf("step interval must be at least 1, got %d", r.StepInterval)
	}
	if _, err := timegrid.ParseUnit(r.StepUnit); err != nil {
		return err
	}
	if r.PartitionSize < 0 {
		return fmt.Errorf("partition size must be non-negative, got %d", r.PartitionSize)
	}
	if r.PartitionSize == 0 && r.Parts < 1 {
		return fmt.Errorf("parts must be at least 1, got %d", r.Parts)
	}
	if r.StartOffset < 0 {
		return fmt.Errorf("start offset must be non-negative, got %d", r.StartOffset)
	}
	if r.OutputLabel == "" {
		return fmt.Errorf("output label is required")
	}
	if r.IDMin >= r.IDMax {
		return fmt.Errorf("ID min (%d) must be less than ID max (%d)", r.IDMin, r.IDMax)
	}
	if r.OutputFolder == "" {
		r.OutputFolder = pipeline.DefaultFolder(r.Start.Time, r.End.Time)
	}
	return nil
}

func (p *ProcConfig) validate() error {
	if p.BufferRadius < 0 || p.ContextBuffer < 0 || p.SmoothRadius < 0 {
		return fmt.Errorf("buffer and smoothing radii must be non-negative")
	}
	if p.ReduceScale < 0 {
		return fmt.Errorf("reduce scale must be non-negative, got %v", p.ReduceScale)
	}
	if p.ReadScale <= 0 {
		return fmt.Errorf("read scale must be positive, got %v", p.ReadScale)
	}
	if p.MaxPixels < 1 {
		return fmt.Errorf("max pixels must be positive, got %d", p.MaxPixels)
	}
	if p.WaterThreshold < p.FloorThreshold {
		return fmt.Errorf("water threshold (%v) must be >= floor threshold (%v)", p.WaterThreshold, p.FloorThreshold)
	}
	if len(p.Polarizations) != 2 {
		return fmt.Errorf("exactly two polarizations are required, got %v", p.Polarizations)
	}
	if p.MinBands < 0 {
		return fmt.Errorf("min bands must be non-negative, got %d", p.MinBands)
	}
	if p.MaxCloud < 0 || p.MaxCloud > 100 {
		return fmt.Errorf("max cloud percent must be between 0 and 100, got %v", p.MaxCloud)
	}
	return nil
}

func (e *ExecConfig) validate() error {
	if e.FeatureConcurrency < 1 || e.StepConcurrency < 1 || e.MaxRequests < 1 {
		return fmt.Errorf("concurrency limits must be at least 1")
	}
	if e.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", e.FetchTimeout)
	}
	if e.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", e.MaxAttempts)
	}
	if e.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff must be non-negative, got %s", e.RetryBackoff)
	}
	return nil
}

// Grid builds the temporal grid of the run.
func (r RunConfig) Grid() (*timegrid.Grid, error) {
	unit, err := timegrid.ParseUnit(r.StepUnit)
	if err != nil {
		return nil, err
	}
	return timegrid.Build(r.Start.Time, r.End.Time, r.StepInterval, unit)
}

// Plan partitions size features, by PartitionSize when set and by Parts otherwise.
func (r RunConfig) Plan(size int) (pipeline.Plan, error) {
	if r.PartitionSize > 0 {
		return pipeline.PlanBySize(size, r.PartitionSize)
	}
	return pipeline.PlanByParts(size, r.Parts)
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ctslater/mops-daymops/internal/collapse"
	"github.com/ctslater/mops-daymops/internal/finder"
	"github.com/ctslater/mops-daymops/internal/postfilter"
)

// ErrInvalidConfig wraps every validation failure of a LinkingConfig.
var ErrInvalidConfig = errors.New("invalid linking config")

// LinkingConfig represents the root configuration for a linking run. It is
// shared verbatim by the finder, collapser and post-filter stages; the
// FinderConfig, CollapseOptions and PostfilterOptions methods derive each
// stage's typed options from it.
//
// Unset fields take the defaults documented on their Get* accessors, so
// partial configs are safe.
type LinkingConfig struct {
	// Finder params
	MinV       *float64 `json:"min_v,omitempty" yaml:"min_v,omitempty"` // deg/day
	MaxV       *float64 `json:"max_v,omitempty" yaml:"max_v,omitempty"` // deg/day
	MinDtHours *float64 `json:"min_dt_hours,omitempty" yaml:"min_dt_hours,omitempty"`
	MaxDtHours *float64 `json:"max_dt_hours,omitempty" yaml:"max_dt_hours,omitempty"`

	// Collapse params. Tolerances is the [ra, dec, angle, velocity] vector.
	Tolerances    []float64 `json:"tolerances,omitempty" yaml:"tolerances,omitempty"`
	UseMinimumRMS *bool     `json:"use_minimum_rms,omitempty" yaml:"use_minimum_rms,omitempty"`
	UseBestFit    *bool     `json:"use_best_fit,omitempty" yaml:"use_best_fit,omitempty"`
	UseRMSFilt    *bool     `json:"use_rms_filt,omitempty" yaml:"use_rms_filt,omitempty"`
	MaxRMS        *float64  `json:"max_rms,omitempty" yaml:"max_rms,omitempty"`
	Verbose       *bool     `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	// Post-filter params (all off by default)
	Purify        *bool    `json:"purify,omitempty" yaml:"purify,omitempty"`
	PurifyMaxRMS  *float64 `json:"purify_max_rms,omitempty" yaml:"purify_max_rms,omitempty"`
	PurifyMinObs  *int     `json:"purify_min_obs,omitempty" yaml:"purify_min_obs,omitempty"`
	FilterRMS     *bool    `json:"filter_rms,omitempty" yaml:"filter_rms,omitempty"`
	FilterMaxRMS  *float64 `json:"filter_max_rms,omitempty" yaml:"filter_max_rms,omitempty"`
	KeepLongest   *bool    `json:"keep_longest,omitempty" yaml:"keep_longest,omitempty"`
	RemoveSubsets *bool    `json:"remove_subsets,omitempty" yaml:"remove_subsets,omitempty"`

	// Output params
	MinOutputDetections *int `json:"min_output_detections,omitempty" yaml:"min_output_detections,omitempty"`

	// Concurrency for the finder and collapser; 0 means GOMAXPROCS.
	Workers *int `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyLinkingConfig returns a LinkingConfig with all fields set to nil.
func EmptyLinkingConfig() *LinkingConfig {
	return &LinkingConfig{}
}

// DefaultLinkingConfig returns a LinkingConfig with every field set to its
// default explicitly, suitable for writing out as a template.
func DefaultLinkingConfig() *LinkingConfig {
	e := EmptyLinkingConfig()
	return &LinkingConfig{
		MinV:                ptrFloat64(e.GetMinV()),
		MaxV:                ptrFloat64(e.GetMaxV()),
		MinDtHours:          ptrFloat64(e.GetMinDtHours()),
		MaxDtHours:          ptrFloat64(e.GetMaxDtHours()),
		Tolerances:          e.GetTolerances().Slice(),
		UseMinimumRMS:       ptrBool(e.GetUseMinimumRMS()),
		UseBestFit:          ptrBool(e.GetUseBestFit()),
		UseRMSFilt:          ptrBool(e.GetUseRMSFilt()),
		MaxRMS:              ptrFloat64(e.GetMaxRMS()),
		Verbose:             ptrBool(e.GetVerbose()),
		Purify:              ptrBool(e.GetPurify()),
		PurifyMaxRMS:        ptrFloat64(e.GetPurifyMaxRMS()),
		PurifyMinObs:        ptrInt(e.GetPurifyMinObs()),
		FilterRMS:           ptrBool(e.GetFilterRMS()),
		FilterMaxRMS:        ptrFloat64(e.GetFilterMaxRMS()),
		KeepLongest:         ptrBool(e.GetKeepLongest()),
		RemoveSubsets:       ptrBool(e.GetRemoveSubsets()),
		MinOutputDetections: ptrInt(e.GetMinOutputDetections()),
		Workers:             ptrInt(e.GetWorkers()),
	}
}

// LoadLinkingConfig loads a LinkingConfig from a .json, .yaml or .yml file.
// The file must be under 1MB. Fields omitted from the file retain their
// default values.
func LoadLinkingConfig(path string) (*LinkingConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyLinkingConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that every stage's options derived from c are valid.
func (c *LinkingConfig) Validate() error {
	if err := c.FinderConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Tolerances != nil {
		if _, err := collapse.TolerancesFromSlice(c.Tolerances); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := c.CollapseOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.PostfilterOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if n := c.GetMinOutputDetections(); n < 2 {
		return fmt.Errorf("%w: min_output_detections must be at least 2, got %d", ErrInvalidConfig, n)
	}
	return nil
}

// FinderConfig converts the finder fields, turning hours into days.
func (c *LinkingConfig) FinderConfig() finder.Config {
	return finder.Config{
		MinV:    c.GetMinV(),
		MaxV:    c.GetMaxV(),
		MinDt:   c.GetMinDtHours() / 24.0,
		MaxDt:   c.GetMaxDtHours() / 24.0,
		Workers: c.GetWorkers(),
	}
}

// CollapseOptions converts the collapse fields.
func (c *LinkingConfig) CollapseOptions() collapse.Options {
	return collapse.Options{
		Tolerances: c.GetTolerances(),
		Mode: collapse.Mode{
			UseMinimumRMS: c.GetUseMinimumRMS(),
			UseBestFit:    c.GetUseBestFit(),
			UseRMSFilt:    c.GetUseRMSFilt(),
		},
		MaxRMS:  c.GetMaxRMS(),
		Verbose: c.GetVerbose(),
		Workers: c.GetWorkers(),
	}
}

// PostfilterOptions converts the post-filter fields.
func (c *LinkingConfig) PostfilterOptions() postfilter.Options {
	return postfilter.Options{
		Purify:        c.GetPurify(),
		PurifyMaxRMS:  c.GetPurifyMaxRMS(),
		PurifyMinObs:  c.GetPurifyMinObs(),
		FilterByRMS:   c.GetFilterRMS(),
		MaxRMS:        c.GetFilterMaxRMS(),
		KeepLongest:   c.GetKeepLongest(),
		RemoveSubsets: c.GetRemoveSubsets(),
	}
}

// GetMinV returns the min_v value or the default.
func (c *LinkingConfig) GetMinV() float64 {
	if c.MinV == nil {
		return finder.DefaultMinV
	}
	return *c.MinV
}

// GetMaxV returns the max_v value or the default.
func (c *LinkingConfig) GetMaxV() float64 {
	if c.MaxV == nil {
		return finder.DefaultMaxV
	}
	return *c.MaxV
}

// GetMinDtHours returns the min_dt_hours value or the default.
func (c *LinkingConfig) GetMinDtHours() float64 {
	if c.MinDtHours == nil {
		return finder.DefaultMinDt * 24
	}
	return *c.MinDtHours
}

// GetMaxDtHours returns the max_dt_hours value or the default (1.5 hours).
func (c *LinkingConfig) GetMaxDtHours() float64 {
	if c.MaxDtHours == nil {
		return finder.DefaultMaxDt * 24
	}
	return *c.MaxDtHours
}

// GetTolerances returns the collapse tolerances or the defaults. A
// malformed vector also yields the defaults; Validate reports it.
func (c *LinkingConfig) GetTolerances() collapse.Tolerances {
	if c.Tolerances == nil {
		return collapse.DefaultTolerances()
	}
	t, err := collapse.TolerancesFromSlice(c.Tolerances)
	if err != nil {
		return collapse.DefaultTolerances()
	}
	return t
}

// GetUseMinimumRMS returns the use_minimum_rms value or the default.
func (c *LinkingConfig) GetUseMinimumRMS() bool {
	if c.UseMinimumRMS == nil {
		return false
	}
	return *c.UseMinimumRMS
}

// GetUseBestFit returns the use_best_fit value or the default.
func (c *LinkingConfig) GetUseBestFit() bool {
	if c.UseBestFit == nil {
		return false
	}
	return *c.UseBestFit
}

// GetUseRMSFilt returns the use_rms_filt value or the default.
func (c *LinkingConfig) GetUseRMSFilt() bool {
	if c.UseRMSFilt == nil {
		return false
	}
	return *c.UseRMSFilt
}

// GetMaxRMS returns the max_rms value or the default.
func (c *LinkingConfig) GetMaxRMS() float64 {
	if c.MaxRMS == nil {
		return 0.001
	}
	return *c.MaxRMS
}

// GetVerbose returns the verbose value or the default.
func (c *LinkingConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// GetPurify returns the purify value or the default.
func (c *LinkingConfig) GetPurify() bool {
	if c.Purify == nil {
		return false
	}
	return *c.Purify
}

// GetPurifyMaxRMS returns the purify_max_rms value or the default.
func (c *LinkingConfig) GetPurifyMaxRMS() float64 {
	if c.PurifyMaxRMS == nil {
		return 0.001
	}
	return *c.PurifyMaxRMS
}

// GetPurifyMinObs returns the purify_min_obs value or the default.
func (c *LinkingConfig) GetPurifyMinObs() int {
	if c.PurifyMinObs == nil {
		return 2
	}
	return *c.PurifyMinObs
}

// GetFilterRMS returns the filter_rms value or the default.
func (c *LinkingConfig) GetFilterRMS() bool {
	if c.FilterRMS == nil {
		return false
	}
	return *c.FilterRMS
}

// GetFilterMaxRMS returns the filter_max_rms value or the default.
func (c *LinkingConfig) GetFilterMaxRMS() float64 {
	if c.FilterMaxRMS == nil {
		return 0.001
	}
	return *c.FilterMaxRMS
}

// GetKeepLongest returns the keep_longest value or the default.
func (c *LinkingConfig) GetKeepLongest() bool {
	if c.KeepLongest == nil {
		return false
	}
	return *c.KeepLongest
}

// GetRemoveSubsets returns the remove_subsets value or the default.
func (c *LinkingConfig) GetRemoveSubsets() bool {
	if c.RemoveSubsets == nil {
		return false
	}
	return *c.RemoveSubsets
}

// GetMinOutputDetections returns the min_output_detections value or the
// default.
func (c *LinkingConfig) GetMinOutputDetections() int {
	if c.MinOutputDetections == nil {
		return 2
	}
	return *c.MinOutputDetections
}

// GetWorkers returns the workers value or the default.
func (c *LinkingConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// isFinite is used by the env overrides.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

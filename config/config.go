// Package config defines the structures that configure building and streaming an octree.
package config

import (
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/ooc/loader"
	"go.viam.com/ooc/octree"
	"go.viam.com/ooc/octreefile"
)

// Config is the content of a configuration file.
type Config struct {
	ConfigFilePath string `json:"-"`

	Build  Build  `json:"build"`
	Loader Loader `json:"loader"`
}

// Build configures the offline construction of an index.
type Build struct {
	Input              string `json:"input"`
	Output             string `json:"output"`
	MaxPointsPerBucket int    `json:"max_points_per_bucket,omitempty"`
	MaxLevel           *int   `json:"max_level,omitempty"`
	Workers            int    `json:"workers,omitempty"`
	Compression        string `json:"compression,omitempty"`
}

// Loader configures streaming an index.
type Loader struct {
	PointBudget              int      `json:"point_budget,omitempty"`
	MinProjectedSize         float64  `json:"min_projected_size,omitempty"`
	MinProjectedSizeModifier *float64 `json:"min_projected_size_modifier,omitempty"`
	MaxNodesToLoad           int      `json:"max_nodes_to_load,omitempty"`
	UpdateIntervalMs         *int     `json:"update_interval_ms,omitempty"`
	Async                    bool     `json:"async,omitempty"`
	FetchWorkers             int      `json:"fetch_workers,omitempty"`
}

// Ensure fills in defaults and validates the whole config.
func (c *Config) Ensure() error {
	c.Build.setDefaults()
	c.Loader.setDefaults()
	if err := c.Build.validateSettings("build"); err != nil {
		return err
	}
	return c.Loader.Validate("loader")
}

func (b *Build) setDefaults() {
	if b.MaxPointsPerBucket == 0 {
		b.MaxPointsPerBucket = octree.DefaultMaxPointsPerBucket
	}
	if b.MaxLevel == nil {
		maxLevel := octree.DefaultMaxLevel
		b.MaxLevel = &maxLevel
	}
	if b.Compression == "" {
		b.Compression = string(octreefile.CompressionNone)
	}
}

func (b *Build) validateSettings(path string) error {
	if b.MaxPointsPerBucket < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_points_per_bucket must be positive"))
	}
	if b.MaxLevel != nil && *b.MaxLevel < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_level must not be negative"))
	}
	if b.Workers < 0 {
		return utils.NewConfigValidationError(path, errors.New("workers must not be negative"))
	}
	if err := octreefile.Compression(b.Compression).Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Validate ensures all parts of the build config are valid, including the paths a build needs.
func (b *Build) Validate(path string) error {
	if b.Input == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "input")
	}
	if b.Output == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "output")
	}
	return b.validateSettings(path)
}

// BuildOptions returns the octree construction options.
func (b *Build) BuildOptions() []octree.BuildOption {
	opts := []octree.BuildOption{octree.WithMaxPointsPerBucket(b.MaxPointsPerBucket)}
	if b.MaxLevel != nil {
		opts = append(opts, octree.WithMaxLevel(*b.MaxLevel))
	}
	return opts
}

// WriterOptions returns the index writer options.
func (b *Build) WriterOptions() []octreefile.WriterOption {
	opts := []octreefile.WriterOption{octreefile.WithCompression(octreefile.Compression(b.Compression))}
	if b.Workers > 0 {
		opts = append(opts, octreefile.WithWorkers(b.Workers))
	}
	return opts
}

func (l *Loader) setDefaults() {
	defaults := loader.DefaultConfig()
	if l.PointBudget == 0 {
		l.PointBudget = defaults.PointBudget
	}
	if l.MinProjectedSizeModifier == nil {
		modifier := defaults.MinProjectedSizeModifier
		l.MinProjectedSizeModifier = &modifier
	}
	if l.MaxNodesToLoad == 0 {
		l.MaxNodesToLoad = defaults.MaxNodesToLoad
	}
	if l.UpdateIntervalMs == nil {
		interval := int(defaults.UpdateInterval / time.Millisecond)
		l.UpdateIntervalMs = &interval
	}
	if l.FetchWorkers == 0 {
		l.FetchWorkers = defaults.FetchWorkers
	}
}

// Validate ensures all parts of the loader config are valid.
func (l *Loader) Validate(path string) error {
	if l.PointBudget < 0 {
		return utils.NewConfigValidationError(path, errors.New("point_budget must be positive"))
	}
	if l.MinProjectedSize < 0 {
		return utils.NewConfigValidationError(path, errors.New("min_projected_size must not be negative"))
	}
	if l.MinProjectedSizeModifier != nil && *l.MinProjectedSizeModifier < 0 {
		return utils.NewConfigValidationError(path, errors.New("min_projected_size_modifier must not be negative"))
	}
	if l.UpdateIntervalMs != nil && *l.UpdateIntervalMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("update_interval_ms must not be negative"))
	}
	if l.MaxNodesToLoad < 0 || l.FetchWorkers < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_nodes_to_load and fetch_workers must not be negative"))
	}
	return nil
}

// LoaderConfig converts the settings for loader.New. Defaults must have been applied.
func (l *Loader) LoaderConfig() loader.Config {
	cfg := loader.Config{
		PointBudget:      l.PointBudget,
		MinProjectedSize: l.MinProjectedSize,
		MaxNodesToLoad:   l.MaxNodesToLoad,
		Async:            l.Async,
		FetchWorkers:     l.FetchWorkers,
	}
	if l.MinProjectedSizeModifier != nil {
		cfg.MinProjectedSizeModifier = *l.MinProjectedSizeModifier
	}
	if l.UpdateIntervalMs != nil {
		cfg.UpdateInterval = time.Duration(*l.UpdateIntervalMs) * time.Millisecond
	}
	return cfg
}

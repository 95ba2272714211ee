package config

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/internal/pipeline"
	"github.com/Faultbox/m2mod/pkg/listfile"
)

func (c *Config) engineSettings() engine.Settings {
	s := c.Engine.Settings
	s.WorkingDirectory = c.Paths.WorkingDirectory
	s.OutputDirectory = c.Paths.OutputDirectory
	s.MappingsDirectory = c.Paths.MappingsDirectory
	return s
}

// ExportRequest snapshots the export section.
func (c *Config) ExportRequest() pipeline.ExportRequest {
	return pipeline.ExportRequest{
		InputM2:   c.Export.InputM2,
		OutputM2I: c.Export.OutputM2I,
		Settings:  c.engineSettings(),
	}
}

// ImportRequest snapshots the import section and the rule set.
func (c *Config) ImportRequest() (pipeline.ImportRequest, error) {
	set, err := c.RuleSet()
	if err != nil {
		return pipeline.ImportRequest{}, err
	}
	return pipeline.ImportRequest{
		InputM2:           c.Import.InputM2,
		InputM2I:          c.Import.InputM2I,
		ReplaceM2:         c.Import.ReplaceM2,
		ReplaceEnabled:    c.Import.ReplaceEnabled,
		OutputDirectory:   c.Paths.OutputDirectory,
		MappingsDirectory: c.Paths.MappingsDirectory,
		Rules:             set,
		Settings:          c.engineSettings(),
	}, nil
}

// ListfileCache returns the on-disk cache for the community listfile.
func (c *Config) ListfileCache(log *zap.Logger) *listfile.Cache {
	cache := listfile.NewCache(c.Paths.MappingsDirectory, log)
	if c.Listfile.CacheFile != "" {
		cache.Path = filepath.Join(c.Paths.MappingsDirectory, c.Listfile.CacheFile)
	}
	if c.Listfile.MaxAge > 0 {
		cache.MaxAge = c.Listfile.MaxAge
	}
	if c.Listfile.Timeout > 0 {
		cache.Timeout = c.Listfile.Timeout
	}
	return cache
}

// ListfileSource returns the configured download source. S3 wins over URL.
func (c *Config) ListfileSource(ctx context.Context) (listfile.Source, error) {
	if c.Listfile.S3 != nil && c.Listfile.S3.Bucket != "" {
		src, err := listfile.NewS3Source(ctx, *c.Listfile.S3)
		if err != nil {
			return nil, fmt.Errorf("listfile s3 source: %w", err)
		}
		return src, nil
	}
	url := c.Listfile.URL
	if url == "" {
		url = listfile.DefaultURL
	}
	return &listfile.HTTPSource{URL: url}, nil
}

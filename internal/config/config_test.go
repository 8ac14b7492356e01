package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(t *testing.T, values map[string]any) *viper.Viper {
	t.Helper()
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("DEPENDECY_TRACK_TOKEN", "")
	v := New()
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoadEOLFinder(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		_, err := LoadEOLFinder(newTestViper(t, nil))
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadEOLFinder(newTestViper(t, map[string]any{"github_token": "tok"}))
		require.NoError(t, err)
		assert.Equal(t, "tok", cfg.GitHub.Token)
		assert.Equal(t, "NethServer", cfg.AdvisoryOwner)
		assert.Equal(t, "nh-sbom", cfg.AdvisoryRepo)
		assert.Equal(t, DefaultEndOfLifeURL, cfg.EndOfLifeURL)
		assert.Equal(t, DefaultSBOMSuffix, cfg.SBOMSuffix)
		assert.Equal(t, DefaultEOLCacheSize, cfg.CacheSize)
		assert.False(t, cfg.FailClosed)
		assert.Zero(t, cfg.GitHub.MaxRetries)
	})

	t.Run("fail closed", func(t *testing.T) {
		cfg, err := LoadEOLFinder(newTestViper(t, map[string]any{
			"github_token":     "tok",
			"duplicate_policy": "FAIL-CLOSED",
		}))
		require.NoError(t, err)
		assert.True(t, cfg.FailClosed)
	})

	t.Run("bad advisory repository", func(t *testing.T) {
		_, err := LoadEOLFinder(newTestViper(t, map[string]any{
			"github_token":        "tok",
			"advisory_repository": "nh-sbom",
		}))
		assert.Error(t, err)
	})

	t.Run("bad policy", func(t *testing.T) {
		_, err := LoadEOLFinder(newTestViper(t, map[string]any{
			"github_token":     "tok",
			"duplicate_policy": "sometimes",
		}))
		assert.Error(t, err)
	})
}

func TestLoadUploader(t *testing.T) {
	t.Run("dependency track token checked first", func(t *testing.T) {
		_, err := LoadUploader(newTestViper(t, map[string]any{"github_token": "tok"}))
		require.ErrorIs(t, err, ErrMissingToken)
		assert.Contains(t, err.Error(), "DEPENDECY_TRACK_TOKEN")
	})

	t.Run("missing github token", func(t *testing.T) {
		_, err := LoadUploader(newTestViper(t, map[string]any{"dependecy_track_token": "dt"}))
		require.ErrorIs(t, err, ErrMissingToken)
		assert.Contains(t, err.Error(), "GITHUB_TOKEN")
	})

	t.Run("repos file required", func(t *testing.T) {
		_, err := LoadUploader(newTestViper(t, map[string]any{
			"dependecy_track_token": "dt",
			"github_token":          "tok",
		}))
		assert.Error(t, err)
	})

	t.Run("ok", func(t *testing.T) {
		cfg, err := LoadUploader(newTestViper(t, map[string]any{
			"dependecy_track_token":    "dt",
			"github_token":             "tok",
			"repos-file":               "repos.json",
			"dependency-track-api-url": "http://dt.example/api/v1/",
			"log-level":                "DEBUG",
		}))
		require.NoError(t, err)
		assert.Equal(t, "dt", cfg.DependencyTrackKey)
		assert.Equal(t, "http://dt.example/api/v1", cfg.DependencyTrackURL)
		assert.Equal(t, "repos.json", cfg.ReposFile)
		assert.Equal(t, "DEBUG", cfg.LogLevel)
		assert.Equal(t, DefaultProjectPageSize, cfg.PageSize)
	})
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrMissingToken = errors.New("token environment variable is not set")

const (
	DefaultAdvisoryRepository = "NethServer/nh-sbom"
	DefaultEndOfLifeURL       = "https://endoflife.date/api"
	DefaultDependencyTrackURL = "http://localhost:8081/api/v1"
	DefaultSBOMSuffix         = ".cdx.json"
	DefaultEOLCacheSize       = 1024
	DefaultProjectPageSize    = 10000
)

// GitHub settings shared by both tools.
type GitHub struct {
	Token      string
	APIURL     string
	MaxRetries int
}

type EOLFinder struct {
	GitHub        GitHub
	AdvisoryOwner string
	AdvisoryRepo  string
	EndOfLifeURL  string
	SBOMSuffix    string
	CacheSize     int
	FailClosed    bool
	ReportCSVPath string
}

type Uploader struct {
	GitHub             GitHub
	DependencyTrackKey string
	DependencyTrackURL string
	ReposFile          string
	LogLevel           string
	PageSize           int
}

// New returns a viper instance reading from the environment, with an
// optional .env file in the working directory loaded first.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	v.SetDefault("advisory_repository", DefaultAdvisoryRepository)
	v.SetDefault("endoflife_api_url", DefaultEndOfLifeURL)
	v.SetDefault("sbom_suffix", DefaultSBOMSuffix)
	v.SetDefault("eol_cache_size", DefaultEOLCacheSize)
	v.SetDefault("duplicate_policy", "fail-open")
	v.SetDefault("http_max_retries", 0)
	v.SetDefault("dependency_track_page_size", DefaultProjectPageSize)
	return v
}

func loadGitHub(v *viper.Viper) (GitHub, error) {
	token := v.GetString("github_token")
	if token == "" {
		return GitHub{}, fmt.Errorf("GITHUB_TOKEN: %w", ErrMissingToken)
	}
	retries := v.GetInt("http_max_retries")
	if retries < 0 {
		return GitHub{}, fmt.Errorf("invalid HTTP_MAX_RETRIES: %d", retries)
	}
	return GitHub{
		Token:      token,
		APIURL:     v.GetString("github_api_url"),
		MaxRetries: retries,
	}, nil
}

func LoadEOLFinder(v *viper.Viper) (EOLFinder, error) {
	gh, err := loadGitHub(v)
	if err != nil {
		return EOLFinder{}, err
	}

	owner, repo, ok := strings.Cut(v.GetString("advisory_repository"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return EOLFinder{}, fmt.Errorf("invalid ADVISORY_REPOSITORY: %q", v.GetString("advisory_repository"))
	}

	cacheSize := v.GetInt("eol_cache_size")
	if cacheSize <= 0 {
		return EOLFinder{}, fmt.Errorf("invalid EOL_CACHE_SIZE: %d", cacheSize)
	}

	var failClosed bool
	switch policy := strings.ToLower(v.GetString("duplicate_policy")); policy {
	case "fail-open", "":
	case "fail-closed":
		failClosed = true
	default:
		return EOLFinder{}, fmt.Errorf("invalid DUPLICATE_POLICY: %s", policy)
	}

	return EOLFinder{
		GitHub:        gh,
		AdvisoryOwner: owner,
		AdvisoryRepo:  repo,
		EndOfLifeURL:  strings.TrimRight(v.GetString("endoflife_api_url"), "/"),
		SBOMSuffix:    v.GetString("sbom_suffix"),
		CacheSize:     cacheSize,
		FailClosed:    failClosed,
		ReportCSVPath: v.GetString("report_csv"),
	}, nil
}

// LoadUploader expects the uploader's flags to be bound on v already.
func LoadUploader(v *viper.Viper) (Uploader, error) {
	dtKey := v.GetString("dependecy_track_token")
	if dtKey == "" {
		return Uploader{}, fmt.Errorf("DEPENDECY_TRACK_TOKEN: %w", ErrMissingToken)
	}
	gh, err := loadGitHub(v)
	if err != nil {
		return Uploader{}, err
	}

	reposFile := v.GetString("repos-file")
	if reposFile == "" {
		return Uploader{}, errors.New("--repos-file is required")
	}

	dtURL := v.GetString("dependency-track-api-url")
	if dtURL == "" {
		dtURL = DefaultDependencyTrackURL
	}

	pageSize := v.GetInt("dependency_track_page_size")
	if pageSize <= 0 {
		return Uploader{}, fmt.Errorf("invalid DEPENDENCY_TRACK_PAGE_SIZE: %d", pageSize)
	}

	return Uploader{
		GitHub:             gh,
		DependencyTrackKey: dtKey,
		DependencyTrackURL: strings.TrimRight(dtURL, "/"),
		ReposFile:          reposFile,
		LogLevel:           v.GetString("log-level"),
		PageSize:           pageSize,
	}, nil
}

package uploader

import (
	"regexp"
	"strings"
)

// LatestVersion is used for assets whose name carries no version.
const LatestVersion = "latest"

var sbomExtensions = []string{".cdx.json", ".bom"}

var (
	versionSuffix     = regexp.MustCompile(`[-_](v?\d[\w\-.]*)$`)
	versionArchSuffix = regexp.MustCompile(`[-_](v?\d[\w\-.]*)(-x86-64-generic)?$`)
)

// nameRule maps an asset base name (extensions stripped) to a project name.
// Rules are evaluated in order; the first match wins.
type nameRule struct {
	match   func(base string) bool
	project func(base, repo string) string
}

var assetNameRules = []nameRule{
	{
		match: oneOf("imageroot", "ui", "php", "sbom"),
		project: func(base, repo string) string {
			if repo == "" {
				return base
			}
			return repo + "-" + base
		},
	},
	{
		match: func(string) bool { return true },
		project: func(base, _ string) string {
			return strings.Replace(versionArchSuffix.ReplaceAllString(base, ""), "-", ".", 3)
		},
	},
}

func oneOf(names ...string) func(string) bool {
	return func(base string) bool {
		for _, n := range names {
			if base == n {
				return true
			}
		}
		return false
	}
}

func stripExtensions(filename string) string {
	for _, ext := range sbomExtensions {
		filename = strings.TrimSuffix(filename, ext)
	}
	return filename
}

// ProjectNameFromAsset derives a project name from an SBOM asset file name,
// e.g. "ns8-mail-v1-8-0.cdx.json" becomes "ns8.mail".
func ProjectNameFromAsset(filename string) string {
	return RepoProjectName(filename, "")
}

// RepoProjectName is ProjectNameFromAsset with the generic asset names
// (imageroot, ui, php, sbom) qualified by the repository name.
func RepoProjectName(filename, repo string) string {
	base := stripExtensions(filename)
	for _, rule := range assetNameRules {
		if rule.match(base) {
			return rule.project(base, repo)
		}
	}
	return base
}

// VersionFromAsset returns the trailing version-like suffix of an asset name,
// or LatestVersion when there is none.
func VersionFromAsset(filename string) string {
	m := versionSuffix.FindStringSubmatch(stripExtensions(filename))
	if m == nil {
		return LatestVersion
	}
	return strings.TrimLeft(m[1], "-_")
}

// ParseGitHubURL extracts owner and repository from a github.com URL.
// ok is false for any other URL.
func ParseGitHubURL(repoURL string) (owner, name string, ok bool) {
	_, rest, found := strings.Cut(repoURL, "github.com/")
	if !found {
		return "", "", false
	}
	owner, rest, found = strings.Cut(rest, "/")
	if !found {
		return "", "", false
	}
	name, _, _ = strings.Cut(rest, "/")
	return owner, name, true
}

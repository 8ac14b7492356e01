// Package repolist reads the repositories JSON file: an object whose keys are
// category labels and whose values are arrays of repository URLs.
package repolist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/afero"
)

var ErrInvalidURL = errors.New("invalid repository URL")

type Category struct {
	Name string
	URLs []string
}

type Ref struct {
	Owner    string
	Name     string
	Category string
}

func (r Ref) FullName() string {
	return r.Owner + "/" + r.Name
}

// ParseURL takes the last two slash separated segments as owner and name.
// At least five segments are required, as in https://github.com/owner/name.
func ParseURL(url string) (Ref, error) {
	parts := strings.Split(url, "/")
	if len(parts) < 5 {
		return Ref{}, fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}
	return Ref{Owner: parts[len(parts)-2], Name: parts[len(parts)-1]}, nil
}

// Parse decodes the categories in file order.
func Parse(r io.Reader) ([]Category, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	categories := make([]Category, 0)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", keyTok)
		}
		var urls []string
		if err := dec.Decode(&urls); err != nil {
			return nil, fmt.Errorf("category %q: %w", key, err)
		}
		categories = append(categories, Category{Name: key, URLs: urls})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return categories, nil
}

func Read(fs afero.Fs, path string) ([]Category, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open repositories file: %w", err)
	}
	defer f.Close()

	categories, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse repositories file %s: %w", path, err)
	}
	return categories, nil
}

// Refs flattens categories into repository refs. Invalid URLs are logged and
// skipped; duplicates are kept.
func Refs(categories []Category, logger *slog.Logger) []Ref {
	refs := make([]Ref, 0)
	for _, c := range categories {
		for _, url := range c.URLs {
			ref, err := ParseURL(url)
			if err != nil {
				logger.Warn("skipping repository", "category", c.Name, "err", err)
				continue
			}
			ref.Category = c.Name
			refs = append(refs, ref)
		}
	}
	return refs
}

func Load(fs afero.Fs, path string, logger *slog.Logger) ([]Ref, error) {
	categories, err := Read(fs, path)
	if err != nil {
		return nil, err
	}
	return Refs(categories, logger), nil
}

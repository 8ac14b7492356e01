// Package sbom pulls the components worth an EOL lookup out of CycloneDX
// documents.
package sbom

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/scylladb/go-set/strset"
)

type Component struct {
	Name    string
	Version string
	Cycle   string
}

// CycleOf truncates a version to major.minor. Versions with fewer than two
// dot separated segments are returned unchanged.
func CycleOf(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return version
	}
	return strings.Join(parts[:2], ".")
}

// Extract decodes a CycloneDX JSON document and returns its top level
// components whose name is in known. Components missing a name or a version
// are ignored. Duplicates collapse; the result is sorted by name then version.
// A document that does not decode yields nil. Documents declaring a
// specVersion the CycloneDX library does not know are still read for their
// component names and versions.
func Extract(content []byte, known *strset.Set, logger *slog.Logger) []Component {
	components, err := decodeComponents(content)
	if err != nil {
		logger.Warn("failed to parse SBOM content", "err", err)
		return nil
	}
	if components == nil {
		return nil
	}

	seen := make(map[Component]struct{})
	out := make([]Component, 0)
	for _, c := range components {
		if c.Name == "" || c.Version == "" || !known.Has(c.Name) {
			continue
		}
		comp := Component{Name: c.Name, Version: c.Version, Cycle: CycleOf(c.Version)}
		if _, ok := seen[comp]; ok {
			continue
		}
		seen[comp] = struct{}{}
		out = append(out, comp)
	}
	slices.SortFunc(out, func(a, b Component) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Version, b.Version))
	})
	return out
}

type componentRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func decodeComponents(content []byte) ([]componentRef, error) {
	var bom cdx.BOM
	err := cdx.NewBOMDecoder(bytes.NewReader(content), cdx.BOMFileFormatJSON).Decode(&bom)
	if errors.Is(err, cdx.ErrInvalidSpecVersion) {
		return decodeLenient(content)
	}
	if err != nil {
		return nil, err
	}
	if bom.Components == nil {
		return nil, nil
	}
	refs := make([]componentRef, 0, len(*bom.Components))
	for _, c := range *bom.Components {
		refs = append(refs, componentRef{Name: c.Name, Version: c.Version})
	}
	return refs, nil
}

// decodeLenient reads only components[].name and components[].version.
func decodeLenient(content []byte) ([]componentRef, error) {
	var doc struct {
		Components []componentRef `json:"components"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	return doc.Components, nil
}

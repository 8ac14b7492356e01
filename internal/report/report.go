// Package report renders the EOL findings of a run.
package report

import (
	"github.com/nethserver/nh-sbom/internal/exporter"

	"github.com/spf13/afero"
)

var Headers = []string{"repository", "sbom", "component", "version", "cycle", "fingerprint", "outcome"}

type Row struct {
	Repository  string
	SBOM        string
	Component   string
	Version     string
	Cycle       string
	Fingerprint string
	Outcome     string
}

type Exporter struct {
	fs afero.Fs
}

func NewExporter(fs afero.Fs) *Exporter {
	return &Exporter{fs: fs}
}

func (e *Exporter) ExportCSV(outputPath string, rows []Row) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{r.Repository, r.SBOM, r.Component, r.Version, r.Cycle, r.Fingerprint, r.Outcome})
	}
	return exporter.WriteCSV(e.fs, outputPath, Headers, records)
}

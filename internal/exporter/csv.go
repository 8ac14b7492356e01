package exporter

import (
	"encoding/csv"

	"github.com/spf13/afero"
)

func WriteCSV(fs afero.Fs, outputPath string, headers []string, records [][]string) error {
	f, err := fs.Create(outputPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return err
	}
	for _, record := range records {
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

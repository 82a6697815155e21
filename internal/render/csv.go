package render

import (
	"bytes"
	"encoding/csv"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

// renderCSV always writes the header row, so an empty result set still
// yields a readable file.
func renderCSV(rows []model.Row, fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(fields); err != nil {
		return nil, errors.Render("csv header write failed",
			errors.WithID("render.csv.header"), errors.WithCause(err))
	}
	for _, row := range rows {
		if err := w.Write(project(row, fields)); err != nil {
			return nil, errors.Render("csv row write failed",
				errors.WithID("render.csv.row"), errors.WithCause(err))
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Render("csv flush failed",
			errors.WithID("render.csv.flush"), errors.WithCause(err))
	}
	return buf.Bytes(), nil
}

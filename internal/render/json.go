package render

import (
	"encoding/json"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

// renderJSON emits the projected rows as an array of objects keyed by field
// name. An empty result renders as [] rather than null.
func renderJSON(rows []model.Row, fields []string) ([]byte, error) {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]any, len(fields))
		for _, f := range fields {
			obj[f] = row[f]
		}
		out = append(out, obj)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, errors.Render("json encoding failed",
			errors.WithID("render.json.marshal"), errors.WithCause(err))
	}
	return data, nil
}

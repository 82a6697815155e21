// Package render turns query rows into artifact bytes. The executor only
// sees the Renderer interface; format support is a template-activation
// concern, never a runtime surprise.
package render

import (
	"fmt"
	"strconv"
	"time"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

type Renderer interface {
	Render(rows []model.Row, fields []string, format model.Format) ([]byte, error)
	Supports(format model.Format) bool
}

type renderer struct{}

// New returns a renderer covering pdf, xlsx, csv and json.
func New() Renderer {
	return &renderer{}
}

func (r *renderer) Supports(format model.Format) bool {
	return format.Valid()
}

func (r *renderer) Render(rows []model.Row, fields []string, format model.Format) ([]byte, error) {
	if len(fields) == 0 {
		return nil, errors.Render("no fields to render",
			errors.WithID("render.no_fields"))
	}
	switch format {
	case model.FormatCSV:
		return renderCSV(rows, fields)
	case model.FormatJSON:
		return renderJSON(rows, fields)
	case model.FormatXLSX:
		return renderXLSX(rows, fields)
	case model.FormatPDF:
		return renderPDF(rows, fields)
	default:
		return nil, errors.Render("unsupported format: "+string(format),
			errors.WithID("render.unsupported_format"))
	}
}

// cellString renders one value for tabular output. Floats keep their plain
// notation; row values decoded from JSON arrive as float64 even when the
// source column is integral.
func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format("2006-01-02 15:04")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// project trims a row down to the exported fields, in order.
func project(row model.Row, fields []string) []string {
	rec := make([]string, len(fields))
	for i, f := range fields {
		rec[i] = cellString(row[f])
	}
	return rec
}

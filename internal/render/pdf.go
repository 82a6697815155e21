package render

import (
	"github.com/johnfercher/maroto/pkg/consts"
	"github.com/johnfercher/maroto/pkg/pdf"
	"github.com/johnfercher/maroto/pkg/props"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

func renderPDF(rows []model.Row, fields []string) ([]byte, error) {
	m := pdf.NewMaroto(consts.Landscape, consts.A4)
	m.SetBorder(false)

	contents := make([][]string, 0, len(rows))
	for _, row := range rows {
		contents = append(contents, project(row, fields))
	}

	m.TableList(fields, contents, props.TableList{
		HeaderProp: props.TableListContent{
			Size:      10,
			GridSizes: gridSizes(len(fields)),
		},
		ContentProp: props.TableListContent{
			Size:      9,
			GridSizes: gridSizes(len(fields)),
		},
		Align:              consts.Left,
		HeaderContentSpace: 2,
		Line:               true,
	})

	buf, err := m.Output()
	if err != nil {
		return nil, errors.Render("pdf output failed",
			errors.WithID("render.pdf.output"), errors.WithCause(err))
	}
	return buf.Bytes(), nil
}

// gridSizes spreads the 12-column maroto grid evenly over the fields.
func gridSizes(n int) []uint {
	if n == 0 {
		return nil
	}
	base := uint(12 / n)
	if base == 0 {
		base = 1
	}
	sizes := make([]uint, n)
	for i := range sizes {
		sizes[i] = base
	}
	return sizes
}

package render

import (
	"bytes"

	"github.com/tealeg/xlsx/v3"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

func renderXLSX(rows []model.Row, fields []string) ([]byte, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Export")
	if err != nil {
		return nil, errors.Render("xlsx sheet creation failed",
			errors.WithID("render.xlsx.sheet"), errors.WithCause(err))
	}

	header := sheet.AddRow()
	for _, f := range fields {
		header.AddCell().SetString(f)
	}

	for _, row := range rows {
		out := sheet.AddRow()
		for _, f := range fields {
			cell := out.AddCell()
			switch v := row[f].(type) {
			case nil:
				cell.SetString("")
			case float64:
				cell.SetFloat(v)
			case int64:
				cell.SetInt64(v)
			case int:
				cell.SetInt(v)
			case bool:
				cell.SetBool(v)
			default:
				cell.SetString(cellString(v))
			}
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, errors.Render("xlsx write failed",
			errors.WithID("render.xlsx.write"), errors.WithCause(err))
	}
	return buf.Bytes(), nil
}

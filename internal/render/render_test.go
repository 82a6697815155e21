package render

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/report-exporter/internal/model"
)

var testRows = []model.Row{
	{"invoice_id": "inv-1", "amount": 120.5, "paid": true},
	{"invoice_id": "inv-2", "amount": int64(80), "paid": false},
}

var testFields = []string{"invoice_id", "amount", "paid"}

func TestRenderCSV(t *testing.T) {
	r := New()
	data, err := r.Render(testRows, testFields, model.FormatCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "invoice_id,amount,paid", lines[0])
	assert.Equal(t, "inv-1,120.5,true", lines[1])
	assert.Equal(t, "inv-2,80,false", lines[2])
}

func TestRenderCSVEmptyResultKeepsHeader(t *testing.T) {
	data, err := New().Render(nil, testFields, model.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "invoice_id,amount,paid", strings.TrimSpace(string(data)))
}

func TestRenderJSON(t *testing.T) {
	data, err := New().Render(testRows, testFields, model.FormatJSON)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "inv-1", decoded[0]["invoice_id"])
	assert.Equal(t, 120.5, decoded[0]["amount"])
	assert.Equal(t, false, decoded[1]["paid"])
}

func TestRenderJSONEmptyResultIsArray(t *testing.T) {
	data, err := New().Render(nil, testFields, model.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))
}

func TestRenderXLSX(t *testing.T) {
	data, err := New().Render(testRows, testFields, model.FormatXLSX)
	require.NoError(t, err)
	// xlsx files are zip archives.
	require.Greater(t, len(data), 4)
	assert.Equal(t, []byte{'P', 'K'}, data[:2])
}

func TestRenderPDF(t *testing.T) {
	data, err := New().Render(testRows, testFields, model.FormatPDF)
	require.NoError(t, err)
	require.Greater(t, len(data), 5)
	assert.Equal(t, "%PDF-", string(data[:5]))
}

func TestRenderRejectsEmptyFieldList(t *testing.T) {
	_, err := New().Render(testRows, nil, model.FormatCSV)
	assert.Error(t, err)
}

func TestRenderRejectsUnknownFormat(t *testing.T) {
	_, err := New().Render(testRows, testFields, "docx")
	assert.Error(t, err)
	assert.False(t, New().Supports("docx"))
}

func TestCellString(t *testing.T) {
	assert.Equal(t, "", cellString(nil))
	assert.Equal(t, "42", cellString(42))
	assert.Equal(t, "42", cellString(int64(42)))
	assert.Equal(t, "3.25", cellString(3.25))
	assert.Equal(t, "true", cellString(true))
	assert.Equal(t, "2025-04-15 06:30", cellString(time.Date(2025, 4, 15, 6, 30, 0, 0, time.UTC)))
}

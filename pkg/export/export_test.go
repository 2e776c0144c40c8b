package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSheet() Sheet {
	return Sheet{
		Title:   "CS301 Networks",
		Summary: []SummaryLine{{Label: "Present", Value: "2"}, {Label: "Absent", Value: "1"}},
		Headers: []string{"Roll No", "Name", "Status"},
		Rows: [][]string{
			{"01", "Asha", "present"},
			{"02", "Bala"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleSheet())
	require.NoError(t, err)

	text := string(out)
	assert.True(t, strings.HasPrefix(text, "Present,2\nAbsent,1\n"))
	assert.True(t, strings.HasSuffix(text, "Roll No,Name,Status\n01,Asha,present\n02,Bala,\n"))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Sheet{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	sheet := sampleSheet()
	for i := 0; i < 60; i++ {
		sheet.Rows = append(sheet.Rows, []string{"99", "Extra", "absent"})
	}
	out, err := NewPDFExporter().Render(sheet)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

package cansasio

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutronik/sansred/internal/hist"
	"github.com/neutronik/sansred/internal/units"
)

func testCurve(t *testing.T, withVariances bool) *hist.Spectrum {
	t.Helper()
	s := &hist.Spectrum{
		Dim:      "Q",
		Edges:    []float64{0.01, 0.02, 0.03},
		EdgeUnit: units.InvAngstrom,
		Values:   []float64{5, 2.5},
		Unit:     units.Dimensionless,
	}
	if withVariances {
		s.Variances = []float64{4, 1}
	}
	require.NoError(t, s.Validate())
	return s
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, testCurve(t, true), Metadata{
		Title:      "polymer blend",
		Run:        "sans2d-63114",
		Instrument: "sans2d",
		Process:    "sansred",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, out, `<SASroot version="1.1">`)
	assert.Contains(t, out, "<Title>polymer blend</Title>")
	assert.Contains(t, out, "<Run>sans2d-63114</Run>")
	assert.Contains(t, out, `<Q unit="1/angstrom">0.015</Q>`)
	assert.Contains(t, out, `<Idev unit="">2</Idev>`)
	assert.Contains(t, out, "<name>sans2d</name>")

	// The document must round-trip through the XML decoder.
	var doc sasRoot
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Entries, 1)
	require.Len(t, doc.Entries[0].Data.Points, 2)
	assert.InDelta(t, 0.025, doc.Entries[0].Data.Points[1].Q.Value, 1e-12)
	assert.InDelta(t, 2.5, doc.Entries[0].Data.Points[1].I.Value, 1e-12)
	assert.InDelta(t, 1, doc.Entries[0].Data.Points[1].Idev.Value, 1e-12)
}

func TestWrite_NoVariancesNoIdev(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testCurve(t, false), Metadata{}))
	assert.NotContains(t, buf.String(), "<Idev")
	assert.NotContains(t, buf.String(), "<SASinstrument>")
}

func TestWrite_InvalidCurve(t *testing.T) {
	bad := &hist.Spectrum{Dim: "Q", Edges: []float64{0.01}, Values: []float64{1}}
	err := Write(&bytes.Buffer{}, bad, Metadata{})
	assert.ErrorContains(t, err, "writing canSAS")
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iofq.xml")
	require.NoError(t, WriteFile(path, testCurve(t, true), Metadata{Title: "t"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<SASroot")
}

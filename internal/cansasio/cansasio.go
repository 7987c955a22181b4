// Package cansasio writes reduced I(Q) curves in the canSAS XML 1D format.
package cansasio

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/neutronik/sansred/internal/hist"
)

// Metadata ends up in the SASentry header.
type Metadata struct {
	Title      string
	Run        string
	Instrument string
	Process    string
}

type sasRoot struct {
	XMLName xml.Name   `xml:"SASroot"`
	Version string     `xml:"version,attr"`
	Entries []sasEntry `xml:"SASentry"`
}

type sasEntry struct {
	Title      string         `xml:"Title"`
	Run        string         `xml:"Run"`
	Data       sasData        `xml:"SASdata"`
	Instrument *sasInstrument `xml:"SASinstrument,omitempty"`
	Process    *sasProcess    `xml:"SASprocess,omitempty"`
}

type sasInstrument struct {
	Name string `xml:"name"`
}

type sasProcess struct {
	Name string `xml:"name"`
}

type sasData struct {
	Points []sasPoint `xml:"Idata"`
}

type sasPoint struct {
	Q    sasValue  `xml:"Q"`
	I    sasValue  `xml:"I"`
	Idev *sasValue `xml:"Idev,omitempty"`
}

type sasValue struct {
	Unit  string  `xml:"unit,attr"`
	Value float64 `xml:",chardata"`
}

// Write emits one I(Q) curve as a canSAS document. Q values are the bin
// midpoints; Idev is included when the curve carries variances.
func Write(w io.Writer, curve *hist.Spectrum, meta Metadata) error {
	if err := curve.Validate(); err != nil {
		return fmt.Errorf("writing canSAS: %w", err)
	}
	entry := sasEntry{
		Title: meta.Title,
		Run:   meta.Run,
		Data:  sasData{Points: make([]sasPoint, curve.NBins())},
	}
	if meta.Instrument != "" {
		entry.Instrument = &sasInstrument{Name: meta.Instrument}
	}
	if meta.Process != "" {
		entry.Process = &sasProcess{Name: meta.Process}
	}
	mid := curve.Midpoints()
	for j := 0; j < curve.NBins(); j++ {
		p := sasPoint{
			Q: sasValue{Unit: string(curve.EdgeUnit), Value: mid[j]},
			I: sasValue{Unit: string(curve.Unit), Value: curve.Values[j]},
		}
		if curve.Variances != nil {
			p.Idev = &sasValue{Unit: string(curve.Unit), Value: stddev(curve.Variances[j])}
		}
		entry.Data.Points[j] = p
	}
	doc := sasRoot{Version: "1.1", Entries: []sasEntry{entry}}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("writing canSAS: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("writing canSAS: %w", err)
	}
	return enc.Close()
}

// WriteFile writes the curve to a file, creating or truncating it.
func WriteFile(path string, curve *hist.Spectrum, meta Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing canSAS: %w", err)
	}
	if err := Write(f, curve, meta); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func stddev(variance float64) float64 {
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

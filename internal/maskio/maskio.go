// Package maskio reads pixel masks in the ISIS detector-masking XML format:
//
//	<?xml version="1.0"?>
//	<detector-masking>
//	    <group>
//	        <detids>1400203-1400218,1401199,1402190-1402223</detids>
//	    </group>
//	</detector-masking>
//
// where detids holds comma-separated detector IDs and inclusive ID ranges.
package maskio

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type maskXML struct {
	XMLName xml.Name `xml:"detector-masking"`
	Groups  []struct {
		DetIDs []string `xml:"detids"`
	} `xml:"group"`
}

// ReadFile reads the masked detector IDs from an XML mask file.
func ReadFile(path string) ([]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mask file: %w", err)
	}
	ids, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("mask file %q: %w", path, err)
	}
	return ids, nil
}

// Parse extracts the masked detector IDs from XML mask data.
func Parse(data []byte) ([]int64, error) {
	var doc maskXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing detector-masking XML: %w", err)
	}
	var ids []int64
	for _, g := range doc.Groups {
		for _, text := range g.DetIDs {
			for _, field := range strings.Split(text, ",") {
				field = strings.TrimSpace(field)
				if field == "" {
					continue
				}
				lo, hi, err := parseRange(field)
				if err != nil {
					return nil, err
				}
				for id := lo; id <= hi; id++ {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids, nil
}

func parseRange(field string) (lo, hi int64, err error) {
	if start, stop, ok := strings.Cut(field, "-"); ok {
		lo, err = strconv.ParseInt(strings.TrimSpace(start), 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad detector ID range %q: %w", field, err)
		}
		hi, err = strconv.ParseInt(strings.TrimSpace(stop), 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad detector ID range %q: %w", field, err)
		}
		if hi < lo {
			return 0, 0, fmt.Errorf("bad detector ID range %q: end before start", field)
		}
		return lo, hi, nil
	}
	id, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad detector ID %q: %w", field, err)
	}
	return id, id, nil
}

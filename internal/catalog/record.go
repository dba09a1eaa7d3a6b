// Package catalog holds the construction-service catalog: the record
// model, file ingestion (CSV and XLSX), and the SQLite persistence layer.
//
// A loaded catalog is an ordered, immutable sequence of records. RowIndex
// is the position in storage order and stays a stable bijection with the
// index positions for the lifetime of one loaded generation; it resets on
// every reload.
package catalog

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
)

// Record is one catalog row. Immutable once loaded.
type Record struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Normalized  string  `json:"-"`
	Unit        string  `json:"unit"`
	Price       float64 `json:"price"`
	Source      string  `json:"source"`
	Group       string  `json:"group"`
	RowIndex    int     `json:"-"`
}

// ParsePrice converts a price field to float64. Accepts plain numerics
// ("1234.56") and Brazilian locale formatting with dot thousands and
// comma decimals ("1.234,56", "1.234"). Anything unparsable, including
// empty input, yields 0.0; a malformed price never aborts a load.
func ParsePrice(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0.0
	}
	raw = strings.TrimPrefix(raw, "R$")
	raw = strings.TrimSpace(raw)

	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
	} else if dotsAreThousands(raw) {
		raw = strings.ReplaceAll(raw, ".", "")
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0.0
	}
	return v
}

// dotsAreThousands reports whether a comma-less numeric string uses
// dots as locale thousands grouping ("1.234", "12.345.678"): every dot
// must delimit a group of exactly three digits. A lone trailing group
// of another width ("1234.56") is a plain decimal point.
func dotsAreThousands(s string) bool {
	if !strings.Contains(s, ".") {
		return false
	}
	groups := strings.Split(s, ".")
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
		for _, c := range g {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// Neighborhood returns the records in [anchor-radius, anchor+radius]
// clamped to corpus bounds, in storage order. Catalog rows are commonly
// grouped by service family, so neighbors of a strong match are useful
// low-confidence supplements. A negative radius or out-of-range anchor
// returns nil.
func Neighborhood(records []Record, anchor, radius int) []Record {
	if radius < 0 || anchor < 0 || anchor >= len(records) {
		return nil
	}
	start := anchor - radius
	if start < 0 {
		start = 0
	}
	end := anchor + radius + 1
	if end > len(records) {
		end = len(records)
	}
	out := make([]Record, end-start)
	copy(out, records[start:end])
	return out
}

// Hash computes the content identity of a loaded corpus: SHA-256 over
// every row's code and raw description in storage order. Used to key the
// embedding cache so a changed corpus forces recomputation.
func Hash(records []Record) string {
	h := sha256.New()
	for _, r := range records {
		h.Write([]byte(r.Code))
		h.Write([]byte{0})
		h.Write([]byte(r.Description))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

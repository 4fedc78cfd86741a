// Package candidates turns operator-supplied offer lists (CSV, JSON or a
// shared Google Sheet) into CandidateOffers.
//
// Only row mapping happens here. Identity and membership live in the
// inventory package.
package candidates

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"offerwall/reconciler-service/internal/model"
)

// ErrNoCandidates is returned when a source yields no usable rows.
var ErrNoCandidates = errors.New("no candidate offers found")

// InputError wraps a user-facing problem with the supplied list.
type InputError struct{ Msg string }

func (e *InputError) Error() string { return e.Msg }

// field identifies one CandidateOffer attribute.
type field int

const (
	fieldName field = iota
	fieldCountry
	fieldPlatform
	fieldPayoutModel
	fieldNetwork
	fieldPayout
	numFields
)

// aliases maps a folded header (lower case, no spaces/underscores/dashes)
// to the field it fills.
var aliases = map[string]field{
	"name":             fieldName,
	"offer":            fieldName,
	"offername":        fieldName,
	"title":            fieldName,
	"country":          fieldCountry,
	"geo":              fieldCountry,
	"countrycode":      fieldCountry,
	"platform":         fieldPlatform,
	"device":           fieldPlatform,
	"os":               fieldPlatform,
	"payoutmodel":      fieldPayoutModel,
	"payouttype":       fieldPayoutModel,
	"model":            fieldPayoutModel,
	"network":          fieldNetwork,
	"affiliatenetwork": fieldNetwork,
	"source":           fieldNetwork,
	"payout":           fieldPayout,
	"rate":             fieldPayout,
	"amount":           fieldPayout,
}

func foldHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

// lookupField resolves a header cell to a field.
func lookupField(h string) (field, bool) {
	f, ok := aliases[foldHeader(h)]
	return f, ok
}

// columns holds the column index of each field, -1 when absent.
type columns [numFields]int

func mapHeader(header []string) (columns, error) {
	var cols columns
	for i := range cols {
		cols[i] = -1
	}
	for i, h := range header {
		if f, ok := lookupField(h); ok && cols[f] < 0 {
			cols[f] = i
		}
	}
	if cols[fieldName] < 0 {
		return cols, &InputError{Msg: fmt.Sprintf("no offer name column in header %q", header)}
	}
	return cols, nil
}

func (c columns) get(rec []string, f field) string {
	i := c[f]
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// FromRecords maps a header row plus data rows onto candidates. Rows with an
// empty name are skipped; Row keeps the 1-based position among data rows.
func FromRecords(records [][]string) ([]model.CandidateOffer, error) {
	if len(records) == 0 {
		return nil, ErrNoCandidates
	}
	cols, err := mapHeader(records[0])
	if err != nil {
		return nil, err
	}

	out := make([]model.CandidateOffer, 0, len(records)-1)
	for i, rec := range records[1:] {
		name := cols.get(rec, fieldName)
		if strings.TrimSpace(name) == "" {
			continue
		}
		payout, err := parsePayout(cols.get(rec, fieldPayout))
		if err != nil {
			return nil, &InputError{Msg: fmt.Sprintf("row %d: %v", i+1, err)}
		}
		out = append(out, model.NewCandidate(i+1,
			name,
			cols.get(rec, fieldCountry),
			cols.get(rec, fieldPlatform),
			cols.get(rec, fieldPayoutModel),
			cols.get(rec, fieldNetwork),
			payout,
		))
	}
	if len(out) == 0 {
		return nil, ErrNoCandidates
	}
	return out, nil
}

// parsePayout accepts "", "1.5", "$1,200.00". Empty means unknown.
func parsePayout(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("$", "", "€", "", ",", "").Replace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid payout %q", s)
	}
	return &v, nil
}

// ReadCSV reads a comma separated list with a header row.
func ReadCSV(r io.Reader) ([]model.CandidateOffer, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, &InputError{Msg: fmt.Sprintf("invalid CSV: %v", err)}
	}
	return FromRecords(records)
}

// Read picks a reader from the file name, falling back to sniffing the
// first non-blank byte.
func Read(filename string, r io.Reader) ([]model.CandidateOffer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return ReadCSV(bytes.NewReader(data))
	case ".json":
		return ReadJSON(data)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return ReadJSON(data)
	}
	return ReadCSV(bytes.NewReader(data))
}

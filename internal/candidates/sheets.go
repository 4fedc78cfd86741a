package candidates

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"offerwall/reconciler-service/internal/model"
)

var (
	sheetURLPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)
	sheetIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]{20,}$`)
)

// SpreadsheetID extracts the document ID from a shared-sheet URL. A bare ID
// is returned unchanged.
func SpreadsheetID(sheetURL string) (string, error) {
	if m := sheetURLPattern.FindStringSubmatch(sheetURL); m != nil {
		return m[1], nil
	}
	if sheetIDPattern.MatchString(sheetURL) {
		return sheetURL, nil
	}
	return "", &InputError{Msg: fmt.Sprintf("not a Google Sheets URL: %q", sheetURL)}
}

// SheetsReader reads candidate lists from Google Sheets.
type SheetsReader struct {
	srv *sheets.Service
}

// NewSheetsReader authenticates with the service account JSON at credsPath
// (falling back to GOOGLE_APPLICATION_CREDENTIALS).
func NewSheetsReader(ctx context.Context, credsPath string) (*SheetsReader, error) {
	if credsPath == "" {
		credsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if credsPath == "" {
		return nil, fmt.Errorf("no Google credentials configured")
	}

	b, err := os.ReadFile(credsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	config, err := google.JWTConfigFromJSON(b, sheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}

	return NewSheetsReaderWithOptions(ctx, option.WithHTTPClient(config.Client(ctx)))
}

// NewSheetsReaderWithOptions builds a reader from raw client options.
func NewSheetsReaderWithOptions(ctx context.Context, opts ...option.ClientOption) (*SheetsReader, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &SheetsReader{srv: srv}, nil
}

// Read fetches readRange (A1 notation) from the sheet at sheetURL. An empty
// range reads the whole first tab.
func (r *SheetsReader) Read(ctx context.Context, sheetURL, readRange string) ([]model.CandidateOffer, error) {
	id, err := SpreadsheetID(sheetURL)
	if err != nil {
		return nil, err
	}

	if readRange == "" {
		sp, err := r.srv.Spreadsheets.Get(id).Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("get spreadsheet %s: %w", id, err)
		}
		if len(sp.Sheets) == 0 || sp.Sheets[0].Properties == nil {
			return nil, ErrNoCandidates
		}
		readRange = sp.Sheets[0].Properties.Title
	}

	resp, err := r.srv.Spreadsheets.Values.Get(id, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet %s!%s: %w", id, readRange, err)
	}

	records := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		rec := make([]string, len(row))
		for i, cell := range row {
			rec[i] = fmt.Sprint(cell)
		}
		records = append(records, rec)
	}
	return FromRecords(records)
}

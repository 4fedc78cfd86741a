package candidates_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"offerwall/reconciler-service/internal/candidates"
)

const testSheetID = "1AbC_d-EfGhIjKlMnOpQrStUvWxYz"

func fakeSheetsAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "/values/"):
			json.NewEncoder(w).Encode(map[string]any{
				"range": "Offers!A1:C4",
				"values": [][]any{
					{"Offer", "Geo", "Platform"},
					{"Acme", "US", "Android"},
					{""},
					{"Bolt", "FR"},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/spreadsheets/"+testSheetID):
			json.NewEncoder(w).Encode(map[string]any{
				"sheets": []any{map[string]any{"properties": map[string]any{"title": "Offers"}}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSheetsReader_ReadFirstTab(t *testing.T) {
	api := fakeSheetsAPI(t)
	ctx := context.Background()

	r, err := candidates.NewSheetsReaderWithOptions(ctx,
		option.WithEndpoint(api.URL+"/"),
		option.WithHTTPClient(api.Client()),
	)
	require.NoError(t, err)

	got, err := r.Read(ctx, "https://docs.google.com/spreadsheets/d/"+testSheetID+"/edit", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Acme", got[0].Name)
	assert.Equal(t, "Android", got[0].Platform)
	assert.Equal(t, "Bolt", got[1].Name)
	assert.Equal(t, 3, got[1].Row)
}

func TestSheetsReader_BadURL(t *testing.T) {
	r, err := candidates.NewSheetsReaderWithOptions(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)

	_, err = r.Read(context.Background(), "not a sheet", "")
	var ie *candidates.InputError
	assert.ErrorAs(t, err, &ie)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventree_bom_sync/internal/model"
)

const mouserLMR51430 = `{
  "Errors": [],
  "SearchResults": {
    "NumberOfResult": 1,
    "Parts": [{
      "ManufacturerPartNumber": "LMR51430XDDCR",
      "Manufacturer": "Texas Instruments",
      "MouserPartNumber": "595-LMR51430XDDCR",
      "Description": "Switching Voltage Regulators <b>4.5-V</b> to 36-V, 3-A",
      "ImagePath": "https://www.mouser.com/images/texasinstruments/images/SOT-23-6_DDC_t.jpg",
      "DataSheetUrl": "https://www.ti.com/lit/ds/symlink/lmr51430.pdf",
      "Category": "Switching Voltage Regulators",
      "PriceBreaks": [
        {"Quantity": 1, "Price": "€ 1,85", "Currency": "EUR"},
        {"Quantity": 10, "Price": "€ 1,32", "Currency": "EUR"},
        {"Quantity": 100, "Price": "n/a", "Currency": "EUR"}
      ]
    }]
  }
}`

func newMouserTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/search/partnumber" || r.URL.Query().Get("apiKey") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req mouserSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.SearchByPartRequest.PartSearchOptions != "Exact" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch req.SearchByPartRequest.MouserPartNumber {
		case "595-LMR51430XDDCR":
			_, _ = w.Write([]byte(mouserLMR51430))
		case "500":
			w.WriteHeader(http.StatusBadGateway)
		case "595-MIXED":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`{"Errors":[],"SearchResults":{"NumberOfResult":1,"Parts":[{
				"ManufacturerPartNumber":"MIXED","MouserPartNumber":"595-MIXED",
				"PriceBreaks":[
					{"Quantity":"many","Price":"€ 2,00","Currency":"EUR"},
					{"Quantity":1,"Price":1.5,"Currency":"USD"},
					{"Quantity":25,"Price":null,"Currency":null},
					{"Quantity":100,"Price":"$ 1.10","Currency":"USD"}]}]}}`))
		default:
			_, _ = w.Write([]byte(`{"Errors":[],"SearchResults":{"NumberOfResult":0,"Parts":[]}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewMouserService_MissingKey(t *testing.T) {
	svc, err := NewMouserService(&MouserConfig{APIKey: "  "})
	assert.Nil(t, svc)
	assert.True(t, errors.Is(err, ErrMissingMouserAPIKey))
}

func TestMouserService_FetchBySKU(t *testing.T) {
	srv := newMouserTestServer(t)
	svc, err := NewMouserService(&MouserConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	data, ok := svc.FetchBySKU(context.Background(), "595-LMR51430XDDCR")
	require.True(t, ok)
	assert.Equal(t, "LMR51430XDDCR", data.MPN)
	assert.Equal(t, "Texas Instruments", data.Manufacturer)
	assert.Equal(t, "Switching Voltage Regulators 4.5-V to 36-V, 3-A", data.Description)
	assert.Equal(t, "595-LMR51430XDDCR", data.MouserSKU)
	assert.Empty(t, data.LCSCSKU)
	assert.Equal(t, []string{"Switching Voltage Regulators"}, data.CategoryPath)
	assert.Equal(t, "EUR", data.Currency)
	assert.Equal(t, model.SupplierMouser, data.PriceSource)

	// the malformed row is dropped, the rest survive
	require.Len(t, data.PriceBreaks, 2)
	assert.True(t, data.PriceBreaks[1].Equal(decimal.RequireFromString("1.85")))
	assert.True(t, data.PriceBreaks[10].Equal(decimal.RequireFromString("1.32")))
}

func TestMouserService_FetchBySKU_MalformedPriceRows(t *testing.T) {
	srv := newMouserTestServer(t)
	svc, err := NewMouserService(&MouserConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	data, ok := svc.FetchBySKU(context.Background(), "595-MIXED")
	require.True(t, ok)
	require.NotNil(t, data)
	assert.Equal(t, "MIXED", data.MPN)
	require.Len(t, data.PriceBreaks, 2)
	assert.True(t, data.PriceBreaks[1].Equal(decimal.RequireFromString("1.5")))
	assert.True(t, data.PriceBreaks[100].Equal(decimal.RequireFromString("1.10")))
	assert.Equal(t, "USD", data.Currency)
}

func TestMouserService_FetchBySKU_NotFound(t *testing.T) {
	srv := newMouserTestServer(t)

	tests := []struct {
		name string
		key  string
		sku  string
	}{
		{name: "no parts", key: "test-key", sku: "595-NOPE"},
		{name: "server error", key: "test-key", sku: "500"},
		{name: "rejected key", key: "wrong", sku: "595-LMR51430XDDCR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewMouserService(&MouserConfig{APIKey: tt.key, BaseURL: srv.URL})
			require.NoError(t, err)
			data, ok := svc.FetchBySKU(context.Background(), tt.sku)
			assert.False(t, ok)
			assert.Nil(t, data)
		})
	}
}

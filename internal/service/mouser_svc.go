package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"inventree_bom_sync/internal/metrics"
	"inventree_bom_sync/internal/model"
	"inventree_bom_sync/pkg/logger"
	"inventree_bom_sync/pkg/utils"
)

// ==================== Config ====================

type MouserConfig struct {
	APIKey  string
	BaseURL string // default https://api.mouser.com
	Timeout time.Duration
	Logger  *zap.Logger
}

// ==================== Wire types ====================

type mouserSearchRequest struct {
	SearchByPartRequest struct {
		MouserPartNumber  string `json:"mouserPartNumber"`
		PartSearchOptions string `json:"partSearchOptions"`
	} `json:"SearchByPartRequest"`
}

type mouserSearchResponse struct {
	Errors []struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Errors"`
	SearchResults *struct {
		NumberOfResult int          `json:"NumberOfResult"`
		Parts          []mouserPart `json:"Parts"`
	} `json:"SearchResults"`
}

type mouserPart struct {
	ManufacturerPartNumber string             `json:"ManufacturerPartNumber"`
	Manufacturer           string             `json:"Manufacturer"`
	MouserPartNumber       string             `json:"MouserPartNumber"`
	Description            string             `json:"Description"`
	ImagePath              string             `json:"ImagePath"`
	DataSheetURL           string             `json:"DataSheetUrl"`
	Category               string             `json:"Category"`
	PriceBreaks            []mouserPriceBreak `json:"PriceBreaks"`
}

type mouserPriceBreak struct {
	Quantity json.RawMessage `json:"Quantity"`
	Price    json.RawMessage `json:"Price"`
	Currency json.RawMessage `json:"Currency"`
}

// ==================== Service ====================

// MouserService fetches parts from the Mouser search API v2.
type MouserService struct {
	Config *MouserConfig
	client *resty.Client
	log    *zap.Logger
}

// NewMouserService returns ErrMissingMouserAPIKey when no key is configured.
func NewMouserService(cfg *MouserConfig) (*MouserService, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingMouserAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mouser.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &MouserService{
		Config: cfg,
		client: utils.NewRestClient(utils.ClientOptions{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}),
		log: logger.OrNop(cfg.Logger).Named("mouser"),
	}, nil
}

// FetchBySKU runs an exact part-number search for a Mouser SKU such as
// "595-LMR51430XDDCR" and normalises the first hit.
func (s *MouserService) FetchBySKU(ctx context.Context, sku string) (*model.PartData, bool) {
	started := time.Now()

	var req mouserSearchRequest
	req.SearchByPartRequest.MouserPartNumber = sku
	req.SearchByPartRequest.PartSearchOptions = "Exact"

	var body mouserSearchResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("apiKey", s.Config.APIKey).
		SetBody(req).
		SetResult(&body).
		Post("/api/v2/search/partnumber")
	if err == nil && resp.IsError() {
		err = fmt.Errorf("search failed with status: %d", resp.StatusCode())
	}
	if err != nil {
		s.log.Error("fetch by sku failed", zap.String("sku", sku), zap.Error(err))
		metrics.ObserveFetch(string(model.SupplierMouser), "sku", metrics.ResultError, started)
		return nil, false
	}
	if len(body.Errors) > 0 {
		s.log.Warn("api reported errors",
			zap.String("sku", sku),
			zap.String("code", body.Errors[0].Code),
			zap.String("message", body.Errors[0].Message),
		)
	}

	if body.SearchResults == nil || len(body.SearchResults.Parts) == 0 {
		s.log.Warn("no results", zap.String("sku", sku))
		metrics.ObserveFetch(string(model.SupplierMouser), "sku", metrics.ResultNotFound, started)
		return nil, false
	}

	metrics.ObserveFetch(string(model.SupplierMouser), "sku", metrics.ResultFound, started)
	return s.parsePart(&body.SearchResults.Parts[0], sku), true
}

// ==================== Internal ====================

func (s *MouserService) parsePart(p *mouserPart, sku string) *model.PartData {
	data := &model.PartData{
		MPN:          p.ManufacturerPartNumber,
		Manufacturer: p.Manufacturer,
		Description:  StripHTML(p.Description),
		ImageURL:     p.ImagePath,
		DatasheetURL: p.DataSheetURL,
		MouserSKU:    sku,
		PriceBreaks:  make(map[int]decimal.Decimal),
		Currency:     model.DefaultCurrency,
	}
	if cat := strings.TrimSpace(p.Category); cat != "" {
		data.CategoryPath = []string{cat}
	}

	for _, pb := range p.PriceBreaks {
		qty, err := scalarQuantity(pb.Quantity)
		if err != nil {
			s.log.Debug("skipping price row", zap.String("sku", sku), zap.ByteString("quantity", pb.Quantity))
			continue
		}
		price, err := ParsePrice(scalarText(pb.Price))
		if err != nil {
			s.log.Debug("skipping price row", zap.String("sku", sku), zap.ByteString("price", pb.Price))
			continue
		}
		data.PriceBreaks[qty] = price
		if currency := scalarText(pb.Currency); currency != "" {
			data.Currency = currency
		}
	}
	if len(data.PriceBreaks) > 0 {
		data.PriceSource = model.SupplierMouser
	}
	return data
}

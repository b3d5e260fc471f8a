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

type LCSCConfig struct {
	BaseURL     string // default https://wmsc.lcsc.com
	Currency    string // default EUR
	Timeout     time.Duration
	InitTimeout time.Duration
	Logger      *zap.Logger
}

// ==================== Wire types ====================

type lcscEnvelope[T any] struct {
	Code   int `json:"code"`
	Result *T  `json:"result"`
}

type lcscProduct struct {
	ProductCode      string          `json:"productCode"`
	ProductModel     string          `json:"productModel"`
	BrandNameEn      string          `json:"brandNameEn"`
	ProductDescEn    string          `json:"productDescEn"`
	ProductImageURL  string          `json:"productImageUrlBig"`
	ProductImages    []string        `json:"productImages"`
	PdfURL           string          `json:"pdfUrl"`
	EncapStandard    string          `json:"encapStandard"`
	ParamVOList      []lcscParam     `json:"paramVOList"`
	ProductPriceList []lcscPriceStep `json:"productPriceList"`
}

type lcscParam struct {
	ParamNameEn  string `json:"paramNameEn"`
	ParamValueEn string `json:"paramValueEn"`
}

type lcscPriceStep struct {
	Ladder        json.RawMessage `json:"ladder"`
	CurrencyPrice json.RawMessage `json:"currencyPrice"`
}

type lcscSearchResult struct {
	TipProductDetailURLVO *struct {
		ProductCode string `json:"productCode"`
	} `json:"tipProductDetailUrlVO"`
	ProductSearchResultVO *struct {
		ProductList []struct {
			ProductCode  string `json:"productCode"`
			ProductModel string `json:"productModel"`
		} `json:"productList"`
	} `json:"productSearchResultVO"`
}

// ==================== Service ====================

// LCSCService fetches parts from the LCSC wmsc catalog API.
type LCSCService struct {
	Config *LCSCConfig
	client *resty.Client
	log    *zap.Logger
}

func NewLCSCService(cfg *LCSCConfig) *LCSCService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://wmsc.lcsc.com"
	}
	if cfg.Currency == "" {
		cfg.Currency = model.DefaultCurrency
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.InitTimeout == 0 {
		cfg.InitTimeout = 10 * time.Second
	}

	client := utils.NewRestClient(utils.ClientOptions{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Headers: map[string]string{
			"User-Agent":      utils.IOSUserAgent,
			"Accept-Language": "en-US,en",
		},
	})
	return &LCSCService{
		Config: cfg,
		client: client,
		log:    logger.OrNop(cfg.Logger).Named("lcsc"),
	}
}

// InitSession selects the catalog currency. The choice is kept as a cookie in
// the client's jar. Failure is logged and ignored; prices then come back in
// LCSC's default currency.
func (s *LCSCService) InitSession(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Config.InitTimeout)
	defer cancel()

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("currencyCode", s.Config.Currency).
		Get("/wmsc/home/currency")
	if err != nil {
		s.log.Warn("currency init failed", zap.Error(err))
		return
	}
	if resp.IsError() {
		s.log.Warn("currency init failed", zap.Int("status", resp.StatusCode()))
	}
}

// FetchBySKU loads the product detail for an LCSC product code such as "C25744".
func (s *LCSCService) FetchBySKU(ctx context.Context, sku string) (*model.PartData, bool) {
	started := time.Now()
	product, err := s.fetchDetail(ctx, sku)
	if err != nil {
		s.log.Error("fetch by sku failed", zap.String("sku", sku), zap.Error(err))
		metrics.ObserveFetch(string(model.SupplierLCSC), "sku", metrics.ResultError, started)
		return nil, false
	}
	if product == nil {
		s.log.Warn("empty result", zap.String("sku", sku))
		metrics.ObserveFetch(string(model.SupplierLCSC), "sku", metrics.ResultNotFound, started)
		return nil, false
	}

	metrics.ObserveFetch(string(model.SupplierLCSC), "sku", metrics.ResultFound, started)
	return s.parseProduct(product, sku), true
}

// FetchByPartNumber searches by manufacturer part number and loads the detail
// of the best hit: the API's direct-match hint, then an exact case-insensitive
// model match, then the first listed product.
func (s *LCSCService) FetchByPartNumber(ctx context.Context, mpn string) (*model.PartData, bool) {
	started := time.Now()
	var body lcscEnvelope[lcscSearchResult]
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"keyword": mpn}).
		SetResult(&body).
		Post("/ftps/wm/search/v2/global")
	if err == nil && resp.IsError() {
		err = fmt.Errorf("search failed with status: %d", resp.StatusCode())
	}
	if err != nil {
		s.log.Error("fetch by part number failed", zap.String("mpn", mpn), zap.Error(err))
		metrics.ObserveFetch(string(model.SupplierLCSC), "mpn", metrics.ResultError, started)
		return nil, false
	}

	code := pickSearchHit(body.Result, mpn)
	if code == "" {
		s.log.Warn("no search hit", zap.String("mpn", mpn))
		metrics.ObserveFetch(string(model.SupplierLCSC), "mpn", metrics.ResultNotFound, started)
		return nil, false
	}
	metrics.ObserveFetch(string(model.SupplierLCSC), "mpn", metrics.ResultFound, started)

	s.log.Debug("search resolved", zap.String("mpn", mpn), zap.String("sku", code))
	return s.FetchBySKU(ctx, code)
}

// ==================== Internal ====================

func (s *LCSCService) fetchDetail(ctx context.Context, sku string) (*lcscProduct, error) {
	var body lcscEnvelope[lcscProduct]
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("productCode", sku).
		SetResult(&body).
		Get("/ftps/wm/product/detail")
	if err != nil {
		return nil, fmt.Errorf("http get failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("detail failed with status: %d", resp.StatusCode())
	}
	if body.Result == nil || (body.Result.ProductCode == "" && body.Result.ProductModel == "") {
		return nil, nil
	}
	return body.Result, nil
}

func pickSearchHit(result *lcscSearchResult, mpn string) string {
	if result == nil {
		return ""
	}
	if tip := result.TipProductDetailURLVO; tip != nil && tip.ProductCode != "" {
		return tip.ProductCode
	}
	if result.ProductSearchResultVO == nil {
		return ""
	}

	products := result.ProductSearchResultVO.ProductList
	for _, p := range products {
		if strings.EqualFold(p.ProductModel, mpn) && p.ProductCode != "" {
			return p.ProductCode
		}
	}
	if len(products) > 0 {
		return products[0].ProductCode
	}
	return ""
}

func (s *LCSCService) parseProduct(p *lcscProduct, sku string) *model.PartData {
	data := &model.PartData{
		MPN:          p.ProductModel,
		Manufacturer: p.BrandNameEn,
		Description:  p.ProductDescEn,
		ImageURL:     p.ProductImageURL,
		DatasheetURL: fixDatasheetURL(p.PdfURL),
		LCSCSKU:      sku,
		Package:      p.EncapStandard,
		Parameters:   make(map[string]string),
		PriceBreaks:  make(map[int]decimal.Decimal),
		Currency:     s.Config.Currency,
	}
	if data.LCSCSKU == "" {
		data.LCSCSKU = p.ProductCode
	}
	if data.ImageURL == "" && len(p.ProductImages) > 0 {
		data.ImageURL = p.ProductImages[0]
	}

	for _, param := range p.ParamVOList {
		name := strings.TrimSpace(param.ParamNameEn)
		value := strings.TrimSpace(param.ParamValueEn)
		if name != "" && value != "" {
			data.Parameters[name] = value
		}
	}

	for _, step := range p.ProductPriceList {
		qty, err := scalarQuantity(step.Ladder)
		if err != nil {
			s.log.Debug("skipping price row", zap.String("sku", data.LCSCSKU), zap.ByteString("ladder", step.Ladder))
			continue
		}
		price, err := decimal.NewFromString(scalarText(step.CurrencyPrice))
		if err != nil {
			s.log.Debug("skipping price row", zap.String("sku", data.LCSCSKU), zap.ByteString("price", step.CurrencyPrice))
			continue
		}
		data.PriceBreaks[qty] = price
	}
	if len(data.PriceBreaks) > 0 {
		data.PriceSource = model.SupplierLCSC
	}
	return data
}

// fixDatasheetURL rewrites the datasheet CDN host to the wmsc mirror.
func fixDatasheetURL(u string) string {
	return strings.Replace(u, "//datasheet.lcsc.com/", "//wmsc.lcsc.com/wmsc/upload/file/pdf/v2/", 1)
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"inventree_bom_sync/internal/metrics"
	"inventree_bom_sync/internal/model"
	"inventree_bom_sync/pkg/logger"
	"inventree_bom_sync/pkg/utils"
)

// Backend is the inventory system the pipeline reads from and writes to.
// Handles are plain int64 primary keys; nothing returned holds a connection.
type Backend interface {
	Create(ctx context.Context, coll model.Collection, fields map[string]any) (model.Record, error)
	List(ctx context.Context, coll model.Collection, filters map[string]string) ([]model.Record, error)
	UploadImage(ctx context.Context, partID int64, filename string, data []byte) error
	AddRelated(ctx context.Context, partA, partB int64) error
}

// ==================== Config ====================

type InvenTreeConfig struct {
	BaseURL  string // e.g. http://inventree.local:8000
	Token    string
	Username string // used only when Token is empty
	Password string
	Timeout  time.Duration
	Logger   *zap.Logger
}

var collectionPaths = map[model.Collection]string{
	model.CollectionParts:             "/api/part/",
	model.CollectionCategories:        "/api/part/category/",
	model.CollectionCompanies:         "/api/company/",
	model.CollectionSupplierParts:     "/api/company/part/",
	model.CollectionManufacturerParts: "/api/company/part/manufacturer/",
	model.CollectionPriceBreaks:       "/api/company/price-break/",
	model.CollectionBomItems:          "/api/bom/",
	model.CollectionRelatedParts:      "/api/part/related/",
}

var (
	ErrNotAuthenticated  = errors.New("inventree: no token and no credentials configured")
	ErrUnknownCollection = errors.New("inventree: unknown collection")
)

// APIError is a non-2xx answer from the InvenTree API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("inventree API error [%d]: %s", e.Status, body)
}

// ==================== Client ====================

// InvenTreeClient implements Backend over the InvenTree REST API.
type InvenTreeClient struct {
	config InvenTreeConfig
	client *resty.Client
	log    *zap.Logger
}

func NewInvenTreeClient(cfg InvenTreeConfig) *InvenTreeClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &InvenTreeClient{
		config: cfg,
		client: utils.NewRestClient(utils.ClientOptions{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}),
		log: logger.OrNop(cfg.Logger).Named("inventree"),
	}
	if cfg.Token != "" {
		c.client.SetHeader("Authorization", "Token "+cfg.Token)
	}
	return c
}

// Authenticate exchanges username/password for an API token when no token was
// configured. It is a no-op when a token is already set.
func (c *InvenTreeClient) Authenticate(ctx context.Context) error {
	if c.config.Token != "" {
		return nil
	}
	if c.config.Username == "" {
		return ErrNotAuthenticated
	}

	var body struct {
		Token string `json:"token"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBasicAuth(c.config.Username, c.config.Password).
		SetResult(&body).
		Get("/api/user/token/")
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("token request failed: %w", &APIError{Status: resp.StatusCode(), Body: resp.String()})
	}
	if body.Token == "" {
		return fmt.Errorf("token request failed: empty token")
	}

	c.config.Token = body.Token
	c.client.SetHeader("Authorization", "Token "+body.Token)
	c.log.Info("authenticated", zap.String("user", c.config.Username))
	return nil
}

// Ping checks that the API root answers.
func (c *InvenTreeClient) Ping(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/api/")
	if err != nil {
		return fmt.Errorf("inventree unreachable: %w", err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// ==================== Backend ====================

func (c *InvenTreeClient) Create(ctx context.Context, coll model.Collection, fields map[string]any) (model.Record, error) {
	path, err := pathFor(coll)
	if err != nil {
		return nil, err
	}

	raw, err := c.doRequest(ctx, "create", coll, http.MethodPost, path, fields, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s failed: %w", coll, err)
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("create %s failed: %w", coll, err)
	}
	return rec, nil
}

// List returns every record matching filters. Both bare-array and paginated
// {"results": [...]} payloads are accepted.
func (c *InvenTreeClient) List(ctx context.Context, coll model.Collection, filters map[string]string) ([]model.Record, error) {
	path, err := pathFor(coll)
	if err != nil {
		return nil, err
	}

	raw, err := c.doRequest(ctx, "list", coll, http.MethodGet, path, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("list %s failed: %w", coll, err)
	}

	records, err := decodeRecordList(raw)
	if err != nil {
		return nil, fmt.Errorf("list %s failed: %w", coll, err)
	}
	return records, nil
}

func (c *InvenTreeClient) UploadImage(ctx context.Context, partID int64, filename string, data []byte) error {
	path := collectionPaths[model.CollectionParts] + strconv.FormatInt(partID, 10) + "/"

	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("image", filename, bytes.NewReader(data)).
		Patch(path)
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode())
	}
	metrics.BackendRequestsTotal.WithLabelValues("upload_image", string(model.CollectionParts), status).Inc()

	if err != nil {
		return fmt.Errorf("image upload failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("image upload failed: %w", &APIError{Status: resp.StatusCode(), Body: resp.String()})
	}
	return nil
}

func (c *InvenTreeClient) AddRelated(ctx context.Context, partA, partB int64) error {
	_, err := c.Create(ctx, model.CollectionRelatedParts, map[string]any{
		"part_1": partA,
		"part_2": partB,
	})
	return err
}

// ==================== HTTP helpers ====================

func (c *InvenTreeClient) doRequest(ctx context.Context, op string, coll model.Collection, method, path string, body any, query map[string]string) ([]byte, error) {
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Execute(method, path)
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode())
	}
	metrics.BackendRequestsTotal.WithLabelValues(op, string(coll), status).Inc()

	if err != nil {
		return nil, fmt.Errorf("send request failed: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return resp.Body(), nil
}

func pathFor(coll model.Collection) (string, error) {
	path, ok := collectionPaths[coll]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, coll)
	}
	return path, nil
}

func decodeRecord(raw []byte) (model.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec model.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}
	return rec, nil
}

func decodeRecordList(raw []byte) ([]model.Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var list []model.Record
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("decode response failed: %w", err)
		}
		return list, nil
	}

	var page struct {
		Results []model.Record `json:"results"`
	}
	if err := dec.Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}
	return page.Results, nil
}

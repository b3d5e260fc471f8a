package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"inventree_bom_sync/internal/model"
	"inventree_bom_sync/pkg/logger"
)

// ImageFetcher downloads a catalog image and reports its file extension.
type ImageFetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// ==================== Config ====================

type PartConfig struct {
	Images ImageFetcher // nil disables image upload
	Logger *zap.Logger
}

// ==================== Service ====================

// PartService finds existing parts and creates new ones with their manufacturer
// link, supplier links and price ladder.
type PartService struct {
	backend Backend
	images  ImageFetcher
	log     *zap.Logger

	suppliers     map[model.Supplier]int64
	manufacturers map[string]int64 // lower-cased name → company id
}

func NewPartService(backend Backend, cfg PartConfig) *PartService {
	return &PartService{
		backend:       backend,
		images:        cfg.Images,
		log:           logger.OrNop(cfg.Logger).Named("part"),
		suppliers:     make(map[model.Supplier]int64),
		manufacturers: make(map[string]int64),
	}
}

// ==================== Companies ====================

// InitSuppliers finds or creates the supplier companies. A supplier that cannot
// be resolved is logged; links for it are then skipped.
func (s *PartService) InitSuppliers(ctx context.Context) error {
	var firstErr error
	for _, sup := range model.Suppliers {
		id, err := s.getOrCreateSupplier(ctx, string(sup))
		if err != nil {
			s.log.Error("supplier unavailable", zap.String("supplier", string(sup)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.suppliers[sup] = id
	}
	return firstErr
}

// supplierID returns the company id of a supplier, or 0 when unresolved.
func (s *PartService) supplierID(sup model.Supplier) int64 {
	return s.suppliers[sup]
}

func (s *PartService) getOrCreateSupplier(ctx context.Context, name string) (int64, error) {
	records, err := s.backend.List(ctx, model.CollectionCompanies, map[string]string{
		"name":        name,
		"is_supplier": "true",
	})
	if err != nil {
		return 0, fmt.Errorf("supplier lookup %q failed: %w", name, err)
	}
	for _, rec := range records {
		if strings.EqualFold(rec.String("name"), name) {
			return rec.ID(), nil
		}
	}

	rec, err := s.backend.Create(ctx, model.CollectionCompanies, map[string]any{
		"name":            name,
		"is_supplier":     true,
		"is_manufacturer": false,
	})
	if err != nil {
		return 0, fmt.Errorf("supplier create %q failed: %w", name, err)
	}
	s.log.Info("created supplier", zap.String("name", name), zap.Int64("id", rec.ID()))
	return rec.ID(), nil
}

// GetOrCreateManufacturer matches manufacturers case-insensitively by name and
// creates one when none matches.
func (s *PartService) GetOrCreateManufacturer(ctx context.Context, name string) (int64, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return 0, fmt.Errorf("empty manufacturer name")
	}
	if id, ok := s.manufacturers[key]; ok {
		return id, nil
	}

	records, err := s.backend.List(ctx, model.CollectionCompanies, map[string]string{"is_manufacturer": "true"})
	if err != nil {
		return 0, fmt.Errorf("manufacturer lookup %q failed: %w", name, err)
	}
	for _, rec := range records {
		if strings.ToLower(rec.String("name")) == key {
			s.manufacturers[key] = rec.ID()
			return rec.ID(), nil
		}
	}

	rec, err := s.backend.Create(ctx, model.CollectionCompanies, map[string]any{
		"name":            strings.TrimSpace(name),
		"is_manufacturer": true,
		"is_supplier":     false,
	})
	if err != nil {
		return 0, fmt.Errorf("manufacturer create %q failed: %w", name, err)
	}
	s.log.Info("created manufacturer", zap.String("name", name), zap.Int64("id", rec.ID()))
	s.manufacturers[key] = rec.ID()
	return rec.ID(), nil
}

// ==================== Matching ====================

// FindBySKU returns the part owning a supplier link with either SKU.
// Lookup failures are logged and count as a miss.
func (s *PartService) FindBySKU(ctx context.Context, lcscSKU, mouserSKU string) (int64, bool) {
	for _, sku := range []string{lcscSKU, mouserSKU} {
		if sku == "" {
			continue
		}
		records, err := s.backend.List(ctx, model.CollectionSupplierParts, map[string]string{"SKU": sku})
		if err != nil {
			s.log.Warn("supplier part lookup failed", zap.String("sku", sku), zap.Error(err))
			continue
		}
		for _, rec := range records {
			if rec.String("SKU") == sku && rec.Int("part") != 0 {
				return rec.Int("part"), true
			}
		}
	}
	return 0, false
}

// FindByName returns the part whose name equals name exactly.
func (s *PartService) FindByName(ctx context.Context, name string) (int64, bool) {
	if name == "" {
		return 0, false
	}
	records, err := s.backend.List(ctx, model.CollectionParts, map[string]string{"search": name})
	if err != nil {
		s.log.Warn("part name lookup failed", zap.String("name", name), zap.Error(err))
		return 0, false
	}
	for _, rec := range records {
		if rec.String("name") == name {
			return rec.ID(), true
		}
	}
	return 0, false
}

// EnsureSupplierParts adds the supplier links data names but partID lacks.
// The price ladder goes to a new link only when no existing link of the part
// carries price breaks. Returns the number of links added.
func (s *PartService) EnsureSupplierParts(ctx context.Context, partID int64, data *model.PartData) int {
	existing, err := s.backend.List(ctx, model.CollectionSupplierParts, map[string]string{
		"part": strconv.FormatInt(partID, 10),
	})
	if err != nil {
		s.log.Warn("supplier part listing failed", zap.Int64("part", partID), zap.Error(err))
		existing = nil
	}

	skus := make(map[string]bool, len(existing))
	for _, rec := range existing {
		skus[rec.String("SKU")] = true
	}
	priced := s.anyLinkPriced(ctx, existing)

	created := make(map[model.Supplier]int64)
	for _, sup := range model.Suppliers {
		sku := data.SKU(sup)
		if sku == "" || skus[sku] {
			continue
		}
		if linkID, ok := s.createSupplierPart(ctx, partID, sup, sku, 0); ok {
			created[sup] = linkID
		}
	}

	if !priced {
		if target, ok := pickPriceLink(data, created); ok {
			s.addPriceBreaks(ctx, target, data)
		}
	}
	return len(created)
}

func (s *PartService) anyLinkPriced(ctx context.Context, links []model.Record) bool {
	for _, rec := range links {
		breaks, err := s.backend.List(ctx, model.CollectionPriceBreaks, map[string]string{
			"part": strconv.FormatInt(rec.ID(), 10),
		})
		if err != nil {
			// unknown; assume priced so a second ladder is never added
			s.log.Warn("price break listing failed", zap.Int64("supplier_part", rec.ID()), zap.Error(err))
			return true
		}
		if len(breaks) > 0 {
			return true
		}
	}
	return false
}

// ==================== Materialising ====================

// CreatePart creates the part and then, each step independently and best
// effort, its image, manufacturer link, supplier links and price ladder.
// Only failure to create the part itself is returned.
func (s *PartService) CreatePart(ctx context.Context, name string, data *model.PartData, categoryID int64) (int64, error) {
	description := data.Description
	if description == "" {
		description = name
	}
	fields := map[string]any{
		"name":         name,
		"description":  description,
		"component":    true,
		"purchaseable": true,
		"active":       true,
	}
	if categoryID != 0 {
		fields["category"] = categoryID
	}
	if data.DatasheetURL != "" {
		fields["link"] = data.DatasheetURL
	}

	rec, err := s.backend.Create(ctx, model.CollectionParts, fields)
	if err != nil {
		return 0, fmt.Errorf("part create %q failed: %w", name, err)
	}
	partID := rec.ID()
	if partID == 0 {
		return 0, fmt.Errorf("part create %q failed: backend returned no id", name)
	}
	s.log.Info("created part", zap.String("name", name), zap.Int64("id", partID))

	s.attachImage(ctx, partID, data.ImageURL)
	mfrPartID := s.attachManufacturer(ctx, partID, data)

	created := make(map[model.Supplier]int64)
	for _, sup := range model.Suppliers {
		sku := data.SKU(sup)
		if sku == "" {
			continue
		}
		if linkID, ok := s.createSupplierPart(ctx, partID, sup, sku, mfrPartID); ok {
			created[sup] = linkID
		}
	}

	if target, ok := pickPriceLink(data, created); ok {
		s.addPriceBreaks(ctx, target, data)
	}
	return partID, nil
}

func (s *PartService) attachImage(ctx context.Context, partID int64, url string) {
	if url == "" || s.images == nil {
		return
	}
	body, ext, err := s.images.Download(ctx, url)
	if err != nil {
		s.log.Warn("image download failed", zap.String("url", url), zap.Error(err))
		return
	}
	filename := fmt.Sprintf("part_%d%s", partID, ext)
	if err := s.backend.UploadImage(ctx, partID, filename, body); err != nil {
		s.log.Warn("image upload failed", zap.Int64("part", partID), zap.Error(err))
		return
	}
	s.log.Info("uploaded image", zap.Int64("part", partID))
}

func (s *PartService) attachManufacturer(ctx context.Context, partID int64, data *model.PartData) int64 {
	if data.MPN == "" || data.Manufacturer == "" {
		return 0
	}
	mfrID, err := s.GetOrCreateManufacturer(ctx, data.Manufacturer)
	if err != nil {
		s.log.Warn("manufacturer unavailable", zap.String("manufacturer", data.Manufacturer), zap.Error(err))
		return 0
	}

	rec, err := s.backend.Create(ctx, model.CollectionManufacturerParts, map[string]any{
		"part":         partID,
		"manufacturer": mfrID,
		"MPN":          data.MPN,
	})
	if err != nil {
		s.log.Warn("manufacturer part create failed", zap.String("mpn", data.MPN), zap.Error(err))
		return 0
	}
	s.log.Info("created manufacturer part", zap.String("manufacturer", data.Manufacturer), zap.String("mpn", data.MPN))
	return rec.ID()
}

func (s *PartService) createSupplierPart(ctx context.Context, partID int64, sup model.Supplier, sku string, mfrPartID int64) (int64, bool) {
	supplierID := s.supplierID(sup)
	if supplierID == 0 {
		s.log.Warn("supplier unresolved; link skipped", zap.String("supplier", string(sup)), zap.String("sku", sku))
		return 0, false
	}

	fields := map[string]any{
		"part":     partID,
		"supplier": supplierID,
		"SKU":      sku,
	}
	if mfrPartID != 0 {
		fields["manufacturer_part"] = mfrPartID
	}

	rec, err := s.backend.Create(ctx, model.CollectionSupplierParts, fields)
	if err != nil {
		s.log.Warn("supplier part create failed", zap.String("supplier", string(sup)), zap.String("sku", sku), zap.Error(err))
		return 0, false
	}
	s.log.Info("created supplier part", zap.String("supplier", string(sup)), zap.String("sku", sku), zap.Int64("part", partID))
	return rec.ID(), true
}

// pickPriceLink chooses the single link that receives the ladder: the link of
// the supplier the prices came from, else any other link created, LCSC first.
func pickPriceLink(data *model.PartData, created map[model.Supplier]int64) (int64, bool) {
	if len(data.PriceBreaks) == 0 || len(created) == 0 {
		return 0, false
	}
	if id, ok := created[data.PriceSource]; ok {
		return id, true
	}
	for _, sup := range model.Suppliers {
		if id, ok := created[sup]; ok {
			return id, true
		}
	}
	return 0, false
}

func (s *PartService) addPriceBreaks(ctx context.Context, supplierPartID int64, data *model.PartData) {
	currency := data.Currency
	if currency == "" {
		currency = model.DefaultCurrency
	}
	for _, pb := range data.SortedPriceBreaks() {
		_, err := s.backend.Create(ctx, model.CollectionPriceBreaks, map[string]any{
			"part":           supplierPartID,
			"quantity":       pb.Quantity,
			"price":          pb.Price.String(),
			"price_currency": currency,
		})
		if err != nil {
			s.log.Warn("price break create failed", zap.Int("quantity", pb.Quantity), zap.Error(err))
		}
	}
}

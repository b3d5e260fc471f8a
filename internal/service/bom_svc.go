package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"inventree_bom_sync/internal/model"
	"inventree_bom_sync/pkg/logger"
)

// Categories the exported board parts are filed under. They must already exist.
const (
	PCBCategoryName      = "Printed-Circuit Boards"
	AssemblyCategoryName = "PCBA"
	StencilCategoryName  = "SMT Stencil"
)

var (
	ErrUnresolvedLines = errors.New("BOM lines without a backend part")
	ErrInvalidBOM      = errors.New("invalid BOM file")
)

// ==================== CSV ====================

const (
	colReferences = "References"
	colQuantity   = "Quantity Per PCB"
	colPart       = "Part"
	colValue      = "Value"
	colFootprint  = "Footprint"
	colLCSC       = "LCSC"
	colMouser     = "MOUSER"
)

var bomColumns = []string{colReferences, colQuantity, colPart, colValue, colFootprint, colLCSC, colMouser}

// LoadBOM parses a KiCad BOM CSV export.
func LoadBOM(r io.Reader) ([]*model.BomEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidBOM, err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, col := range bomColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidBOM, col)
		}
	}

	var entries []*model.BomEntry
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidBOM, line, err)
		}

		field := func(col string) string {
			if i := index[col]; i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		qty, err := strconv.Atoi(field(colQuantity))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: quantity %q", ErrInvalidBOM, line, field(colQuantity))
		}

		entries = append(entries, &model.BomEntry{
			Reference:      field(colReferences),
			Qty:            qty,
			KicadPart:      field(colPart),
			KicadValue:     field(colValue),
			KicadFootprint: field(colFootprint),
			LCSC:           splitSKUs(field(colLCSC)),
			Mouser:         splitSKUs(field(colMouser)),
		})
	}
	return entries, nil
}

// LoadBOMFile parses the CSV at path.
func LoadBOMFile(path string) ([]*model.BomEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open BOM: %w", err)
	}
	defer f.Close()
	return LoadBOM(f)
}

func splitSKUs(s string) []string {
	var out []string
	for _, sku := range strings.Split(s, ",") {
		if sku = strings.TrimSpace(sku); sku != "" {
			out = append(out, sku)
		}
	}
	return out
}

// ==================== Export ====================

type BomConfig struct {
	Logger *zap.Logger
}

// ExportOptions names the board and the render images to attach. Image fields
// are file paths; StencilImage is optional.
type ExportOptions struct {
	Name          string
	Version       string
	PCBImage      string
	AssemblyImage string
	StencilImage  string
}

func (o ExportOptions) validate() error {
	switch {
	case strings.TrimSpace(o.Name) == "":
		return errors.New("export: name is required")
	case strings.TrimSpace(o.Version) == "":
		return errors.New("export: version is required")
	case o.PCBImage == "":
		return errors.New("export: PCB image is required")
	case o.AssemblyImage == "":
		return errors.New("export: assembly image is required")
	}
	return nil
}

// ExportResult lists what an export created.
type ExportResult struct {
	Sync       *SyncReport
	PCBID      int64
	AssemblyID int64
	StencilID  int64
	BomItems   int
}

// BomService turns a BOM into a PCB part, an assembly part and the
// assembly's bill of materials.
type BomService struct {
	backend    Backend
	sync       *SyncService
	categories *CategoryService
	log        *zap.Logger
}

func NewBomService(backend Backend, sync *SyncService, categories *CategoryService, cfg BomConfig) *BomService {
	return &BomService{
		backend:    backend,
		sync:       sync,
		categories: categories,
		log:        logger.OrNop(cfg.Logger).Named("bom"),
	}
}

// MatchSupplierParts attaches a part to every unresolved line through an index
// of all supplier links. Lines naming SKUs that stay unresolved fail the call
// with ErrUnresolvedLines.
func (s *BomService) MatchSupplierParts(ctx context.Context, entries []*model.BomEntry) error {
	links, err := s.backend.List(ctx, model.CollectionSupplierParts, nil)
	if err != nil {
		return fmt.Errorf("supplier part index: %w", err)
	}
	skuToPart := make(map[string]int64, len(links))
	for _, rec := range links {
		if sku := rec.String("SKU"); sku != "" {
			skuToPart[sku] = rec.Int("part")
		}
	}

	var missing []string
	for _, entry := range entries {
		if entry.Resolved() || !entry.HasSKUs() {
			continue
		}
		for _, sku := range entry.AllSKUs() {
			if partID, ok := skuToPart[sku]; ok && partID != 0 {
				entry.PartIDs = append(entry.PartIDs, partID)
				break
			}
		}
		if !entry.Resolved() {
			s.log.Error("no part for BOM line",
				zap.String("ref", entry.Reference),
				zap.Strings("lcsc", entry.LCSC),
				zap.Strings("mouser", entry.Mouser))
			missing = append(missing, entry.Reference)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnresolvedLines, strings.Join(missing, "; "))
	}
	return nil
}

// Export ensures all parts exist, then creates "<name> PCB", "<name> Module"
// and "<name> SMT Stencil", relates the stencil to the PCB and fills the
// module's BOM with the PCB and every resolved line.
func (s *BomService) Export(ctx context.Context, entries []*model.BomEntry, opts ExportOptions) (*ExportResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	images, err := readImages(opts)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{}
	result.Sync = s.sync.EnsurePartsExist(ctx, entries)
	if err := s.MatchSupplierParts(ctx, entries); err != nil {
		return result, err
	}

	pcbCat, err := s.categories.FindByName(ctx, PCBCategoryName)
	if err != nil {
		return result, err
	}
	assemblyCat, err := s.categories.FindByName(ctx, AssemblyCategoryName)
	if err != nil {
		return result, err
	}
	stencilCat, err := s.categories.FindByName(ctx, StencilCategoryName)
	if err != nil {
		return result, err
	}

	result.PCBID, err = s.createBoardPart(ctx, opts.Name+" PCB", opts.Version, pcbCat, nil, images[opts.PCBImage], opts.PCBImage)
	if err != nil {
		return result, err
	}
	result.AssemblyID, err = s.createBoardPart(ctx, opts.Name+" Module", opts.Version, assemblyCat,
		map[string]any{"assembly": true, "trackable": true}, images[opts.AssemblyImage], opts.AssemblyImage)
	if err != nil {
		return result, err
	}
	result.StencilID, err = s.createBoardPart(ctx, opts.Name+" SMT Stencil", opts.Version, stencilCat, nil, images[opts.StencilImage], opts.StencilImage)
	if err != nil {
		return result, err
	}

	// the stencil is a production tool, related to the PCB rather than consumed by the assembly
	if err := s.backend.AddRelated(ctx, result.PCBID, result.StencilID); err != nil {
		return result, fmt.Errorf("relate stencil to PCB: %w", err)
	}
	s.log.Info("linked stencil to PCB", zap.Int64("pcb", result.PCBID), zap.Int64("stencil", result.StencilID))

	result.BomItems, err = s.populate(ctx, result.AssemblyID, result.PCBID, entries)
	if err != nil {
		return result, err
	}
	s.log.Info("BOM populated", zap.Int("lines", len(entries)), zap.Int("items", result.BomItems))
	return result, nil
}

func (s *BomService) createBoardPart(ctx context.Context, name, version string, categoryID int64, extra map[string]any, image []byte, imagePath string) (int64, error) {
	fields := map[string]any{
		"category":  categoryID,
		"name":      name,
		"revision":  version,
		"component": true,
	}
	for k, v := range extra {
		fields[k] = v
	}

	rec, err := s.backend.Create(ctx, model.CollectionParts, fields)
	if err != nil {
		return 0, fmt.Errorf("create %q: %w", name, err)
	}
	id := rec.ID()
	if id == 0 {
		return 0, fmt.Errorf("create %q: backend returned no id", name)
	}
	s.log.Info("created part", zap.String("name", name), zap.Int64("id", id))

	if image != nil {
		if err := s.backend.UploadImage(ctx, id, filepath.Base(imagePath), image); err != nil {
			return id, fmt.Errorf("upload image for %q: %w", name, err)
		}
	}
	return id, nil
}

func (s *BomService) populate(ctx context.Context, assemblyID, pcbID int64, entries []*model.BomEntry) (int, error) {
	items := 0
	add := func(subPart int64, reference string, qty int) error {
		_, err := s.backend.Create(ctx, model.CollectionBomItems, map[string]any{
			"part":      assemblyID,
			"sub_part":  subPart,
			"reference": reference,
			"quantity":  qty,
		})
		if err != nil {
			return fmt.Errorf("create BOM item %q: %w", reference, err)
		}
		items++
		return nil
	}

	if err := add(pcbID, "", 1); err != nil {
		return items, err
	}
	for _, entry := range entries {
		for _, partID := range entry.PartIDs {
			if err := add(partID, entry.Reference, entry.Qty); err != nil {
				return items, err
			}
		}
	}
	return items, nil
}

func readImages(opts ExportOptions) (map[string][]byte, error) {
	images := make(map[string][]byte)
	for _, path := range []string{opts.PCBImage, opts.AssemblyImage, opts.StencilImage} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		images[path] = data
	}
	return images, nil
}

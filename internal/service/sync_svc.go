package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inventree_bom_sync/internal/metrics"
	"inventree_bom_sync/internal/model"
	"inventree_bom_sync/internal/repository"
	"inventree_bom_sync/pkg/logger"
)

// ==================== Config ====================

type SyncConfig struct {
	Journal repository.SyncRecordRepository // nil disables the journal
	Logger  *zap.Logger
}

// ==================== Report ====================

// LineResult is the outcome for one BOM line.
type LineResult struct {
	Reference string
	LCSCSKU   string
	MouserSKU string
	Status    model.SyncStatus
	PartID    int64
	PartName  string
	Message   string
}

// SyncReport collects the outcome of one EnsurePartsExist run.
type SyncReport struct {
	RunID string
	Lines []LineResult
}

// Counts tallies lines per status.
func (r *SyncReport) Counts() map[model.SyncStatus]int {
	counts := make(map[model.SyncStatus]int)
	for _, l := range r.Lines {
		counts[l.Status]++
	}
	return counts
}

// Problems returns the lines that ended unresolved or failed.
func (r *SyncReport) Problems() []LineResult {
	var out []LineResult
	for _, l := range r.Lines {
		if l.Status == model.SyncStatusUnresolved || l.Status == model.SyncStatusFailed {
			out = append(out, l)
		}
	}
	return out
}

// ==================== Service ====================

// SyncService makes sure every BOM line is backed by a part, creating parts
// from catalog data where needed. Lines are processed one at a time.
type SyncService struct {
	lcsc       PartNumberFetcher
	mouser     SKUFetcher
	parts      *PartService
	categories *CategoryService
	journal    repository.SyncRecordRepository
	log        *zap.Logger
}

func NewSyncService(lcsc PartNumberFetcher, mouser SKUFetcher, parts *PartService, categories *CategoryService, cfg SyncConfig) *SyncService {
	return &SyncService{
		lcsc:       lcsc,
		mouser:     mouser,
		parts:      parts,
		categories: categories,
		journal:    cfg.Journal,
		log:        logger.OrNop(cfg.Logger).Named("sync"),
	}
}

type skuPair struct {
	lcsc   string
	mouser string
}

type resolved struct {
	partID int64
	name   string
}

// EnsurePartsExist resolves every line that names a SKU and has no part yet,
// appending the part id to the entry. Per-line problems are reported, never
// returned; a cancelled context stops the run after the current line.
func (s *SyncService) EnsurePartsExist(ctx context.Context, entries []*model.BomEntry) *SyncReport {
	report := &SyncReport{RunID: uuid.NewString()}
	log := s.log.With(zap.String("run", report.RunID))

	if err := s.parts.InitSuppliers(ctx); err != nil {
		log.Warn("continuing without all suppliers", zap.Error(err))
	}

	cache := make(map[skuPair]resolved)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			log.Warn("run cancelled", zap.Error(err), zap.Int("processed", len(report.Lines)))
			break
		}

		result := s.resolveLine(ctx, log, entry, cache)
		if result.Status.IsResolved() {
			entry.PartIDs = append(entry.PartIDs, result.PartID)
			cache[skuPair{result.LCSCSKU, result.MouserSKU}] = resolved{result.PartID, result.PartName}
		}

		report.Lines = append(report.Lines, result)
		metrics.LinesTotal.WithLabelValues(string(result.Status)).Inc()
		s.record(ctx, log, report.RunID, entry, result)
	}

	log.Info("run finished", zap.Int("lines", len(report.Lines)), zap.Int("problems", len(report.Problems())))
	return report
}

func (s *SyncService) resolveLine(ctx context.Context, log *zap.Logger, entry *model.BomEntry, cache map[skuPair]resolved) LineResult {
	lcscSKU, mouserSKU := entry.PrimaryLCSC(), entry.PrimaryMouser()
	result := LineResult{Reference: entry.Reference, LCSCSKU: lcscSKU, MouserSKU: mouserSKU}
	log = log.With(zap.String("ref", entry.Reference))

	if !entry.HasSKUs() {
		log.Debug("no SKUs; skipped")
		result.Status, result.Message = model.SyncStatusSkipped, "no supplier SKUs"
		return result
	}
	if entry.Resolved() {
		result.Status, result.Message = model.SyncStatusSkipped, "already resolved"
		result.PartID = entry.PartIDs[0]
		return result
	}

	if hit, ok := cache[skuPair{lcscSKU, mouserSKU}]; ok {
		result.Status, result.PartID, result.PartName = model.SyncStatusCached, hit.partID, hit.name
		return result
	}

	if id, ok := s.parts.FindBySKU(ctx, lcscSKU, mouserSKU); ok {
		log.Info("found existing part by SKU", zap.Int64("part", id))
		result.Status, result.PartID = model.SyncStatusMatchedSKU, id
		return result
	}

	data := s.fetch(ctx, lcscSKU, mouserSKU)
	if data == nil {
		log.Warn("no supplier data", zap.String("lcsc", lcscSKU), zap.String("mouser", mouserSKU))
		result.Status, result.Message = model.SyncStatusUnresolved, "no catalog returned data"
		return result
	}

	name := GeneratePartName(entry.KicadPart, entry.KicadValue, entry.KicadFootprint)
	result.PartName = name

	if id, ok := s.parts.FindByName(ctx, name); ok {
		added := s.parts.EnsureSupplierParts(ctx, id, data)
		log.Info("part exists by name; supplier links checked",
			zap.String("name", name), zap.Int64("part", id), zap.Int("added", added))
		result.Status, result.PartID = model.SyncStatusMatchedName, id
		return result
	}

	categoryID, err := s.categories.Resolve(ctx, entry.KicadPart, data, entry.KicadFootprint)
	if err != nil {
		log.Warn("category unavailable; creating part without one", zap.Error(err))
	}

	id, err := s.parts.CreatePart(ctx, name, data, categoryID)
	if err != nil {
		log.Error("failed to create part", zap.String("name", name), zap.Error(err))
		result.Status, result.Message = model.SyncStatusFailed, err.Error()
		return result
	}
	result.Status, result.PartID = model.SyncStatusCreated, id
	return result
}

// fetch queries LCSC by SKU, falling back to an LCSC part-number search with
// the MPN inside the Mouser SKU, then Mouser by SKU, and merges the results.
func (s *SyncService) fetch(ctx context.Context, lcscSKU, mouserSKU string) *model.PartData {
	var primary, secondary *model.PartData

	if lcscSKU != "" {
		if d, ok := s.lcsc.FetchBySKU(ctx, lcscSKU); ok {
			primary = d
		}
	}
	if primary == nil && mouserSKU != "" {
		if d, ok := s.lcsc.FetchByPartNumber(ctx, StripMouserPrefix(mouserSKU)); ok {
			primary = d
		}
	}
	if mouserSKU != "" && s.mouser != nil {
		if d, ok := s.mouser.FetchBySKU(ctx, mouserSKU); ok {
			secondary = d
		}
	}

	merged := MergePartData(primary, secondary, lcscSKU, mouserSKU)
	if !merged.Valid() {
		return nil
	}
	return merged
}

func (s *SyncService) record(ctx context.Context, log *zap.Logger, runID string, entry *model.BomEntry, result LineResult) {
	if s.journal == nil {
		return
	}
	rec := &model.SyncRecord{
		RunID:     runID,
		Reference: truncate(entry.Reference, 255),
		KicadPart: truncate(entry.KicadPart, 128),
		LCSCSKU:   truncate(result.LCSCSKU, 64),
		MouserSKU: truncate(result.MouserSKU, 64),
		PartID:    result.PartID,
		PartName:  truncate(result.PartName, 255),
		Status:    result.Status,
		Message:   truncate(result.Message, 1024),
	}
	if err := s.journal.Create(ctx, rec); err != nil {
		log.Warn("journal write failed", zap.String("ref", entry.Reference), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"inventree_bom_sync/internal/model"
	"inventree_bom_sync/internal/repository"
)

// stubCatalog serves fixed records and counts lookups.
type stubCatalog struct {
	bySKU map[string]*model.PartData
	byMPN map[string]*model.PartData

	skuCalls []string
	mpnCalls []string
}

func (c *stubCatalog) FetchBySKU(_ context.Context, sku string) (*model.PartData, bool) {
	c.skuCalls = append(c.skuCalls, sku)
	d, ok := c.bySKU[sku]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (c *stubCatalog) FetchByPartNumber(_ context.Context, mpn string) (*model.PartData, bool) {
	c.mpnCalls = append(c.mpnCalls, mpn)
	d, ok := c.byMPN[mpn]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (c *stubCatalog) calls() int { return len(c.skuCalls) + len(c.mpnCalls) }

type syncFixture struct {
	backend *fakeBackend
	lcsc    *stubCatalog
	mouser  *stubCatalog
	svc     *SyncService
}

func newSyncFixture(t *testing.T, journal repository.SyncRecordRepository) *syncFixture {
	t.Helper()
	f := &syncFixture{
		backend: newFakeBackend(),
		lcsc: &stubCatalog{
			bySKU: map[string]*model.PartData{
				"C17414": {
					MPN: "0805W8F1002T5E", Manufacturer: "UNI-ROYAL", Description: "10kΩ 0805",
					LCSCSKU: "C17414", Currency: "EUR", PriceSource: model.SupplierLCSC,
					PriceBreaks: map[int]decimal.Decimal{20: decimal.RequireFromString("0.0021")},
				},
				"C8545": {MPN: "2N7002", Manufacturer: "onsemi", LCSCSKU: "C8545"},
			},
			byMPN: map[string]*model.PartData{
				"LMR51430XDDCR": {MPN: "LMR51430XDDCR", Manufacturer: "TI", LCSCSKU: "C2685255", Description: "Buck"},
			},
		},
		mouser: &stubCatalog{
			bySKU: map[string]*model.PartData{
				"595-LMR51430XDDCR": {
					MPN: "LMR51430XDDCR", Manufacturer: "Texas Instruments", MouserSKU: "595-LMR51430XDDCR",
					ImageURL: "https://www.mouser.com/a.jpg", Currency: "EUR", PriceSource: model.SupplierMouser,
					PriceBreaks: map[int]decimal.Decimal{1: decimal.RequireFromString("1.85")},
				},
			},
		},
	}

	parts := NewPartService(f.backend, PartConfig{Images: &stubImages{}})
	categories := NewCategoryService(f.backend, CategoryConfig{})
	f.svc = NewSyncService(f.lcsc, f.mouser, parts, categories, SyncConfig{Journal: journal})
	return f
}

func sampleBOM() []*model.BomEntry {
	return []*model.BomEntry{
		{Reference: "R1,R2", Qty: 2, KicadPart: "R", KicadValue: "10k", KicadFootprint: "R_0805_2012Metric", LCSC: []string{"C17414"}},
		{Reference: "U1", Qty: 1, KicadPart: "LMR51430", KicadValue: "LMR51430", KicadFootprint: "SOT-23-6", Mouser: []string{"595-LMR51430XDDCR"}},
		{Reference: "H1", Qty: 1, KicadPart: "Mounting_Hole", KicadValue: "MountingHole", KicadFootprint: "MountingHole_3.2mm"},
	}
}

func statuses(r *SyncReport) []model.SyncStatus {
	out := make([]model.SyncStatus, 0, len(r.Lines))
	for _, l := range r.Lines {
		out = append(out, l.Status)
	}
	return out
}

func TestSyncService_CreatesThenMatchesOnRerun(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	first := sampleBOM()
	report := f.svc.EnsurePartsExist(ctx, first)
	assert.Equal(t, []model.SyncStatus{model.SyncStatusCreated, model.SyncStatusCreated, model.SyncStatusSkipped}, statuses(report))
	assert.Equal(t, 2, f.backend.creates[model.CollectionParts])
	require.Len(t, first[0].PartIDs, 1)
	require.Len(t, first[1].PartIDs, 1)
	assert.Empty(t, first[2].PartIDs)

	created := map[model.Collection]int{}
	for k, v := range f.backend.creates {
		created[k] = v
	}
	fetches := f.lcsc.calls() + f.mouser.calls()

	second := sampleBOM()
	report = f.svc.EnsurePartsExist(ctx, second)
	assert.Equal(t, []model.SyncStatus{model.SyncStatusMatchedSKU, model.SyncStatusMatchedSKU, model.SyncStatusSkipped}, statuses(report))
	assert.Equal(t, first[0].PartIDs, second[0].PartIDs)
	assert.Equal(t, first[1].PartIDs, second[1].PartIDs)

	// nothing new written, nothing fetched
	assert.Equal(t, created, f.backend.creates)
	assert.Equal(t, fetches, f.lcsc.calls()+f.mouser.calls())
}

func TestSyncService_CreatedPartDetails(t *testing.T) {
	f := newSyncFixture(t, nil)
	entries := sampleBOM()
	f.svc.EnsurePartsExist(context.Background(), entries)

	resistor := f.backend.where(model.CollectionParts, "pk", entries[0].PartIDs[0])
	require.Len(t, resistor, 1)
	assert.Equal(t, "R 10k 0805", resistor[0].String("name"))

	// Resistors / Surface Mount / 0805
	leaf := f.backend.where(model.CollectionCategories, "pk", resistor[0].Int("category"))
	require.Len(t, leaf, 1)
	assert.Equal(t, "0805", leaf[0].String("name"))

	// Mouser-only line: LCSC searched by the MPN inside the Mouser SKU, merged,
	// but only the Mouser link is created because the line names no LCSC SKU
	assert.Equal(t, []string{"LMR51430XDDCR"}, f.lcsc.mpnCalls)
	regulator := f.backend.where(model.CollectionParts, "pk", entries[1].PartIDs[0])
	require.Len(t, regulator, 1)
	assert.Equal(t, "LMR51430", regulator[0].String("name"))
	assert.Equal(t, "Buck", regulator[0].String("description"))
	links := f.backend.where(model.CollectionSupplierParts, "part", entries[1].PartIDs[0])
	require.Len(t, links, 1)
	assert.Equal(t, "595-LMR51430XDDCR", links[0].String("SKU"))
	assert.Equal(t, "part_"+regulator[0].String("pk")+".png", f.backend.images[entries[1].PartIDs[0]])
}

func TestSyncService_SKUMatchShortCircuits(t *testing.T) {
	f := newSyncFixture(t, nil)
	existing := f.backend.seed(model.CollectionParts, map[string]any{"name": "whatever"})
	f.backend.seed(model.CollectionSupplierParts, map[string]any{"part": existing, "SKU": "C17414"})

	entries := sampleBOM()[:1]
	report := f.svc.EnsurePartsExist(context.Background(), entries)

	assert.Equal(t, []model.SyncStatus{model.SyncStatusMatchedSKU}, statuses(report))
	assert.Equal(t, []int64{existing}, entries[0].PartIDs)
	assert.Zero(t, f.lcsc.calls()+f.mouser.calls())
	assert.Zero(t, f.backend.creates[model.CollectionParts])
}

func TestSyncService_SharedSKUPairResolvedOnce(t *testing.T) {
	f := newSyncFixture(t, nil)
	entries := []*model.BomEntry{
		{Reference: "R1", KicadPart: "R", KicadValue: "10k", KicadFootprint: "R_0805_2012Metric", LCSC: []string{"C17414"}},
		{Reference: "R7", KicadPart: "R", KicadValue: "10k", KicadFootprint: "R_0805_2012Metric", LCSC: []string{"C17414"}},
	}

	report := f.svc.EnsurePartsExist(context.Background(), entries)
	assert.Equal(t, []model.SyncStatus{model.SyncStatusCreated, model.SyncStatusCached}, statuses(report))
	assert.Equal(t, entries[0].PartIDs, entries[1].PartIDs)
	assert.Equal(t, []string{"C17414"}, f.lcsc.skuCalls)
	assert.Equal(t, 1, f.backend.creates[model.CollectionParts])
}

func TestSyncService_NameMatchAddsMissingLinks(t *testing.T) {
	f := newSyncFixture(t, nil)
	existing := f.backend.seed(model.CollectionParts, map[string]any{"name": "R 10k 0805"})

	entries := sampleBOM()[:1]
	report := f.svc.EnsurePartsExist(context.Background(), entries)

	assert.Equal(t, []model.SyncStatus{model.SyncStatusMatchedName}, statuses(report))
	assert.Equal(t, []int64{existing}, entries[0].PartIDs)
	assert.Zero(t, f.backend.creates[model.CollectionParts])

	links := f.backend.where(model.CollectionSupplierParts, "part", existing)
	require.Len(t, links, 1)
	assert.Equal(t, "C17414", links[0].String("SKU"))
}

func TestSyncService_UnresolvedAndFailedLines(t *testing.T) {
	f := newSyncFixture(t, nil)
	entries := []*model.BomEntry{
		{Reference: "U9", KicadPart: "IC_Generic", KicadValue: "X", LCSC: []string{"C0"}, Mouser: []string{"1-NOPE"}},
		{Reference: "Q1", KicadPart: "2N7002", KicadValue: "2N7002", KicadFootprint: "SOT-23", LCSC: []string{"C8545"}},
	}
	f.backend.failCreate[model.CollectionParts] = errors.New("400 bad request")

	report := f.svc.EnsurePartsExist(context.Background(), entries)
	assert.Equal(t, []model.SyncStatus{model.SyncStatusUnresolved, model.SyncStatusFailed}, statuses(report))
	assert.Len(t, report.Problems(), 2)
	assert.Empty(t, entries[0].PartIDs)
	assert.Empty(t, entries[1].PartIDs)

	// the Mouser fallback was tried with the stripped MPN
	assert.Equal(t, []string{"NOPE"}, f.lcsc.mpnCalls)
}

func TestSyncService_AlreadyResolvedLineSkipped(t *testing.T) {
	f := newSyncFixture(t, nil)
	entries := []*model.BomEntry{
		{Reference: "R1", KicadPart: "R", LCSC: []string{"C17414"}, PartIDs: []int64{99}},
	}

	report := f.svc.EnsurePartsExist(context.Background(), entries)
	assert.Equal(t, []model.SyncStatus{model.SyncStatusSkipped}, statuses(report))
	assert.Equal(t, []int64{99}, entries[0].PartIDs)
	assert.Zero(t, f.lcsc.calls())
}

func TestSyncService_CancelledContext(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := f.svc.EnsurePartsExist(ctx, sampleBOM())
	assert.Empty(t, report.Lines)
}

func newTestJournal(t *testing.T) repository.SyncRecordRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.SyncRecord{}))
	return repository.NewSyncRecordRepository(db)
}

func TestSyncService_WritesJournal(t *testing.T) {
	journal := newTestJournal(t)
	f := newSyncFixture(t, journal)
	ctx := context.Background()
	report := f.svc.EnsurePartsExist(ctx, sampleBOM())

	records, err := journal.ListByRun(ctx, report.RunID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "R1,R2", records[0].Reference)
	assert.Equal(t, "C17414", records[0].LCSCSKU)
	assert.Equal(t, model.SyncStatusCreated, records[0].Status)
	assert.Equal(t, "R 10k 0805", records[0].PartName)

	counts, err := journal.CountByStatus(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.SyncStatusCreated])
	assert.Equal(t, int64(1), counts[model.SyncStatusSkipped])

	latest, err := journal.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, latest)
}

func TestSyncService_JournalBoundsLongSKUs(t *testing.T) {
	journal := newTestJournal(t)
	f := newSyncFixture(t, journal)
	ctx := context.Background()

	longLCSC := "C" + strings.Repeat("9", 90)
	longMouser := "595-" + strings.Repeat("X", 80)
	report := f.svc.EnsurePartsExist(ctx, []*model.BomEntry{
		{Reference: "U5", Qty: 1, KicadPart: "X", LCSC: []string{longLCSC}, Mouser: []string{longMouser}},
	})
	require.Len(t, report.Lines, 1)
	assert.Equal(t, model.SyncStatusUnresolved, report.Lines[0].Status)
	assert.Equal(t, longLCSC, report.Lines[0].LCSCSKU)

	records, err := journal.ListByRun(ctx, report.RunID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, longLCSC[:64], records[0].LCSCSKU)
	assert.Equal(t, longMouser[:64], records[0].MouserSKU)
}

func TestSyncReport_Counts(t *testing.T) {
	r := &SyncReport{Lines: []LineResult{
		{Status: model.SyncStatusCreated},
		{Status: model.SyncStatusCreated},
		{Status: model.SyncStatusFailed},
	}}
	assert.Equal(t, map[model.SyncStatus]int{model.SyncStatusCreated: 2, model.SyncStatusFailed: 1}, r.Counts())
}

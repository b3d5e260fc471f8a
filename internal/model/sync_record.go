package model

// SyncRecord is the journal row written for every BOM line a run touches.
type SyncRecord struct {
	BaseModel

	RunID     string `gorm:"size:36;index"`
	Reference string `gorm:"size:255"`
	KicadPart string `gorm:"size:128"`

	LCSCSKU   string `gorm:"column:lcsc_sku;size:64;index"`
	MouserSKU string `gorm:"column:mouser_sku;size:64;index"`

	PartID   int64      `gorm:"index"`
	PartName string     `gorm:"size:255"`
	Status   SyncStatus `gorm:"size:32;index"`
	Message  string     `gorm:"size:1024"`
}

func (SyncRecord) TableName() string {
	return "sync_records"
}

// ==================== Status ====================

// SyncStatus is the final state of one BOM line in a run.
type SyncStatus string

const (
	SyncStatusSkipped     SyncStatus = "skipped"      // no SKUs, or resolved before the run
	SyncStatusCached      SyncStatus = "cached"       // SKU pair already resolved earlier in this run
	SyncStatusMatchedSKU  SyncStatus = "matched_sku"  // supplier part with the SKU exists
	SyncStatusMatchedName SyncStatus = "matched_name" // part with the derived name exists
	SyncStatusCreated     SyncStatus = "created"
	SyncStatusUnresolved  SyncStatus = "unresolved" // no catalog returned data
	SyncStatusFailed      SyncStatus = "failed"     // base part creation failed
)

// IsResolved reports whether the status leaves the line attached to a part.
func (s SyncStatus) IsResolved() bool {
	switch s {
	case SyncStatusCached, SyncStatusMatchedSKU, SyncStatusMatchedName, SyncStatusCreated:
		return true
	}
	return false
}

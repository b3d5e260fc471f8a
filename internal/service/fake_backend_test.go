package service

import (
	"context"
	"fmt"
	"strings"

	"inventree_bom_sync/internal/model"
)

// fakeBackend is an in-memory Backend. Filters are equality matches on the
// stringified field, except "search" which is a case-insensitive substring
// match on the name.
type fakeBackend struct {
	nextID  int64
	records map[model.Collection][]model.Record
	images  map[int64]string

	creates map[model.Collection]int
	lists   map[model.Collection]int

	failCreate map[model.Collection]error
	failList   map[model.Collection]error
	failUpload error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		records:    make(map[model.Collection][]model.Record),
		images:     make(map[int64]string),
		creates:    make(map[model.Collection]int),
		lists:      make(map[model.Collection]int),
		failCreate: make(map[model.Collection]error),
		failList:   make(map[model.Collection]error),
	}
}

func (f *fakeBackend) Create(_ context.Context, coll model.Collection, fields map[string]any) (model.Record, error) {
	if err := f.failCreate[coll]; err != nil {
		return nil, err
	}
	f.creates[coll]++
	f.nextID++

	rec := model.Record{"pk": f.nextID}
	for k, v := range fields {
		rec[k] = v
	}
	f.records[coll] = append(f.records[coll], rec)
	return copyRecord(rec), nil
}

func (f *fakeBackend) List(_ context.Context, coll model.Collection, filters map[string]string) ([]model.Record, error) {
	if err := f.failList[coll]; err != nil {
		return nil, err
	}
	f.lists[coll]++

	var out []model.Record
	for _, rec := range f.records[coll] {
		if matchesFilters(rec, filters) {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

func (f *fakeBackend) UploadImage(_ context.Context, partID int64, filename string, _ []byte) error {
	if f.failUpload != nil {
		return f.failUpload
	}
	f.images[partID] = filename
	return nil
}

func (f *fakeBackend) AddRelated(ctx context.Context, partA, partB int64) error {
	_, err := f.Create(ctx, model.CollectionRelatedParts, map[string]any{"part_1": partA, "part_2": partB})
	return err
}

// seed inserts a record without counting it as a create.
func (f *fakeBackend) seed(coll model.Collection, fields map[string]any) int64 {
	f.nextID++
	rec := model.Record{"pk": f.nextID}
	for k, v := range fields {
		rec[k] = v
	}
	f.records[coll] = append(f.records[coll], rec)
	return f.nextID
}

func (f *fakeBackend) where(coll model.Collection, key string, value any) []model.Record {
	var out []model.Record
	want := fmt.Sprint(value)
	for _, rec := range f.records[coll] {
		if rec.String(key) == want {
			out = append(out, rec)
		}
	}
	return out
}

func matchesFilters(rec model.Record, filters map[string]string) bool {
	for key, want := range filters {
		if key == "search" {
			if !strings.Contains(strings.ToLower(rec.String("name")), strings.ToLower(want)) {
				return false
			}
			continue
		}
		if rec.String(key) != want {
			return false
		}
	}
	return true
}

func copyRecord(rec model.Record) model.Record {
	c := make(model.Record, len(rec))
	for k, v := range rec {
		c[k] = v
	}
	return c
}

package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventree_bom_sync/internal/model"
)

func TestDefaultCategoryMap(t *testing.T) {
	m := DefaultCategoryMap()
	assert.Equal(t, []string{"Resistors", "Surface Mount"}, m["R"])
	assert.Equal(t, []string{"Capacitors", "Ceramic"}, m["C_Small"])
	assert.Equal(t, []string{"Crystals and Oscillators", "Crystals"}, m["Crystal"])
	assert.Equal(t, []string{"Transistors", "N-Channel FET"}, m["2N7002"])
	assert.Equal(t, []string{"Mechanicals"}, m["Mounting_Hole"])
	assert.Contains(t, m.Families(), "USB_C_Receptacle")
}

func TestParseCategoryMap(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    CategoryMap
		wantErr bool
	}{
		{
			name:  "valid",
			input: "R: [Resistors, SMD]\nCrystal:\n  - Crystals\n",
			want:  CategoryMap{"R": {"Resistors", "SMD"}, "Crystal": {"Crystals"}},
		},
		{name: "scalar value", input: "R: Resistors\n", wantErr: true},
		{name: "non string item", input: "R: [Resistors, 12]\n", wantErr: true},
		{name: "nested list", input: "R: [[Resistors]]\n", wantErr: true},
		{name: "empty list", input: "R: []\n", wantErr: true},
		{name: "broken yaml", input: "R: [Resistors\n", wantErr: true},
		{name: "empty document", input: "", want: CategoryMap{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCategoryMap([]byte(tt.input))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidCategoryMap), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadCategoryMap(t *testing.T) {
	m, err := LoadCategoryMap("")
	require.NoError(t, err)
	assert.NotEmpty(t, m)

	path := filepath.Join(t.TempDir(), "categories.yaml")
	require.NoError(t, os.WriteFile(path, []byte("U_Custom: [Custom, Sub]\n"), 0o644))
	m, err = LoadCategoryMap(path)
	require.NoError(t, err)
	assert.Equal(t, CategoryMap{"U_Custom": {"Custom", "Sub"}}, m)

	_, err = LoadCategoryMap(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCategoryService_ResolvePath(t *testing.T) {
	svc := NewCategoryService(newFakeBackend(), CategoryConfig{})
	supplier := &model.PartData{CategoryPath: []string{"Switching Voltage Regulators"}}

	tests := []struct {
		name      string
		family    string
		data      *model.PartData
		footprint string
		want      []string
	}{
		{name: "resistor gets package", family: "R", footprint: "R_0805_2012Metric", want: []string{"Resistors", "Surface Mount", "0805"}},
		{name: "small cap gets package", family: "C_Small", footprint: "C_0402_1005Metric", want: []string{"Capacitors", "Ceramic", "0402"}},
		{name: "no footprint no package", family: "R", want: []string{"Resistors", "Surface Mount"}},
		{name: "polarized cap has no package level", family: "C_Polarized", footprint: "CP_Elec_6.3x7.7", want: []string{"Capacitors", "Aluminium"}},
		{name: "crystal", family: "Crystal", footprint: "Crystal_SMD_3225-4Pin_3.2x2.5mm", want: []string{"Crystals and Oscillators", "Crystals"}},
		{name: "unmapped uses supplier path", family: "U_Unknown", data: supplier, want: []string{"Switching Voltage Regulators"}},
		{name: "unmapped without supplier path", family: "U_Unknown", data: &model.PartData{}, want: []string{"Miscellaneous"}},
		{name: "unmapped nil data", family: "U_Unknown", want: []string{"Miscellaneous"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.ResolvePath(tt.family, tt.data, tt.footprint))
		})
	}

	// the map entry is not aliased by the appended package level
	assert.Equal(t, []string{"Resistors", "Surface Mount"}, svc.categories["R"])
}

func TestCategoryService_GetOrCreatePath_Idempotent(t *testing.T) {
	backend := newFakeBackend()
	ctx := context.Background()
	path := []string{"Resistors", "Surface Mount", "0805"}

	first, err := NewCategoryService(backend, CategoryConfig{}).GetOrCreatePath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, backend.creates[model.CollectionCategories])

	// a fresh service has no memo and must find the existing levels
	second, err := NewCategoryService(backend, CategoryConfig{}).GetOrCreatePath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, backend.creates[model.CollectionCategories])

	// a sibling only adds the leaf
	_, err = NewCategoryService(backend, CategoryConfig{}).GetOrCreatePath(ctx, []string{"Resistors", "Surface Mount", "0402"})
	require.NoError(t, err)
	assert.Equal(t, 4, backend.creates[model.CollectionCategories])
}

func TestCategoryService_GetOrCreatePath_SameNameDifferentParent(t *testing.T) {
	backend := newFakeBackend()
	svc := NewCategoryService(backend, CategoryConfig{})
	ctx := context.Background()

	a, err := svc.GetOrCreatePath(ctx, []string{"Diodes", "Schottky"})
	require.NoError(t, err)
	b, err := svc.GetOrCreatePath(ctx, []string{"Circuit Protections", "Schottky"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	// "Schottky" as a root is distinct from both children
	c, err := svc.GetOrCreatePath(ctx, []string{"Schottky"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
}

func TestCategoryService_GetOrCreatePath_Memo(t *testing.T) {
	backend := newFakeBackend()
	svc := NewCategoryService(backend, CategoryConfig{})
	ctx := context.Background()

	_, err := svc.GetOrCreatePath(ctx, []string{"Inductors", "Power"})
	require.NoError(t, err)
	lists := backend.lists[model.CollectionCategories]

	_, err = svc.GetOrCreatePath(ctx, []string{"Inductors", "Power"})
	require.NoError(t, err)
	assert.Equal(t, lists, backend.lists[model.CollectionCategories])
}

func TestCategoryService_GetOrCreatePath_Errors(t *testing.T) {
	backend := newFakeBackend()
	svc := NewCategoryService(backend, CategoryConfig{})
	ctx := context.Background()

	_, err := svc.GetOrCreatePath(ctx, nil)
	assert.Error(t, err)

	backend.failCreate[model.CollectionCategories] = errors.New("boom")
	_, err = svc.GetOrCreatePath(ctx, []string{"Resistors"})
	assert.Error(t, err)
}

func TestCategoryService_FindByName(t *testing.T) {
	backend := newFakeBackend()
	id := backend.seed(model.CollectionCategories, map[string]any{"name": "PCBA"})
	svc := NewCategoryService(backend, CategoryConfig{})

	got, err := svc.FindByName(context.Background(), "PCBA")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = svc.FindByName(context.Background(), "SMT Stencil")
	assert.True(t, errors.Is(err, ErrCategoryNotFound))
}

package service

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"inventree_bom_sync/internal/model"
	"inventree_bom_sync/pkg/logger"
)

// MiscellaneousCategory is the last-resort placement.
const MiscellaneousCategory = "Miscellaneous"

var (
	ErrCategoryNotFound   = errors.New("category not found")
	ErrInvalidCategoryMap = errors.New("invalid category map")
)

//go:embed default_categories.yaml
var defaultCategoryYAML []byte

// Families that get the footprint package as an extra path level.
var packageSubcategoryFamilies = map[string]bool{
	"C":         true,
	"C_Small":   true,
	"R":         true,
	"R_Small":   true,
	"R_Network": true,
	"RN":        true,
}

// ==================== Category map ====================

// CategoryMap maps a KiCad symbol name to a category path, root first.
type CategoryMap map[string][]string

// DefaultCategoryMap returns the built-in map.
func DefaultCategoryMap() CategoryMap {
	m, err := ParseCategoryMap(defaultCategoryYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded category map: %v", err))
	}
	return m
}

// LoadCategoryMap reads a YAML map from path, or the built-in map when path is empty.
func LoadCategoryMap(path string) (CategoryMap, error) {
	if path == "" {
		return DefaultCategoryMap(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category map: %w", err)
	}
	m, err := ParseCategoryMap(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseCategoryMap decodes `Family: [Root, Sub, ...]` entries. Every value must
// be a non-empty list of non-empty strings.
func ParseCategoryMap(data []byte) (CategoryMap, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCategoryMap, err)
	}

	m := make(CategoryMap, len(raw))
	for family, value := range raw {
		items, ok := value.([]any)
		if !ok || len(items) == 0 {
			return nil, fmt.Errorf("%w: key %q must map to a non-empty list of strings", ErrInvalidCategoryMap, family)
		}
		path := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, fmt.Errorf("%w: key %q must map to a non-empty list of strings", ErrInvalidCategoryMap, family)
			}
			path = append(path, strings.TrimSpace(s))
		}
		m[family] = path
	}
	return m, nil
}

// Families returns the mapped symbol names in sorted order.
func (m CategoryMap) Families() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ==================== Service ====================

type CategoryConfig struct {
	Map    CategoryMap // nil means the built-in map
	Logger *zap.Logger
}

// CategoryService places parts in the category tree, creating missing levels.
type CategoryService struct {
	backend    Backend
	categories CategoryMap
	log        *zap.Logger

	// resolved path prefix → category id, for the lifetime of the service
	memo map[string]int64
}

func NewCategoryService(backend Backend, cfg CategoryConfig) *CategoryService {
	if cfg.Map == nil {
		cfg.Map = DefaultCategoryMap()
	}
	return &CategoryService{
		backend:    backend,
		categories: cfg.Map,
		log:        logger.OrNop(cfg.Logger).Named("category"),
		memo:       make(map[string]int64),
	}
}

// ResolvePath picks the category path for a part: the mapped path (plus the
// package level for resistor and capacitor symbols), else the supplier's own
// path, else Miscellaneous. An unmapped family is logged as a warning.
func (s *CategoryService) ResolvePath(family string, data *model.PartData, footprint string) []string {
	if mapped, ok := s.categories[family]; ok {
		path := append([]string(nil), mapped...)
		if packageSubcategoryFamilies[family] && footprint != "" {
			if pkg := ExtractPackage(footprint); pkg != "" {
				path = append(path, pkg)
			}
		}
		return path
	}

	s.log.Warn("symbol not in category map; extend the categories file to place it",
		zap.String("family", family))

	if data != nil && len(data.CategoryPath) > 0 {
		s.log.Debug("using supplier category", zap.String("family", family), zap.Strings("path", data.CategoryPath))
		return append([]string(nil), data.CategoryPath...)
	}
	return []string{MiscellaneousCategory}
}

// Resolve returns the id of the leaf category for a part, creating levels as needed.
func (s *CategoryService) Resolve(ctx context.Context, family string, data *model.PartData, footprint string) (int64, error) {
	return s.GetOrCreatePath(ctx, s.ResolvePath(family, data, footprint))
}

// GetOrCreatePath walks path from the root, reusing the category with the exact
// name under the current parent and creating it when absent. Returns the leaf id.
func (s *CategoryService) GetOrCreatePath(ctx context.Context, path []string) (int64, error) {
	if len(path) == 0 {
		return 0, fmt.Errorf("empty category path")
	}

	var parent int64
	for i, name := range path {
		key := strings.Join(path[:i+1], "\x1f")
		if id, ok := s.memo[key]; ok {
			parent = id
			continue
		}

		id, err := s.findChild(ctx, name, parent)
		if err != nil {
			return 0, fmt.Errorf("category lookup %q failed: %w", name, err)
		}
		if id == 0 {
			id, err = s.create(ctx, name, parent)
			if err != nil {
				return 0, fmt.Errorf("category create %q failed: %w", name, err)
			}
			s.log.Info("created category", zap.String("name", name), zap.Int64("id", id), zap.Int64("parent", parent))
		}

		s.memo[key] = id
		parent = id
	}
	return parent, nil
}

// FindByName returns the first category with exactly this name anywhere in the tree.
func (s *CategoryService) FindByName(ctx context.Context, name string) (int64, error) {
	records, err := s.backend.List(ctx, model.CollectionCategories, map[string]string{"name": name})
	if err != nil {
		return 0, fmt.Errorf("category lookup %q failed: %w", name, err)
	}
	for _, rec := range records {
		if rec.String("name") == name {
			return rec.ID(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrCategoryNotFound, name)
}

func (s *CategoryService) findChild(ctx context.Context, name string, parent int64) (int64, error) {
	filters := map[string]string{"name": name}
	if parent != 0 {
		filters["parent"] = strconv.FormatInt(parent, 10)
	}

	records, err := s.backend.List(ctx, model.CollectionCategories, filters)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if rec.String("name") == name && rec.Int("parent") == parent {
			return rec.ID(), nil
		}
	}
	return 0, nil
}

func (s *CategoryService) create(ctx context.Context, name string, parent int64) (int64, error) {
	fields := map[string]any{
		"name":        name,
		"description": name,
	}
	if parent != 0 {
		fields["parent"] = parent
	}

	rec, err := s.backend.Create(ctx, model.CollectionCategories, fields)
	if err != nil {
		return 0, err
	}
	if rec.ID() == 0 {
		return 0, fmt.Errorf("backend returned no id")
	}
	return rec.ID(), nil
}

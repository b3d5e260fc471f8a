package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"inventree_bom_sync/internal/config"
	"inventree_bom_sync/internal/metrics"
	"inventree_bom_sync/internal/model"
	"inventree_bom_sync/internal/repository"
	"inventree_bom_sync/internal/service"
	"inventree_bom_sync/pkg/database"
	"inventree_bom_sync/pkg/logger"
	"inventree_bom_sync/pkg/utils"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bom-sync:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "bom-sync",
		Usage: "sync a KiCad BOM into InvenTree",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (yaml, toml or json)"},
			&cli.StringFlag{Name: "categories", Usage: "category map YAML (overrides BOM_SYNC_CATEGORY_MAP)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
		},
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "create missing parts for every BOM line",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "csv", Required: true, Usage: "KiCad BOM CSV export"},
				},
				Action: runImport,
			},
			{
				Name:  "export",
				Usage: "import parts, then create the PCB, assembly and stencil parts and the assembly BOM",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "csv", Required: true, Usage: "KiCad BOM CSV export"},
					&cli.StringFlag{Name: "name", Required: true, Usage: "board name"},
					&cli.StringFlag{Name: "version", Required: true, Usage: "board revision"},
					&cli.StringFlag{Name: "pcb-image", Required: true, Usage: "PCB render"},
					&cli.StringFlag{Name: "assembly-image", Required: true, Usage: "assembled board render"},
					&cli.StringFlag{Name: "stencil-image", Usage: "stencil render"},
				},
				Action: runExport,
			},
			{
				Name:  "report",
				Usage: "summarise a journalled run",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "run", Usage: "run id (default: latest)"},
					&cli.StringFlag{Name: "sku", Usage: "show the last journalled outcome for an LCSC or Mouser SKU"},
				},
				Action: runReport,
			},
			{
				Name:   "categories",
				Usage:  "print the symbol-to-category map in effect",
				Action: runCategories,
			},
		},
	}
}

// ==================== Dependency container ====================

// Dependencies holds everything a command needs.
type Dependencies struct {
	Config   *config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Repos    *Repositories
	Services *Services
	metrics  interface{ Shutdown(context.Context) error }
}

// Repositories groups the journal repositories.
type Repositories struct {
	SyncRecord repository.SyncRecordRepository
}

// Services groups the pipeline services.
type Services struct {
	InvenTree *service.InvenTreeClient
	LCSC      *service.LCSCService
	Mouser    *service.MouserService
	Category  *service.CategoryService
	Part      *service.PartService
	Sync      *service.SyncService
	Bom       *service.BomService
}

// ==================== Init functions ====================

func initDependencies(c *cli.Context, needBackend bool) (_ *Dependencies, err error) {
	cfg, err := initConfig(c)
	if err != nil {
		return nil, err
	}
	if needBackend {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	deps := &Dependencies{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	if deps.DB, err = database.InitDB(cfg.Database, &model.SyncRecord{}); err != nil {
		return nil, err
	}
	deps.Repos = &Repositories{SyncRecord: repository.NewSyncRecordRepository(deps.DB)}

	srv, err := metrics.Serve(cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics server: %w", err)
	}
	if srv != nil {
		deps.metrics = srv
		log.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}

	if needBackend {
		if deps.Services, err = initServices(c.Context, cfg, deps.Repos, log); err != nil {
			return nil, err
		}
	}
	return deps, nil
}

func initConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("categories"); v != "" {
		cfg.CategoryMap = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	return cfg, nil
}

func initServices(ctx context.Context, cfg *config.Config, repos *Repositories, log *zap.Logger) (*Services, error) {
	backend := service.NewInvenTreeClient(service.InvenTreeConfig{
		BaseURL:  cfg.InvenTree.Host,
		Token:    cfg.InvenTree.Token,
		Username: cfg.InvenTree.Username,
		Password: cfg.InvenTree.Password,
		Timeout:  cfg.InvenTree.Timeout,
		Logger:   log,
	})
	if err := backend.Authenticate(ctx); err != nil {
		return nil, err
	}
	if err := backend.Ping(ctx); err != nil {
		return nil, err
	}

	categoryMap, err := service.LoadCategoryMap(cfg.CategoryMap)
	if err != nil {
		return nil, err
	}

	lcsc := service.NewLCSCService(&service.LCSCConfig{
		Currency: cfg.LCSC.Currency,
		Timeout:  cfg.LCSC.Timeout,
		Logger:   log,
	})
	lcsc.InitSession(ctx)

	mouser, err := service.NewMouserService(&service.MouserConfig{
		APIKey:  cfg.Mouser.APIKey,
		Timeout: cfg.Mouser.Timeout,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	services := &Services{InvenTree: backend, LCSC: lcsc, Mouser: mouser}
	services.Category = service.NewCategoryService(backend, service.CategoryConfig{Map: categoryMap, Logger: log})
	services.Part = service.NewPartService(backend, service.PartConfig{
		Images: utils.NewImageDownloader(20 * time.Second),
		Logger: log,
	})
	services.Sync = service.NewSyncService(lcsc, mouser, services.Part, services.Category, service.SyncConfig{
		Journal: repos.SyncRecord,
		Logger:  log,
	})
	services.Bom = service.NewBomService(backend, services.Sync, services.Category, service.BomConfig{Logger: log})
	return services, nil
}

func (d *Dependencies) Close() {
	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.metrics.Shutdown(ctx)
	}
	if d.DB != nil {
		if sqlDB, err := d.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = d.Log.Sync()
}

// ==================== Commands ====================

func withSignals(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func runImport(c *cli.Context) error {
	ctx, stop := withSignals(c)
	defer stop()
	c.Context = ctx

	deps, err := initDependencies(c, true)
	if err != nil {
		return err
	}
	defer deps.Close()

	entries, err := service.LoadBOMFile(c.String("csv"))
	if err != nil {
		return err
	}

	report := deps.Services.Sync.EnsurePartsExist(ctx, entries)
	printReport(report)
	if problems := report.Problems(); len(problems) > 0 {
		return fmt.Errorf("%d line(s) need attention", len(problems))
	}
	return ctx.Err()
}

func runExport(c *cli.Context) error {
	ctx, stop := withSignals(c)
	defer stop()
	c.Context = ctx

	deps, err := initDependencies(c, true)
	if err != nil {
		return err
	}
	defer deps.Close()

	entries, err := service.LoadBOMFile(c.String("csv"))
	if err != nil {
		return err
	}

	result, err := deps.Services.Bom.Export(ctx, entries, service.ExportOptions{
		Name:          c.String("name"),
		Version:       c.String("version"),
		PCBImage:      c.String("pcb-image"),
		AssemblyImage: c.String("assembly-image"),
		StencilImage:  c.String("stencil-image"),
	})
	if result != nil && result.Sync != nil {
		printReport(result.Sync)
	}
	if err != nil {
		return err
	}

	fmt.Printf("PCB part %d, module part %d, stencil part %d, %d BOM items\n",
		result.PCBID, result.AssemblyID, result.StencilID, result.BomItems)
	return nil
}

func runReport(c *cli.Context) error {
	deps, err := initDependencies(c, false)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx := c.Context
	if sku := c.String("sku"); sku != "" {
		return reportSKU(ctx, deps.Repos.SyncRecord, sku)
	}

	runID := c.String("run")
	if runID == "" {
		if runID, err = deps.Repos.SyncRecord.LatestRunID(ctx); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.New("journal is empty")
			}
			return err
		}
	}

	records, err := deps.Repos.SyncRecord.ListByRun(ctx, runID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no journal entries for run %s", runID)
	}
	counts, err := deps.Repos.SyncRecord.CountByStatus(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Printf("run %s (%s)\n", runID, records[0].CreatedAt.Format(time.RFC3339))
	tally := make(map[model.SyncStatus]int, len(counts))
	for status, n := range counts {
		tally[status] = int(n)
	}
	printCounts(tally)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, rec := range records {
		if rec.Status == model.SyncStatusUnresolved || rec.Status == model.SyncStatusFailed {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", rec.Status, rec.Reference, rec.LCSCSKU, rec.MouserSKU, rec.Message)
		}
	}
	return w.Flush()
}

func reportSKU(ctx context.Context, journal repository.SyncRecordRepository, sku string) error {
	rec, err := journal.FindLastBySKU(ctx, sku)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("no journal entries for SKU %s", sku)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", rec.RunID)
	fmt.Fprintf(w, "at\t%s\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "reference\t%s\n", rec.Reference)
	fmt.Fprintf(w, "status\t%s\n", rec.Status)
	fmt.Fprintf(w, "part\t%d %s\n", rec.PartID, rec.PartName)
	if rec.Message != "" {
		fmt.Fprintf(w, "message\t%s\n", rec.Message)
	}
	return w.Flush()
}

func runCategories(c *cli.Context) error {
	cfg, err := initConfig(c)
	if err != nil {
		return err
	}
	categories, err := service.LoadCategoryMap(cfg.CategoryMap)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, family := range categories.Families() {
		fmt.Fprintf(w, "%s\t%s\n", family, strings.Join(categories[family], " / "))
	}
	return w.Flush()
}

// ==================== Output ====================

func printReport(report *service.SyncReport) {
	fmt.Printf("run %s: %d line(s)\n", report.RunID, len(report.Lines))
	printCounts(report.Counts())

	problems := report.Problems()
	if len(problems) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, p := range problems {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Status, p.Reference, p.LCSCSKU, p.MouserSKU, p.Message)
	}
	_ = w.Flush()
}

func printCounts(counts map[model.SyncStatus]int) {
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("  %-13s %d\n", s, counts[model.SyncStatus(s)])
	}
}

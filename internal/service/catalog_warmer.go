package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/course-scheduling-api/internal/models"
)

type catalogBuilder interface {
	Catalog(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogEntry, error)
}

// CatalogWarmer periodically rebuilds the cached catalogs of a fixed set of
// programs so the first visitor after a change does not pay for it.
type CatalogWarmer struct {
	catalog    catalogBuilder
	programIDs []string
	spec       string
	timeout    time.Duration
	logger     *zap.Logger
	cron       *cron.Cron
}

// NewCatalogWarmer constructs a warmer running on the cron spec.
func NewCatalogWarmer(catalog catalogBuilder, programIDs []string, spec string, logger *zap.Logger) *CatalogWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = "@every 10m"
	}
	return &CatalogWarmer{catalog: catalog, programIDs: programIDs, spec: spec, timeout: 2 * time.Minute, logger: logger}
}

// Start schedules warming. Overlapping runs are skipped.
func (w *CatalogWarmer) Start() error {
	if len(w.programIDs) == 0 {
		w.logger.Info("catalog warmer disabled, no programs configured")
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(w.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		w.WarmAll(ctx)
	}); err != nil {
		return fmt.Errorf("schedule catalog warmer: %w", err)
	}
	w.cron = c
	c.Start()
	w.logger.Info("catalog warmer started", zap.String("schedule", w.spec), zap.Strings("programs", w.programIDs))
	return nil
}

// Stop halts scheduling and waits for a running pass.
func (w *CatalogWarmer) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
}

// WarmAll builds the default catalog of every configured program. Failures
// are logged per program.
func (w *CatalogWarmer) WarmAll(ctx context.Context) int {
	warmed := 0
	for _, id := range w.programIDs {
		start := time.Now()
		entries, err := w.catalog.Catalog(ctx, models.CatalogFilter{ProgramID: id})
		if err != nil {
			w.logger.Warn("catalog warm failed", zap.String("program_id", id), zap.Error(err))
			continue
		}
		warmed++
		w.logger.Debug("catalog warmed",
			zap.String("program_id", id),
			zap.Int("subjects", len(entries)),
			zap.Duration("took", time.Since(start)))
	}
	return warmed
}

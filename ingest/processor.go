// Package ingest turns batches and streams of scraped records into guarded
// upserts. It owns input validation and the concurrency shape of a batch:
// a bounded worker pool behind an optional rate limit, so one oversized
// scrape cannot stampede the stores.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"prodvault/guard"
	"prodvault/types"
)

const (
	// DefaultWorkers bounds how many upserts of one batch run at once.
	DefaultWorkers = 8
)

// ProcessorConfig carries the processor's dependencies and tunables.
type ProcessorConfig struct {
	Guard   *guard.Guard
	Workers int

	// RatePerSecond throttles upserts across the whole batch when set;
	// zero means no throttle. Burst defaults to the worker count.
	RatePerSecond float64
	Burst         int

	Logger *logrus.Logger
}

// Processor validates incoming records and drives them through the guard.
type Processor struct {
	guard    *guard.Guard
	validate *validator.Validate
	workers  int
	limiter  *rate.Limiter
	log      *logrus.Logger
}

// NewProcessor validates the configuration and builds a processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Guard == nil {
		return nil, fmt.Errorf("%w: processor requires a guard", types.ErrValidation)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetOutput(io.Discard)
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.Workers
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Processor{
		guard:    cfg.Guard,
		validate: validator.New(),
		workers:  cfg.Workers,
		limiter:  limiter,
		log:      cfg.Logger,
	}, nil
}

// ProcessRecord validates one record and upserts it.
func (p *Processor) ProcessRecord(ctx context.Context, rec types.ProductRecord) (types.UpsertResult, error) {
	if err := p.checkRecord(rec); err != nil {
		return types.UpsertResult{}, err
	}
	return p.guard.Upsert(ctx, rec)
}

// ProcessBatch runs a whole scrape batch through the guard. Invalid records
// are counted and reported but never abort the batch; upsert failures are
// likewise recorded per record. The returned error is non-nil only when the
// context is canceled mid-batch.
func (p *Processor) ProcessBatch(ctx context.Context, records []types.ProductRecord) (types.BatchReport, error) {
	start := time.Now()
	report := types.BatchReport{
		BatchID: uuid.NewString()[:8],
		Total:   len(records),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := range records {
		idx, rec := i, records[i]
		g.Go(func() error {
			if p.limiter != nil {
				if err := p.limiter.Wait(gctx); err != nil {
					return err
				}
			} else if err := gctx.Err(); err != nil {
				return err
			}

			if err := p.checkRecord(rec); err != nil {
				mu.Lock()
				report.Invalid++
				report.Errors = append(report.Errors, types.BatchError{Index: idx, Error: err.Error()})
				mu.Unlock()
				return nil
			}

			res, err := p.guard.Upsert(gctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, types.BatchError{Index: idx, Error: err.Error()})
				return nil
			}
			if res.Outcome == types.OutcomeNew {
				report.Inserted++
			} else {
				report.Updated++
			}
			return nil
		})
	}

	err := g.Wait()
	report.DurationMS = time.Since(start).Milliseconds()

	p.log.WithFields(logrus.Fields{
		"batch_id":    report.BatchID,
		"total":       report.Total,
		"inserted":    report.Inserted,
		"updated":     report.Updated,
		"invalid":     report.Invalid,
		"failed":      report.Failed,
		"duration_ms": report.DurationMS,
	}).Info("batch processed")

	return report, err
}

// checkRecord applies the struct validation tags and folds field errors into
// a single validation error.
func (p *Processor) checkRecord(rec types.ProductRecord) error {
	err := p.validate.Struct(rec)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", types.ErrValidation, strings.Join(parts, "; "))
}

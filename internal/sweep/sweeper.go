// Package sweep runs funding recomputes and resets across every cardholder.
package sweep

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skippy/island-grown/internal/lifecycle"
	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	errorOperationSweep = "sweep"
	errorCodeList       = "list"
	errorCodeRecord     = "record"

	defaultBatchSize   = 10
	defaultConcurrency = 4
	minPause           = 10 * time.Millisecond
	defaultMaxPause    = time.Second
)

// CardClearer removes card-level limits for a cardholder.
type CardClearer interface {
	ClearCardholderCards(ctx context.Context, cardholderID string) (int, error)
}

// Recorder persists sweep summaries.
type Recorder interface {
	RecordSweep(ctx context.Context, summary benefits.SweepSummary) error
}

// Settings tune pacing against the ledger's request budget.
type Settings struct {
	// BatchSize is how many cardholders are processed between pauses.
	BatchSize int
	// MaxPause bounds the randomized pause taken after each batch.
	MaxPause time.Duration
	// Concurrency bounds in-flight cardholders.
	Concurrency int
}

func (settings Settings) withDefaults() Settings {
	if settings.BatchSize <= 0 {
		settings.BatchSize = defaultBatchSize
	}
	if settings.MaxPause <= 0 {
		settings.MaxPause = defaultMaxPause
	}
	if settings.MaxPause < minPause {
		settings.MaxPause = minPause
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = defaultConcurrency
	}
	return settings
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(sweeper *Sweeper) {
		if logger != nil {
			sweeper.logger = logger
		}
	}
}

// WithOperationLogger reports every reset write.
func WithOperationLogger(logger benefits.OperationLogger) Option {
	return func(sweeper *Sweeper) {
		if logger != nil {
			sweeper.operations = logger
		}
	}
}

// WithRecorder stores a summary of every sweep.
func WithRecorder(recorder Recorder) Option {
	return func(sweeper *Sweeper) {
		sweeper.recorder = recorder
	}
}

// WithSleep replaces the pause between batches.
func WithSleep(sleep func(ctx context.Context, duration time.Duration)) Option {
	return func(sweeper *Sweeper) {
		if sleep != nil {
			sweeper.sleep = sleep
		}
	}
}

// Sweeper walks the cardholder listing with bounded concurrency. A failure on one cardholder is
// logged and recorded; the rest of the batch continues.
type Sweeper struct {
	directory  benefits.CardholderDirectory
	writer     benefits.CardholderWriter
	recomputer lifecycle.FundingRecomputer
	cards      CardClearer
	settings   Settings
	nowFn      func() time.Time
	sleep      func(ctx context.Context, duration time.Duration)
	random     *rand.Rand
	randomLock sync.Mutex
	recorder   Recorder
	logger     *zap.Logger
	operations benefits.OperationLogger
}

// NewSweeper wires a Sweeper.
func NewSweeper(directory benefits.CardholderDirectory, writer benefits.CardholderWriter, recomputer lifecycle.FundingRecomputer, cards CardClearer, settings Settings, now func() time.Time, options ...Option) (*Sweeper, error) {
	if directory == nil {
		return nil, fmt.Errorf("%w: cardholder directory is nil", benefits.ErrInvalidServiceConfig)
	}
	if writer == nil {
		return nil, fmt.Errorf("%w: cardholder writer is nil", benefits.ErrInvalidServiceConfig)
	}
	if recomputer == nil {
		return nil, fmt.Errorf("%w: recomputer is nil", benefits.ErrInvalidServiceConfig)
	}
	if cards == nil {
		return nil, fmt.Errorf("%w: card clearer is nil", benefits.ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", benefits.ErrInvalidServiceConfig)
	}
	sweeper := &Sweeper{
		directory:  directory,
		writer:     writer,
		recomputer: recomputer,
		cards:      cards,
		settings:   settings.withDefaults(),
		nowFn:      now,
		sleep:      sleepContext,
		random:     rand.New(rand.NewSource(now().UnixNano())),
		logger:     zap.NewNop(),
		operations: benefits.NopOperationLogger{},
	}
	for _, option := range options {
		if option != nil {
			option(sweeper)
		}
	}
	return sweeper, nil
}

// RecomputeAll applies the next funding step to every cardholder matching filter and clears
// card-level limits. dryRun computes without writing.
func (sweeper *Sweeper) RecomputeAll(ctx context.Context, filter benefits.CardholderFilter, dryRun bool) (benefits.SweepSummary, error) {
	return sweeper.run(ctx, benefits.SweepKindRecompute, filter, dryRun, func(ctx context.Context, cardholder benefits.Cardholder) (bool, error) {
		outcome, err := sweeper.recomputer.Recompute(ctx, cardholder)
		if err != nil {
			return false, err
		}
		changed := !outcome.Update.IsEmpty()
		if dryRun {
			return changed, nil
		}
		if changed {
			if _, err := sweeper.writer.UpdateCardholder(ctx, cardholder.ID, outcome.Update); err != nil {
				return false, err
			}
		}
		if _, err := sweeper.cards.ClearCardholderCards(ctx, cardholder.ID); err != nil {
			return changed, err
		}
		return changed, nil
	})
}

// ResetAll removes funding metadata and spending limits from every cardholder and their cards,
// returning them to the uninitialized state. dryRun reports without writing.
func (sweeper *Sweeper) ResetAll(ctx context.Context, dryRun bool) (benefits.SweepSummary, error) {
	return sweeper.run(ctx, benefits.SweepKindReset, benefits.CardholderFilter{}, dryRun, func(ctx context.Context, cardholder benefits.Cardholder) (bool, error) {
		update := benefits.CardholderUpdate{
			Metadata:            benefits.ClearedFundingMetadata(cardholder.Metadata),
			ClearSpendingLimits: true,
		}
		if dryRun {
			return true, nil
		}
		_, err := sweeper.writer.UpdateCardholder(ctx, cardholder.ID, update)
		sweeper.logReset(ctx, cardholder.ID, err)
		if err != nil {
			return false, err
		}
		if _, err := sweeper.cards.ClearCardholderCards(ctx, cardholder.ID); err != nil {
			return true, err
		}
		return true, nil
	})
}

type cardholderStep func(ctx context.Context, cardholder benefits.Cardholder) (bool, error)

func (sweeper *Sweeper) run(ctx context.Context, kind string, filter benefits.CardholderFilter, dryRun bool, step cardholderStep) (benefits.SweepSummary, error) {
	summary := benefits.SweepSummary{Kind: kind, DryRun: dryRun, StartedAt: sweeper.nowFn()}
	var (
		processed atomic.Int64
		updated   atomic.Int64
		failures  []benefits.SweepFailure
		failLock  sync.Mutex
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(sweeper.settings.Concurrency)
	listErr := sweeper.directory.ListCardholders(groupCtx, filter, func(cardholder benefits.Cardholder) error {
		if err := groupCtx.Err(); err != nil {
			return err
		}
		group.Go(func() error {
			changed, err := step(groupCtx, cardholder)
			if err != nil {
				sweeper.logger.Error("sweep cardholder failed",
					zap.String("kind", kind),
					zap.String("cardholder_id", cardholder.ID),
					zap.Error(err),
				)
				failLock.Lock()
				failures = append(failures, benefits.SweepFailure{CardholderID: cardholder.ID, Error: err.Error()})
				failLock.Unlock()
			} else if changed {
				updated.Add(1)
			}
			return nil
		})
		count := processed.Add(1)
		if count%int64(sweeper.settings.BatchSize) == 0 {
			pause := sweeper.pause()
			sweeper.logger.Debug("sweep pausing", zap.Int64("processed", count), zap.Duration("pause", pause))
			sweeper.sleep(groupCtx, pause)
		}
		return nil
	})
	_ = group.Wait()

	summary.Processed = int(processed.Load())
	summary.Updated = int(updated.Load())
	summary.Failures = failures
	summary.FinishedAt = sweeper.nowFn()
	sweeper.logger.Info("sweep finished",
		zap.String("kind", kind),
		zap.Bool("dry_run", dryRun),
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed()),
	)

	if sweeper.recorder != nil {
		if err := sweeper.recorder.RecordSweep(ctx, summary); err != nil {
			sweeper.logger.Error("record sweep failed", zap.Error(benefits.WrapError(errorOperationSweep, kind, errorCodeRecord, err)))
		}
	}
	if listErr != nil {
		return summary, benefits.WrapError(errorOperationSweep, kind, errorCodeList, listErr)
	}
	return summary, nil
}

func (sweeper *Sweeper) pause() time.Duration {
	sweeper.randomLock.Lock()
	defer sweeper.randomLock.Unlock()
	span := int64(sweeper.settings.MaxPause - minPause)
	if span <= 0 {
		return minPause
	}
	return minPause + time.Duration(sweeper.random.Int63n(span+1))
}

func (sweeper *Sweeper) logReset(ctx context.Context, cardholderID string, err error) {
	entry := benefits.OperationLog{
		Operation:    benefits.OperationResetCardholder,
		CardholderID: cardholderID,
		Status:       benefits.OperationStatusOK,
	}
	if err != nil {
		entry.Status = benefits.OperationStatusError
		entry.Error = err
	}
	sweeper.operations.LogOperation(ctx, entry)
}

func sleepContext(ctx context.Context, duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

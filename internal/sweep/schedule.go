package sweep

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
)

// ValidateSchedule checks a standard five-field cron expression.
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("%w: sweep schedule %q: %v", benefits.ErrInvalidServiceConfig, spec, err)
	}
	return nil
}

// Schedule runs RecomputeAll on spec until ctx is done. Runs never overlap; a tick that fires
// while the previous sweep is still going is skipped.
func (sweeper *Sweeper) Schedule(ctx context.Context, spec string) error {
	if err := ValidateSchedule(spec); err != nil {
		return err
	}
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := scheduler.AddFunc(spec, func() {
		if _, err := sweeper.RecomputeAll(ctx, benefits.CardholderFilter{}, false); err != nil {
			sweeper.logger.Error("scheduled sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("%w: sweep schedule %q: %v", benefits.ErrInvalidServiceConfig, spec, err)
	}
	sweeper.logger.Info("sweep scheduled", zap.String("schedule", spec))
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}

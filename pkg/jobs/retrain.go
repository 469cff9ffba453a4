package jobs

import (
	"context"

	"github.com/rs/zerolog"

	svcerrors "github.com/lucid-vigil/threatcluster/pkg/errors"
	"github.com/lucid-vigil/threatcluster/pkg/service"
)

// RetrainJobName is the name used in the jobs configuration.
const RetrainJobName = "retrain"

// Retrainer is implemented by service.Classifier.
type Retrainer interface {
	Retrain(ctx context.Context) (*service.RetrainResult, error)
}

// RetrainJob periodically refits the model on ingested events.
type RetrainJob struct {
	*Base
	target Retrainer
	errors *svcerrors.ErrorHandler
}

// NewRetrainJob creates the retrain job. errs may be nil.
func NewRetrainJob(target Retrainer, errs *svcerrors.ErrorHandler, logger zerolog.Logger) *RetrainJob {
	return &RetrainJob{
		Base:   NewBase(RetrainJobName, logger),
		target: target,
		errors: errs,
	}
}

// Run executes one retrain attempt.
func (j *RetrainJob) Run(ctx context.Context) {
	res, err := j.target.Retrain(ctx)
	j.finish(err)
	if err != nil {
		if j.errors != nil {
			_ = j.errors.HandleError(ctx, svcerrors.NewTrainingError(j.Name(), "retrain", err))
		} else {
			j.logger.Error().Err(err).Msg("Retrain failed")
		}
		return
	}

	j.UpdateMetrics("new_events", res.NewEvents)
	j.UpdateMetrics("skipped", res.Skipped)
	j.UpdateMetrics("reason", res.Reason)
	if res.Stats != nil {
		j.UpdateMetrics("iterations", res.Stats.Iterations)
		j.UpdateMetrics("n_samples", res.Stats.Samples)
		j.UpdateMetrics("converged", res.Stats.Converged)
		j.logger.Info().
			Int("samples", res.Stats.Samples).
			Int("iterations", res.Stats.Iterations).
			Msg("Scheduled retrain complete")
	}
}

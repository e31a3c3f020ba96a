package cron

import (
	"context"
	"errors"

	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
)

const defaultDeadLetterSample = 5

type deadLetterReader interface {
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
	ListRecent(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
}

type deadLetterGauge interface {
	SetDeadLetters(reason string, count float64)
}

type DeadLetterReportParams struct {
	Logger     *logger.Logger
	Repository deadLetterReader
	Gauge      deadLetterGauge
	SampleSize int
}

// DeadLetterReport exports the dead-letter backlog and logs the newest
// entries so stuck inventory events are noticed.
type DeadLetterReport struct {
	logg   *logger.Logger
	repo   deadLetterReader
	gauge  deadLetterGauge
	sample int
}

func NewDeadLetterReport(params DeadLetterReportParams) (*DeadLetterReport, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repository == nil {
		return nil, errors.New("dead-letter repository required")
	}
	sample := params.SampleSize
	if sample <= 0 {
		sample = defaultDeadLetterSample
	}
	return &DeadLetterReport{logg: params.Logger, repo: params.Repository, gauge: params.Gauge, sample: sample}, nil
}

func (r *DeadLetterReport) Name() string { return "dead-letter-report" }

func (r *DeadLetterReport) Run(ctx context.Context) error {
	counts, err := r.repo.CountByReason(ctx)
	if err != nil {
		return err
	}
	var total int64
	for reason, n := range counts {
		total += n
		if r.gauge != nil {
			r.gauge.SetDeadLetters(string(reason), float64(n))
		}
	}
	if total == 0 {
		r.logg.Info(ctx, "dead-letter backlog empty")
		return nil
	}

	recent, err := r.repo.ListRecent(ctx, r.sample)
	if err != nil {
		return err
	}
	for _, entry := range recent {
		fields := map[string]any{
			"event_id":      entry.EventID.String(),
			"event_type":    entry.EventType,
			"aggregate_id":  entry.AggregateID.String(),
			"error_reason":  entry.ErrorReason,
			"attempt_count": entry.AttemptCount,
			"failed_at":     entry.FailedAt,
		}
		if entry.ErrorMessage != nil {
			fields["error_message"] = *entry.ErrorMessage
		}
		r.logg.Warn(r.logg.WithFields(ctx, fields), "dead-lettered outbox event")
	}
	r.logg.Warn(r.logg.WithField(ctx, "dead_letters", total), "dead-letter backlog not empty")
	return nil
}

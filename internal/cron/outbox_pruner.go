package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/atelier-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultPruneBatch      = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type OutboxPrunerParams struct {
	Logger     *logger.Logger
	TxRunner   txRunner
	Repository publishedPruner
	Retention  time.Duration
	BatchSize  int
	Clock      func() time.Time
}

// OutboxPruner deletes delivered outbox rows older than the retention window.
type OutboxPruner struct {
	logg      *logger.Logger
	tx        txRunner
	repo      publishedPruner
	retention time.Duration
	batchSize int
	now       func() time.Time
}

func NewOutboxPruner(params OutboxPrunerParams) (*OutboxPruner, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.TxRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPruneBatch
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &OutboxPruner{
		logg:      params.Logger,
		tx:        params.TxRunner,
		repo:      params.Repository,
		retention: retention,
		batchSize: batch,
		now:       clock,
	}, nil
}

func (p *OutboxPruner) Name() string { return "outbox-prune" }

// Run deletes in batches until a batch comes back short.
func (p *OutboxPruner) Run(ctx context.Context) error {
	cutoff := p.now().UTC().Add(-p.retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := p.repo.DeletePublishedBefore(ctx, tx, cutoff, p.batchSize)
			deleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("prune published outbox rows: %w", err)
		}
		total += deleted
		if deleted < int64(p.batchSize) {
			break
		}
	}

	logCtx := p.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
	})
	p.logg.Info(logCtx, "outbox prune complete")
	return nil
}

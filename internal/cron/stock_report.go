package cron

import (
	"context"
	"errors"

	"github.com/angelmondragon/atelier-backend/internal/inventorystats"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
)

type stockGauge interface {
	SetRemaining(metalType string, grams float64)
}

type StockReportParams struct {
	Logger     *logger.Logger
	Statistics inventorystats.Service
	Gauge      stockGauge
}

// StockReport publishes per-metal stock levels and warns about low stock.
type StockReport struct {
	logg  *logger.Logger
	stats inventorystats.Service
	gauge stockGauge
}

func NewStockReport(params StockReportParams) (*StockReport, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Statistics == nil {
		return nil, errors.New("statistics service required")
	}
	return &StockReport{logg: params.Logger, stats: params.Statistics, gauge: params.Gauge}, nil
}

func (r *StockReport) Name() string { return "stock-report" }

func (r *StockReport) Run(ctx context.Context) error {
	summary, err := r.stats.Summarize(ctx)
	if err != nil {
		return err
	}

	if r.gauge != nil {
		for _, metal := range summary.ByMetal {
			r.gauge.SetRemaining(string(metal.MetalType), metal.RemainingGrams.InexactFloat64())
		}
	}

	for _, alert := range summary.LowStock {
		alertCtx := r.logg.WithFields(ctx, map[string]any{
			"metal_type":      alert.MetalType,
			"remaining_grams": alert.RemainingGrams.String(),
			"threshold":       alert.Threshold.String(),
		})
		r.logg.Warn(alertCtx, "low stock")
	}

	logCtx := r.logg.WithFields(ctx, map[string]any{
		"metal_types":     len(summary.ByMetal),
		"low_stock":       len(summary.LowStock),
		"remaining_grams": summary.Totals.RemainingGrams.String(),
	})
	r.logg.Info(logCtx, "stock report complete")
	return nil
}

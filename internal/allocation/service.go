package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/atelier-backend/internal/batches"
	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
)

type snapshotRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.MetalBatch, error)
	List(ctx context.Context, filter batches.ListFilter) ([]models.MetalBatch, error)
}

// Planner previews allocations against the current registry. It never locks
// or mutates batches.
type Planner interface {
	Preview(ctx context.Context, req Request) (*Plan, error)
}

type PlannerParams struct {
	Repository snapshotRepository
	Logger     *logger.Logger
}

type planner struct {
	repo snapshotRepository
	logg *logger.Logger
}

func NewPlanner(params PlannerParams) (Planner, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	return &planner{repo: params.Repository, logg: params.Logger}, nil
}

func (p *planner) Preview(ctx context.Context, req Request) (*Plan, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	snapshot, err := p.snapshot(ctx, req)
	if err != nil {
		return nil, err
	}

	plan, err := BuildPlan(snapshot, req)
	if err != nil {
		if p.logg != nil {
			logCtx := p.logg.WithFields(ctx, map[string]any{
				"metal_type": req.MetalType,
				"method":     req.Method,
				"grams":      req.Grams.String(),
				"code":       pkgerrors.As(err).Code(),
			})
			p.logg.Info(logCtx, "allocation preview rejected")
		}
		return nil, err
	}
	if p.logg != nil {
		logCtx := p.logg.WithFields(ctx, map[string]any{
			"metal_type": plan.MetalType,
			"method":     plan.Method,
			"lines":      len(plan.Lines),
			"total_cost": plan.TotalCost.String(),
		})
		p.logg.Debug(logCtx, "allocation planned")
	}
	return plan, nil
}

func (p *planner) snapshot(ctx context.Context, req Request) ([]models.MetalBatch, error) {
	if req.Method == enums.CostingSpecific {
		batch, err := p.repo.FindByID(ctx, *req.SpecificBatchID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "metal batch not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load metal batch")
		}
		return []models.MetalBatch{*batch}, nil
	}

	rows, err := p.repo.List(ctx, batches.ListFilter{MetalType: req.MetalType})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load metal batches")
	}
	return rows, nil
}

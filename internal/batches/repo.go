package batches

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
)

// ListFilter narrows batch listings. An empty MetalType lists every type.
type ListFilter struct {
	MetalType       enums.MetalType
	IncludeDepleted bool
}

// Repository persists metal batches.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, batch *models.MetalBatch) (*models.MetalBatch, error) {
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.MetalBatch, error) {
	var batch models.MetalBatch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// List returns batches ordered oldest purchase first, ties broken by id.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.MetalBatch, error) {
	query := r.db.WithContext(ctx).Model(&models.MetalBatch{})
	if filter.MetalType != "" {
		query = query.Where("metal_type = ?", filter.MetalType)
	}
	if !filter.IncludeDepleted {
		query = query.Where("remaining_grams > 0")
	}
	var rows []models.MetalBatch
	err := query.
		Order("purchased_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListForUpdate row-locks the given batches in ascending id order so that
// concurrent consumers always acquire locks in the same sequence.
func (r *Repository) ListForUpdate(ctx context.Context, ids []uuid.UUID) ([]models.MetalBatch, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.MetalBatch
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// DebitTx writes the new remaining weight if the row is still at expectedVersion.
// It reports false when another writer got there first.
func (r *Repository) DebitTx(ctx context.Context, id uuid.UUID, newRemaining decimal.Decimal, expectedVersion int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.MetalBatch{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]any{
			"remaining_grams": newRemaining,
			"version":         gorm.Expr("version + 1"),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

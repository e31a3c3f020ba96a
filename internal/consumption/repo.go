package consumption

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/atelier-backend/pkg/db/models"
)

// UsageRepository is the append-only usage ledger. Rows are never updated or deleted.
type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *UsageRepository) WithTx(tx *gorm.DB) *UsageRepository {
	return &UsageRepository{db: tx}
}

func (r *UsageRepository) CreateMany(ctx context.Context, rows []models.MetalUsage) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// ListByOrder returns an order's usage oldest first.
func (r *UsageRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.MetalUsage, error) {
	var rows []models.MetalUsage
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("consumption_id ASC").
		Order("line_no ASC").
		Find(&rows).Error
	return rows, err
}

func (r *UsageRepository) ListByConsumption(ctx context.Context, consumptionID uuid.UUID) ([]models.MetalUsage, error) {
	var rows []models.MetalUsage
	err := r.db.WithContext(ctx).
		Where("consumption_id = ?", consumptionID).
		Order("line_no ASC").
		Find(&rows).Error
	return rows, err
}

package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
)

// Base is embedded by the gorm stores for pools, runs and settlement records.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx. A nil ctx returns the raw handle.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// SwapVersion applies updates to the row with the given id only while its
// version still equals expected, bumping the version in the same statement.
// Zero affected rows means another writer got there first and is reported as
// a retryable version conflict on aggregate.
func SwapVersion(tx *gorm.DB, model any, aggregate string, id uuid.UUID, expected int64, updates map[string]any) error {
	values := make(map[string]any, len(updates)+1)
	for column, value := range updates {
		values[column] = value
	}
	values["version"] = expected + 1

	res := tx.Model(model).
		Where("id = ? AND version = ?", id, expected).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.VersionConflict(aggregate)
	}
	return nil
}

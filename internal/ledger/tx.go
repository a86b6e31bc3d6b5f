package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	"salesorder-system/internal/apperr"
)

// BeginSerializable opens a serializable transaction bounded by timeout.
// Weaker isolation would permit two concurrent reservations to both read the
// same available stock and both succeed, breaking the reserved <= stock
// invariant.
func BeginSerializable(ctx context.Context, db *gorm.DB, timeout time.Duration) (*gorm.DB, context.CancelFunc) {
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	tx := db.WithContext(txCtx).Begin(&sql.TxOptions{Isolation: sql.LevelSerializable})
	return tx, cancel
}

// NormalizeError maps driver and context errors into the stable taxonomy.
// Errors already carrying a kind pass through untouched.
func NormalizeError(err error, fallback string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindTimeout, err, "transaction timed out, no changes were applied")
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Wrap(apperr.KindConflict, err, "duplicate unique key")
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.KindNotFound, err, fallback)
	}
	return apperr.Wrap(apperr.KindInternal, err, fallback)
}

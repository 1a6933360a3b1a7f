package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jabbala/tenantfair"
	"github.com/jabbala/tenantfair/dlq"
	"github.com/jabbala/tenantfair/id"
)

// PushDLQ archives an expired request entry. Re-pushing the same entry
// (a sweep retry after a partial failure) is a no-op.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQModel(entry)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("tenantfair/bun: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.db.NewSelect().Model(&models)

	if opts.TenantID != "" {
		q = q.Where("tenant_id = ?", opts.TenantID)
	}

	q = q.Order("recorded_at DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tenantfair/bun: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromDLQModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("tenantfair/bun: list dlq convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tenantfair.ErrDLQNotFound
		}
		return nil, fmt.Errorf("tenantfair/bun: get dlq: %w", err)
	}
	return fromDLQModel(m)
}

// ReplayDLQ marks a DLQ entry as replayed, exactly once. The WHERE
// clause on replayed_at makes concurrent replays race safely: the
// second update affects zero rows.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.NewUpdate().
		TableExpr("tenantfair_dlq").
		Set("replayed_at = NOW()").
		Where("id = ?", entryID.String()).
		Where("replayed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tenantfair/bun: replay dlq: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		exists, cErr := s.db.NewSelect().
			TableExpr("tenantfair_dlq").
			Where("id = ?", entryID.String()).
			Exists(ctx)
		if cErr != nil {
			return fmt.Errorf("tenantfair/bun: replay dlq check: %w", cErr)
		}
		if exists {
			return tenantfair.ErrAlreadyResolved
		}
		return tenantfair.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries recorded before the given time. Returns
// the number of entries removed.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("tenantfair_dlq").
		Where("recorded_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("tenantfair/bun: purge dlq: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		TableExpr("tenantfair_dlq").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tenantfair/bun: count dlq: %w", err)
	}
	return int64(count), nil
}

package store

import (
	"context"
	"time"

	"github.com/go-authgate/checkrgate/internal/models"
)

const auditBatchSize = 100

// CreateAuditLog inserts a single audit entry
func (s *Store) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// CreateAuditLogBatch inserts entries in chunks
func (s *Store) CreateAuditLogBatch(ctx context.Context, entries []*models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(entries, auditBatchSize).Error
}

// ListAuditLogs returns the events recorded for a partner account, newest first
func (s *Store) ListAuditLogs(
	ctx context.Context,
	partnerAccountID string,
	params PaginationParams,
) ([]models.AuditLog, PaginationResult, error) {
	query := s.db.WithContext(ctx).
		Model(&models.AuditLog{}).
		Where("partner_account_id = ?", partnerAccountID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, PaginationResult{}, err
	}

	var logs []models.AuditLog
	err := query.
		Order("event_time DESC").
		Offset(params.offset()).
		Limit(params.PageSize).
		Find(&logs).Error
	if err != nil {
		return nil, PaginationResult{}, err
	}

	return logs, CalculatePagination(total, params.Page, params.PageSize), nil
}

// DeleteOldAuditLogs removes entries older than cutoff and reports how many were deleted
func (s *Store) DeleteOldAuditLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("event_time < ?", cutoff).
		Delete(&models.AuditLog{})
	return result.RowsAffected, result.Error
}

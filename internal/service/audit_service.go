package service

import (
	"context"

	"github.com/pesio-ai/be-plt-access/internal/repository"
)

// MaxAuditLogs caps the number of entries returned by ListAuditLogs
const MaxAuditLogs = 1000

type AuditService struct {
	store Store
}

func NewAuditService(store Store) *AuditService {
	return &AuditService{store: store}
}

// ListAuditLogs returns the newest entries first. A limit outside
// 1..MaxAuditLogs means MaxAuditLogs.
func (s *AuditService) ListAuditLogs(ctx context.Context, limit int) ([]repository.AuditEntry, error) {
	if limit <= 0 || limit > MaxAuditLogs {
		limit = MaxAuditLogs
	}
	return s.store.Audit().List(ctx, limit)
}

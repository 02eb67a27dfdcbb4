package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-workflow-engine/internal/errors"
	"github.com/pesio-ai/be-workflow-engine/internal/lock"
	"github.com/pesio-ai/be-workflow-engine/internal/logger"
	"github.com/pesio-ai/be-workflow-engine/internal/metrics"
	"github.com/pesio-ai/be-workflow-engine/internal/repository"
)

// base carries what both services share: locking, auditing, the clock and
// id generation.
type base struct {
	audit   AuditStore
	locker  lock.Locker
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
	newID   func() string
}

func newBase(audit AuditStore, locker lock.Locker, m *metrics.Metrics, log *logger.Logger) base {
	if locker == nil {
		locker = lock.NopLocker{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return base{
		audit:   audit,
		locker:  locker,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// acquire takes the per-entity lock. The returned func releases it and logs,
// never fails.
func (b *base) acquire(ctx context.Context, entityType, id string) (func(), error) {
	key := lock.Key(entityType, id)
	release, err := b.locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, errors.Wrap(err, errors.ErrCodeConflict, entityType+" is being modified, retry later")
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to acquire "+entityType+" lock")
	}
	return func() {
		// The caller's context may already be cancelled; release anyway.
		if err := release(context.WithoutCancel(ctx)); err != nil {
			b.log.Warn().Err(err).Str("key", key).Msg("Failed to release lock")
		}
	}, nil
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (b *base) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if b.audit == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = b.newID()
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = b.now()
	}
	if err := b.audit.Append(ctx, entry); err != nil {
		if b.metrics != nil {
			b.metrics.RecordAuditFailure(entry.EntityType)
		}
		b.log.Warn().Err(err).
			Str("entity_type", entry.EntityType).
			Str("entity_id", entry.EntityID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func (b *base) conflict(entity string, err error) {
	if b.metrics != nil && errors.Code(err) == errors.ErrCodeConflict {
		b.metrics.RecordConflict(entity)
	}
}

func strPtr(s string) *string { return &s }

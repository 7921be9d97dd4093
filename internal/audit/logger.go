// Package audit records role lifecycle transitions. Writes are best-effort:
// a failed audit write never fails the user-facing operation.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"multirole-accounts/internal/audit/domain"
	auditrepo "multirole-accounts/internal/audit/repository"
)

// Actions recorded by the lifecycle service and the purge sweeper.
const (
	ActionGrant      = "role.grant"
	ActionReactivate = "role.reactivate"
	ActionSwitch     = "role.switch"
	ActionDeactivate = "role.deactivate"
	ActionPurge      = "role.purge"
)

// IPExtractor returns the client IP from the request context. The transport
// layer supplies one; nil records "unknown".
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// Logger implements AuditLogger over the audit repository.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewLogger returns an AuditLogger that persists to repo. ipExtractor may
// be nil.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor}
}

// LogEvent writes one audit log entry. Errors are logged, not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	if l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}

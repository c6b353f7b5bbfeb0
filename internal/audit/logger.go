// Package audit records the authority's decisions.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ied-sentinel/internal/audit/domain"
	auditrepo "ied-sentinel/internal/audit/repository"
)

// AnonymousActor is recorded when a request does not name its device.
const AnonymousActor = "_anonymous"

// Actions written by the authority.
const (
	ActionValidate    = "id_validate"
	ActionBookkeeping = "bookkeeping"
	ActionUpdateIDs   = "ids_updated"
)

type clientIPKey struct{}

// WithClientIP returns a context carrying the caller's address for LogEvent.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address stored by WithClientIP, or "unknown".
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, actor, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo auditrepo.Repository
	log  logrus.FieldLogger
	now  func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo. log may be nil.
func NewLogger(repo auditrepo.Repository, log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{repo: repo, log: log, now: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, actor, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	if actor == "" {
		actor = AnonymousActor
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		IP:        ClientIP(ctx),
		Metadata:  metadata,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{"action": action, "resource": resource}).Warn("audit: failed to log event")
	}
}

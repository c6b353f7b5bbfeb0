// Package authority is the validation authority and bookkeeping collector the
// devices report to. It decides whether a device ID may change status, keeps
// every bookkeeping record and the latest one per device, and audits each decision.
package authority

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ied-sentinel/internal/audit"
	auditdomain "ied-sentinel/internal/audit/domain"
	auditrepo "ied-sentinel/internal/audit/repository"
	"ied-sentinel/internal/authority/domain"
	"ied-sentinel/internal/authority/repository"
)

var (
	// ErrInvalidID is returned for an empty device ID.
	ErrInvalidID = errors.New("authority: id is required")
	// ErrUnknownDevice is returned when a bookkeeping record names a device not on the allowed list.
	ErrUnknownDevice = errors.New("authority: device is not on the allowed list")
	// ErrInvalidIDs is returned when an allowed list update is empty or has blank entries.
	ErrInvalidIDs = errors.New("authority: ids must be a non-empty list of non-blank names")
)

// PolicyEvaluator decides whether id is allowed given the stored list.
type PolicyEvaluator interface {
	Allowed(ctx context.Context, id string, allowedIDs []string) (bool, error)
	HealthCheck(ctx context.Context) error
}

// Options configures a Service.
type Options struct {
	Repo   repository.Repository
	Policy PolicyEvaluator
	// AuditRepo may be nil; decisions are then not audited.
	AuditRepo auditrepo.Repository
	Log       logrus.FieldLogger
	Now       func() time.Time
}

// Service implements the authority's operations.
type Service struct {
	repo      repository.Repository
	policy    PolicyEvaluator
	auditRepo auditrepo.Repository
	audit     audit.AuditLogger
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewService returns a Service. Repo and Policy are required.
func NewService(opts Options) (*Service, error) {
	if opts.Repo == nil || opts.Policy == nil {
		return nil, errors.New("authority: repository and policy are required")
	}
	s := &Service{
		repo:      opts.Repo,
		policy:    opts.Policy,
		auditRepo: opts.AuditRepo,
		log:       opts.Log,
		now:       opts.Now,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.audit = audit.NewLogger(opts.AuditRepo, s.log)
	return s, nil
}

// ValidateID reports whether the device id is allowed to change status. actor is the requesting device, if known.
func (s *Service) ValidateID(ctx context.Context, actor, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, ErrInvalidID
	}
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return false, fmt.Errorf("authority: list ids: %w", err)
	}
	ok, err := s.policy.Allowed(ctx, id, ids)
	if err != nil {
		return false, fmt.Errorf("authority: %w", err)
	}
	s.log.WithFields(logrus.Fields{"id": id, "actor": actor, "valid": ok}).Info("authority: validated id")
	s.audit.LogEvent(ctx, actor, audit.ActionValidate, id, "valid="+strconv.FormatBool(ok))
	return ok, nil
}

// RecordBookkeeping stores e and makes it the device's latest entry.
// The device must be on the allowed list. ID and CreatedAt are assigned when missing.
func (s *Service) RecordBookkeeping(ctx context.Context, e domain.Entry) (domain.Entry, error) {
	e.DeviceID = strings.TrimSpace(e.DeviceID)
	if e.DeviceID == "" {
		return domain.Entry{}, ErrInvalidID
	}
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("authority: list ids: %w", err)
	}
	if !slices.Contains(ids, e.DeviceID) {
		s.audit.LogEvent(ctx, e.DeviceID, audit.ActionBookkeeping, e.DeviceID, "rejected=unknown_device")
		return domain.Entry{}, fmt.Errorf("%w: %q", ErrUnknownDevice, e.DeviceID)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = s.now().UTC()
	if err := s.repo.SaveEntry(ctx, &e); err != nil {
		return domain.Entry{}, fmt.Errorf("authority: save entry: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"id":      e.DeviceID,
		"kind":    e.Kind,
		"verdict": e.Verdict,
		"stNum":   e.StNum,
		"status":  e.Status,
	}).Info("authority: bookkeeping recorded")
	s.audit.LogEvent(ctx, e.DeviceID, audit.ActionBookkeeping, e.DeviceID,
		fmt.Sprintf("record=%s kind=%s verdict=%s stNum=%d", e.ID, e.Kind, e.Verdict, e.StNum))
	return e, nil
}

// UpdateIDs replaces the allowed list. Blank entries are rejected and duplicates collapsed.
func (s *Service) UpdateIDs(ctx context.Context, actor string, ids []string) ([]string, error) {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, ErrInvalidIDs
		}
		if !slices.Contains(clean, id) {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return nil, ErrInvalidIDs
	}
	if err := s.repo.ReplaceIDs(ctx, clean); err != nil {
		return nil, fmt.Errorf("authority: replace ids: %w", err)
	}
	s.log.WithField("ids", clean).Info("authority: allowed ids updated")
	s.audit.LogEvent(ctx, actor, audit.ActionUpdateIDs, "ids", strings.Join(clean, ","))
	return clean, nil
}

// State returns the allowed list and the latest entry per device.
func (s *Service) State(ctx context.Context) (domain.State, error) {
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return domain.State{}, fmt.Errorf("authority: list ids: %w", err)
	}
	latest, err := s.repo.Latest(ctx)
	if err != nil {
		return domain.State{}, fmt.Errorf("authority: latest: %w", err)
	}
	return domain.State{IDs: ids, Devices: latest}, nil
}

// History returns deviceID's entries, oldest first, keeping only the newest limit when limit > 0.
func (s *Service) History(ctx context.Context, deviceID string, limit int) ([]domain.Entry, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrInvalidID
	}
	entries, err := s.repo.History(ctx, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("authority: history: %w", err)
	}
	return entries, nil
}

// AuditTrail returns audited decisions about resource, newest first. It is empty when auditing is off.
func (s *Service) AuditTrail(ctx context.Context, resource string, limit int) ([]*auditdomain.AuditLog, error) {
	if s.auditRepo == nil {
		return []*auditdomain.AuditLog{}, nil
	}
	return s.auditRepo.List(ctx, resource, limit)
}

// Ping checks the repository. Used by the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// HealthCheck checks the policy engine. Used by the readiness probe.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.policy.HealthCheck(ctx)
}

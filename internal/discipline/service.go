package discipline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/agora-forum/agora/internal/shared"
	"github.com/agora-forum/agora/internal/users"
)

// UserDirectory resolves users referenced by discipline records.
type UserDirectory interface {
	FindByID(ctx context.Context, id int64) (*users.User, error)
}

// SessionInvalidator terminates every authenticated session of a user,
// including persistent login state. Disciplined users must not keep acting
// under an existing session.
type SessionInvalidator interface {
	InvalidateAllForUser(ctx context.Context, userID int64) error
}

// Notifier enqueues the informational email sent to a disciplined user.
type Notifier interface {
	EnqueueDisciplineNotice(ctx context.Context, email string, notice Notice) error
}

// MetricsRecorder counts disciplinary actions.
type MetricsRecorder interface {
	DisciplineIssued(kind string)
	DisciplineRescinded()
}

// Service orchestrates the discipline lifecycle: issuance, the per-action
// gate, ledger views, and rescission.
type Service struct {
	repo      RepositoryPort
	directory UserDirectory
	sessions  SessionInvalidator
	notifier  Notifier
	metrics   MetricsRecorder
	audit     *shared.AuditLogger
	logger    *slog.Logger
	maxHours  int
	now       func() time.Time
}

// ServiceConfig carries optional policy overrides.
type ServiceConfig struct {
	// MaxSuspensionHours caps suspension durations, inclusive. Zero means
	// DefaultMaxSuspensionHours.
	MaxSuspensionHours int
}

// NewService builds a Service. Notifier, metrics and audit may be nil.
func NewService(repo RepositoryPort, directory UserDirectory, sessions SessionInvalidator, notifier Notifier, metrics MetricsRecorder, audit *shared.AuditLogger, logger *slog.Logger, cfg ServiceConfig) *Service {
	maxHours := cfg.MaxSuspensionHours
	if maxHours <= 0 {
		maxHours = DefaultMaxSuspensionHours
	}
	return &Service{
		repo:      repo,
		directory: directory,
		sessions:  sessions,
		notifier:  notifier,
		metrics:   metrics,
		audit:     audit,
		logger:    logger,
		maxHours:  maxHours,
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// MaxSuspensionHours exposes the configured inclusive duration cap.
func (s *Service) MaxSuspensionHours() int {
	return s.maxHours
}

// Issue creates a punitive grant by actor against target. Authority of the
// actor over the target is the caller's precondition; this method stays
// composable and does not gate it. The bool reports whether a record was
// newly issued: a duplicate active ban yields (false, ErrAlreadyBanned)
// with no mutation.
func (s *Service) Issue(ctx context.Context, actor, target *users.User, kind Kind, reason string, durationHours int) (bool, error) {
	if !kind.Valid() {
		return false, ErrInvalidKind
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return false, ErrBlankReason
	}
	if kind == KindSuspension && (durationHours < 1 || durationHours > s.maxHours) {
		return false, ErrInvalidDuration
	}
	if kind == KindBan {
		durationHours = 0
		existing, err := s.repo.ListForUser(ctx, target.ID)
		if err != nil {
			return false, err
		}
		// The insert remains the serialization point for concurrent bans;
		// this read rejects the common duplicate without taking the row lock.
		if HasActiveBan(existing, s.now()) {
			return false, ErrAlreadyBanned
		}
	}

	record := Record{
		DisciplinedUserID:  target.ID,
		DiscipliningUserID: actor.ID,
		Kind:               kind,
		Reason:             reason,
		DurationHours:      durationHours,
		CreatedAt:          s.now(),
	}
	record, err := s.repo.Insert(ctx, record)
	if err != nil {
		if errors.Is(err, ErrAlreadyBanned) {
			return false, ErrAlreadyBanned
		}
		return false, err
	}

	if s.metrics != nil {
		s.metrics.DisciplineIssued(string(kind))
	}
	s.recordAudit(ctx, actor.ID, "discipline.issue", record)

	// The punished user must not continue acting under an existing session.
	if err := s.sessions.InvalidateAllForUser(ctx, target.ID); err != nil && s.logger != nil {
		s.logger.Warn("invalidate disciplined user sessions", slog.Int64("user_id", target.ID), slog.Any("error", err))
	}
	if s.notifier != nil {
		if err := s.notifier.EnqueueDisciplineNotice(ctx, target.Email, NoticeFor(record)); err != nil && s.logger != nil {
			s.logger.Warn("enqueue discipline notice", slog.Any("error", err))
		}
	}
	return true, nil
}

// Rescind deactivates a record. Legal for the disciplining user themself or
// anyone who outranks them. Idempotent: rescinding an already-rescinded
// record is a no-op. Rescission is one-way; a rescinded record never
// reactivates.
func (s *Service) Rescind(ctx context.Context, actor *users.User, record *Record) error {
	if actor == nil || record == nil {
		return ErrNotFound
	}
	if actor.ID != record.DiscipliningUserID {
		discipliner, err := s.directory.FindByID(ctx, record.DiscipliningUserID)
		if err != nil {
			return err
		}
		if !actor.IsHigherAuthority(discipliner) {
			return ErrInsufficientAuthority
		}
	}
	if record.Rescinded {
		return nil
	}
	if err := s.repo.MarkRescinded(ctx, record.ID); err != nil {
		return err
	}
	record.Rescinded = true
	if s.metrics != nil {
		s.metrics.DisciplineRescinded()
	}
	s.recordAudit(ctx, actor.ID, "discipline.rescind", *record)
	return nil
}

// HandleDisciplinedUser is the gate invoked at the start of every
// privileged or content-creating action. A nil user is a no-op. A user
// with any active record gets their sessions terminated and the action is
// aborted with a *DisciplinedUserError. Discipline status is recomputed on
// every call; session state is never trusted as a cache of it.
func (s *Service) HandleDisciplinedUser(ctx context.Context, user *users.User) error {
	if user == nil {
		return nil
	}
	records, err := s.repo.ListForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	now := s.now()
	governing, ok := GreatestActive(records, now)
	if !ok {
		return nil
	}
	if err := s.sessions.InvalidateAllForUser(ctx, user.ID); err != nil && s.logger != nil {
		s.logger.Warn("invalidate disciplined user sessions", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	return &DisciplinedUserError{
		UserID:   user.ID,
		Username: user.Username,
		Notice:   NoticeFor(governing),
	}
}

// IsBannedOrSuspended reports whether the user has any active record.
func (s *Service) IsBannedOrSuspended(ctx context.Context, user *users.User) (bool, error) {
	records, err := s.repo.ListForUser(ctx, user.ID)
	if err != nil {
		return false, err
	}
	return HasActive(records, s.now()), nil
}

// ActiveDisciplines returns the user's active records ordered by severity,
// each annotated with whether the viewing actor may rescind it.
func (s *Service) ActiveDisciplines(ctx context.Context, user, viewer *users.User) ([]View, error) {
	records, err := s.repo.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.annotate(ctx, ActiveRecords(records, s.now()), viewer)
}

// InactiveDisciplines returns expired and rescinded records in
// reverse-chronological order. Inactive records can no longer be
// rescinded, so the annotation is always false.
func (s *Service) InactiveDisciplines(ctx context.Context, user *users.User) ([]View, error) {
	records, err := s.repo.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.annotate(ctx, InactiveRecords(records, s.now()), nil)
}

// GreatestActiveFor returns the most severe active record for the user.
func (s *Service) GreatestActiveFor(ctx context.Context, user *users.User) (*Record, error) {
	records, err := s.repo.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	record, ok := GreatestActive(records, s.now())
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

// GetByIDForUser loads a record, requiring it to belong to the given
// user's ledger. A mismatch reads the same as absence.
func (s *Service) GetByIDForUser(ctx context.Context, id int64, user *users.User) (*Record, error) {
	if user == nil {
		return nil, ErrNotFound
	}
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.DisciplinedUserID != user.ID {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *Service) annotate(ctx context.Context, records []Record, viewer *users.User) ([]View, error) {
	views := make([]View, 0, len(records))
	discipliners := make(map[int64]*users.User)
	for _, record := range records {
		view := View{Record: record}
		if viewer != nil {
			if viewer.ID == record.DiscipliningUserID {
				view.CanRescind = true
			} else {
				discipliner, ok := discipliners[record.DiscipliningUserID]
				if !ok {
					var err error
					discipliner, err = s.directory.FindByID(ctx, record.DiscipliningUserID)
					if err != nil {
						return nil, err
					}
					discipliners[record.DiscipliningUserID] = discipliner
				}
				view.CanRescind = viewer.IsHigherAuthority(discipliner)
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, record Record) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "discipline",
		EntityID: strconv.FormatInt(record.ID, 10),
		Meta: map[string]any{
			"kind":           string(record.Kind),
			"disciplined_id": record.DisciplinedUserID,
		},
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit discipline", slog.Any("error", err))
	}
}

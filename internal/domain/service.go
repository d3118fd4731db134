// Package domain defines the attendance workflow: issuing display codes,
// turning member scans into check-ins and check-outs, and reporting.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kaif394/Gymble0/internal/observability"
	"github.com/kaif394/Gymble0/internal/qrtoken"
)

const (
	defaultStatsMaxDays    = 90
	defaultConflictRetries = 3
	defaultHistoryLimit    = 20
	maxHistoryLimit        = 100
)

// AttendanceRepository captures persistence operations.
type AttendanceRepository interface {
	SessionStore
	// FindMember returns nil, nil when no profile exists for the user at the gym.
	FindMember(ctx context.Context, gymID, userID string) (*Member, error)
	// LatestSession returns the most recent record for the key's day, or nil.
	LatestSession(ctx context.Context, key SessionKey) (*AttendanceRecord, error)
	// ListByGym returns records with check-in in [from, to), newest first.
	ListByGym(ctx context.Context, gymID string, from, to time.Time) ([]AttendanceRecord, error)
	ListByMember(ctx context.Context, gymID, memberID string, cursor *Cursor, limit int) ([]AttendanceRecord, *Cursor, error)
}

// CodeCache stores rendered code images per gym and slot.
type CodeCache interface {
	Get(ctx context.Context, gymID string, slot int64) ([]byte, bool, error)
	Set(ctx context.Context, gymID string, slot int64, png []byte, ttl time.Duration) error
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithDayBoundary sets the zone whose midnight separates days.
func WithDayBoundary(days DayBoundary) Option {
	return func(s *Service) {
		s.days = days
	}
}

// WithCodeCache enables caching of rendered code images.
func WithCodeCache(cache CodeCache) Option {
	return func(s *Service) {
		s.codes = cache
	}
}

// WithLogger overrides the logger used to report rejections and conflicts.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithConflictRetries sets how often a lost race is retried before surfacing.
func WithConflictRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.conflictRetries = n
		}
	}
}

// WithStatsMaxDays caps the window of daily statistics.
func WithStatsMaxDays(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.statsMaxDays = n
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// Service orchestrates attendance workflows.
type Service struct {
	repo            AttendanceRepository
	generator       *qrtoken.Generator
	validator       *qrtoken.Validator
	codes           CodeCache
	days            DayBoundary
	now             func() time.Time
	newID           func() string
	logger          *log.Logger
	conflictRetries int
	statsMaxDays    int
}

// NewService constructs a Service.
func NewService(repo AttendanceRepository, generator *qrtoken.Generator, validator *qrtoken.Validator, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		generator:       generator,
		validator:       validator,
		days:            NewDayBoundary(time.UTC),
		now:             time.Now,
		newID:           uuid.NewString,
		logger:          log.New(log.Writer(), "[attendance] ", log.LstdFlags),
		conflictRetries: defaultConflictRetries,
		statsMaxDays:    defaultStatsMaxDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Days exposes the configured day boundary.
func (s *Service) Days() DayBoundary {
	return s.days
}

// IssueCode returns the code a gym display should currently show.
func (s *Service) IssueCode(ctx context.Context, actor Actor) (qrtoken.Code, error) {
	if !actor.CanDisplay() {
		return qrtoken.Code{}, ErrUnauthorized
	}
	if actor.GymID == "" {
		return qrtoken.Code{}, ErrNoGym
	}

	tok, err := s.generator.Token(actor.GymID, s.now())
	if err != nil {
		return qrtoken.Code{}, err
	}

	if s.codes != nil {
		png, ok, cacheErr := s.codes.Get(ctx, tok.GymID, tok.Slot)
		if cacheErr != nil {
			s.logger.Printf("code cache read failed (gym=%s): %v", tok.GymID, cacheErr)
		} else if ok {
			observability.RecordCodeIssued(true)
			return s.generator.Code(tok, png), nil
		}
	}

	png, err := s.generator.Image(tok)
	if err != nil {
		return qrtoken.Code{}, fmt.Errorf("render attendance code: %w", err)
	}
	code := s.generator.Code(tok, png)

	if s.codes != nil {
		ttl := code.ExpiresAt.Sub(s.now())
		if ttl > 0 {
			if cacheErr := s.codes.Set(ctx, tok.GymID, tok.Slot, png, ttl); cacheErr != nil {
				s.logger.Printf("code cache write failed (gym=%s): %v", tok.GymID, cacheErr)
			}
		}
	}
	observability.RecordCodeIssued(false)
	return code, nil
}

// MarkAttendanceInput carries a member scan.
type MarkAttendanceInput struct {
	Token  string
	Client ClientMetadata
}

// MarkAttendanceResult reports which transition a scan resolved to.
type MarkAttendanceResult struct {
	Transition Transition
	Record     AttendanceRecord
}

// MarkAttendance checks the member in, or out when a session is already open
// today. The caller never chooses the action.
func (s *Service) MarkAttendance(ctx context.Context, actor Actor, input MarkAttendanceInput) (*MarkAttendanceResult, error) {
	if actor.Role != RoleMember {
		return nil, s.reject(ErrUnauthorized, actor, "")
	}
	if actor.GymID == "" {
		return nil, s.reject(ErrNoGym, actor, "")
	}

	now := s.now()
	if err := s.validator.Validate(input.Token, actor.GymID, now); err != nil {
		return nil, s.reject(fmt.Errorf("%w: %w", ErrInvalidToken, err), actor, "")
	}

	member, err := s.repo.FindMember(ctx, actor.GymID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, s.reject(ErrMemberNotFound, actor, "")
	}
	if member.MembershipStatus != MembershipActive {
		return nil, s.reject(ErrMembershipInactive, actor, member.ID)
	}

	key := SessionKey{GymID: actor.GymID, MemberID: member.ID, Day: s.days.DayOf(now)}
	presentation := Presentation{Member: *member, Token: input.Token, Client: input.Client, At: now}
	mutate := func(open *AttendanceRecord) (SessionChange, error) {
		return Advance(open, presentation, s.newID), nil
	}

	for attempt := 0; ; attempt++ {
		change, err := s.repo.ApplySession(ctx, key, mutate)
		if err == nil {
			observability.RecordTransition(string(change.Transition), change.Record.CheckInTime)
			return &MarkAttendanceResult{Transition: change.Transition, Record: change.Record}, nil
		}
		if !errors.Is(err, ErrConcurrentSession) {
			return nil, err
		}
		observability.RecordConflict()
		if attempt >= s.conflictRetries {
			return nil, s.reject(err, actor, member.ID)
		}
		s.logger.Printf("retrying attendance transition (key=%s, attempt=%d)", key, attempt+1)
	}
}

// AttendanceStatus is a member's state for the current day.
type AttendanceStatus struct {
	State  SessionState
	Record *AttendanceRecord
}

// MyStatus reports whether the member is checked in today.
func (s *Service) MyStatus(ctx context.Context, actor Actor) (*AttendanceStatus, error) {
	member, err := s.memberFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	key := SessionKey{GymID: actor.GymID, MemberID: member.ID, Day: s.days.DayOf(s.now())}
	latest, err := s.repo.LatestSession(ctx, key)
	if err != nil {
		return nil, err
	}
	return &AttendanceStatus{State: StateOf(latest), Record: latest}, nil
}

// History pages through the member's own records, newest first.
func (s *Service) History(ctx context.Context, actor Actor, cursor *Cursor, limit int) ([]AttendanceRecord, *Cursor, error) {
	member, err := s.memberFor(ctx, actor)
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.ListByMember(ctx, actor.GymID, member.ID, cursor, limit)
}

// Today lists the gym's records for the current day, newest first.
func (s *Service) Today(ctx context.Context, actor Actor) ([]AttendanceRecord, error) {
	if !actor.CanManage() {
		return nil, ErrUnauthorized
	}
	if actor.GymID == "" {
		return []AttendanceRecord{}, nil
	}
	day := s.days.DayOf(s.now())
	records, err := s.repo.ListByGym(ctx, actor.GymID, day.Start, day.End)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CheckInTime.After(records[j].CheckInTime)
	})
	return records, nil
}

// Stats summarizes the last days calendar days including today, capped at
// the configured maximum.
func (s *Service) Stats(ctx context.Context, actor Actor, days int) ([]DayStats, error) {
	if !actor.CanManage() {
		return nil, ErrUnauthorized
	}
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", ErrInvalidRange)
	}
	if days > s.statsMaxDays {
		days = s.statsMaxDays
	}
	if actor.GymID == "" {
		return []DayStats{}, nil
	}

	today := s.days.DayOf(s.now())
	from := today.Start.AddDate(0, 0, -(days - 1))
	records, err := s.repo.ListByGym(ctx, actor.GymID, from, today.End)
	if err != nil {
		return nil, err
	}
	return SummarizeByDay(records, s.days), nil
}

// Calendar lays out a month of attendance for the gym.
func (s *Service) Calendar(ctx context.Context, actor Actor, year int, month time.Month) (*MonthCalendar, error) {
	if !actor.CanManage() {
		return nil, ErrUnauthorized
	}
	if month < time.January || month > time.December || year < 1 || year > 9999 {
		return nil, fmt.Errorf("%w: %d-%02d", ErrInvalidRange, year, month)
	}
	if actor.GymID == "" {
		cal := BuildCalendar(nil, year, month, s.days)
		return &cal, nil
	}

	from, to := s.days.Month(year, month)
	records, err := s.repo.ListByGym(ctx, actor.GymID, from, to)
	if err != nil {
		return nil, err
	}
	cal := BuildCalendar(records, year, month, s.days)
	return &cal, nil
}

func (s *Service) memberFor(ctx context.Context, actor Actor) (*Member, error) {
	if actor.Role != RoleMember {
		return nil, ErrUnauthorized
	}
	if actor.GymID == "" {
		return nil, ErrNoGym
	}
	member, err := s.repo.FindMember(ctx, actor.GymID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrMemberNotFound
	}
	return member, nil
}

func (s *Service) reject(err error, actor Actor, memberID string) error {
	reason := RejectionReason(err)
	observability.RecordRejection(reason)
	s.logger.Printf("attendance rejected (gym=%s, user=%s, member=%s, reason=%s): %v", actor.GymID, actor.UserID, memberID, reason, err)
	return err
}

// RejectionReason maps an attendance error to a short label.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, qrtoken.ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, qrtoken.ErrTokenNotCurrent):
		return "token_not_current"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNoGym):
		return "no_gym"
	case errors.Is(err, ErrMemberNotFound):
		return "member_not_found"
	case errors.Is(err, ErrMembershipInactive):
		return "membership_inactive"
	case errors.Is(err, ErrConcurrentSession):
		return "concurrent_session"
	default:
		return "other"
	}
}

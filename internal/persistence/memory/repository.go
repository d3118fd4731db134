// Package memory keeps members and attendance records in process memory for
// local development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaif394/Gymble0/internal/domain"
)

// Repository implements domain.AttendanceRepository in memory.
type Repository struct {
	mu      sync.RWMutex
	members map[string]domain.Member
	records []domain.AttendanceRecord
	keys    *keyedMutex
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		members: make(map[string]domain.Member),
		keys:    newKeyedMutex(),
	}
}

// UpsertMember stores a member profile, assigning an id when missing.
func (r *Repository) UpsertMember(member domain.Member) domain.Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(member.ID) == "" {
		member.ID = uuid.NewString()
	}
	r.members[member.ID] = member
	return member
}

// Member returns a copy of the stored profile.
func (r *Repository) Member(id string) (domain.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return m, ok
}

// Records returns a copy of every stored record in insertion order.
func (r *Repository) Records() []domain.AttendanceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AttendanceRecord, len(r.records))
	copy(out, r.records)
	return out
}

// FindMember implements domain.AttendanceRepository.
func (r *Repository) FindMember(ctx context.Context, gymID, userID string) (*domain.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m.GymID == gymID && m.UserID == userID {
			found := m
			return &found, nil
		}
	}
	return nil, nil
}

// ApplySession implements domain.SessionStore. Mutations of one key are
// serialized; other keys are not blocked.
func (r *Repository) ApplySession(ctx context.Context, key domain.SessionKey, mutate domain.SessionMutator) (domain.SessionChange, error) {
	release := r.keys.Lock(key.String())
	defer release()

	if err := ctx.Err(); err != nil {
		return domain.SessionChange{}, err
	}

	r.mu.RLock()
	var open *domain.AttendanceRecord
	if i := r.openIndexLocked(key); i >= 0 {
		rec := r.records[i]
		open = &rec
	}
	r.mu.RUnlock()

	change, err := mutate(open)
	if err != nil {
		return domain.SessionChange{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch change.Transition {
	case domain.TransitionCheckIn:
		if r.openIndexLocked(key) >= 0 {
			return domain.SessionChange{}, domain.ErrConcurrentSession
		}
		r.records = append(r.records, change.Record)
		if m, ok := r.members[key.MemberID]; ok {
			at := change.Record.CheckInTime
			m.TotalVisits++
			m.LastVisit = &at
			r.members[key.MemberID] = m
		}
	case domain.TransitionCheckOut:
		i := r.openIndexLocked(key)
		if i < 0 || r.records[i].ID != change.Record.ID {
			return domain.SessionChange{}, domain.ErrConcurrentSession
		}
		r.records[i] = change.Record
	}
	return change, nil
}

func (r *Repository) openIndexLocked(key domain.SessionKey) int {
	for i, rec := range r.records {
		if rec.GymID == key.GymID && rec.MemberID == key.MemberID && rec.IsOpen() && key.Day.Contains(rec.CheckInTime) {
			return i
		}
	}
	return -1
}

// LatestSession implements domain.AttendanceRepository.
func (r *Repository) LatestSession(ctx context.Context, key domain.SessionKey) (*domain.AttendanceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.AttendanceRecord
	for _, rec := range r.records {
		if rec.GymID != key.GymID || rec.MemberID != key.MemberID || !key.Day.Contains(rec.CheckInTime) {
			continue
		}
		if latest == nil || rec.CheckInTime.After(latest.CheckInTime) {
			found := rec
			latest = &found
		}
	}
	return latest, nil
}

// ListByGym implements domain.AttendanceRepository.
func (r *Repository) ListByGym(ctx context.Context, gymID string, from, to time.Time) ([]domain.AttendanceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AttendanceRecord, 0)
	for _, rec := range r.records {
		if rec.GymID == gymID && !rec.CheckInTime.Before(from) && rec.CheckInTime.Before(to) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CheckInTime.After(out[j].CheckInTime)
	})
	return out, nil
}

// ListByMember implements domain.AttendanceRepository.
func (r *Repository) ListByMember(ctx context.Context, gymID, memberID string, cursor *domain.Cursor, limit int) ([]domain.AttendanceRecord, *domain.Cursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.AttendanceRecord, 0)
	for _, rec := range r.records {
		if rec.GymID == gymID && rec.MemberID == memberID {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return after(matched[i], matched[j].CheckInTime, matched[j].ID)
	})

	results := make([]domain.AttendanceRecord, 0, limit)
	for _, rec := range matched {
		if cursor != nil && !after(domain.AttendanceRecord{CheckInTime: cursor.CheckInTime, ID: cursor.ID}, rec.CheckInTime, rec.ID) {
			continue
		}
		results = append(results, rec)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CheckInTime: last.CheckInTime, ID: last.ID}
	}
	return results, next, nil
}

// after orders by (check-in, id) descending.
func after(rec domain.AttendanceRecord, checkIn time.Time, id string) bool {
	if !rec.CheckInTime.Equal(checkIn) {
		return rec.CheckInTime.After(checkIn)
	}
	return rec.ID > id
}

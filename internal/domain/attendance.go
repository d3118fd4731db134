package domain

import "time"

// Role is the caller's relationship to a gym as resolved by the auth layer.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleStaff  Role = "staff"
	RoleMember Role = "member"
)

// Actor is an authenticated caller.
type Actor struct {
	UserID string
	GymID  string
	Role   Role
	// Display is set for front-desk screens granted the display scope; it
	// allows issuing codes and nothing else.
	Display bool
}

// CanManage reports whether the actor may display codes and read gym reports.
func (a Actor) CanManage() bool {
	return a.Role == RoleOwner || a.Role == RoleStaff
}

// CanDisplay reports whether the actor may issue the gym's rotating code.
func (a Actor) CanDisplay() bool {
	return a.CanManage() || a.Display
}

// MembershipStatus mirrors the member lifecycle kept by the membership store.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipExpired   MembershipStatus = "expired"
	MembershipSuspended MembershipStatus = "suspended"
	MembershipPending   MembershipStatus = "pending"
)

// Member is the subset of the member profile the attendance flow reads and updates.
type Member struct {
	ID               string
	GymID            string
	UserID           string
	Name             string
	MembershipStatus MembershipStatus
	LastVisit        *time.Time
	TotalVisits      int
}

// ClientMetadata is recorded with a check-in for audit.
type ClientMetadata struct {
	DeviceInfo string
	IPAddress  string
}

// AttendanceRecord is one continuous presence of a member at a gym.
// MemberName is a snapshot taken at check-in and is not kept in sync.
type AttendanceRecord struct {
	ID              string
	GymID           string
	MemberID        string
	MemberName      string
	CheckInTime     time.Time
	CheckOutTime    *time.Time
	DurationMinutes *int
	Token           string
	Client          ClientMetadata
}

// IsOpen reports whether the member has not checked out yet.
func (r AttendanceRecord) IsOpen() bool {
	return r.CheckOutTime == nil
}

// Cursor models the pagination token for member history.
type Cursor struct {
	CheckInTime time.Time
	ID          string
}

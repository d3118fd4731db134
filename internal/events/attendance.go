// Package events defines the attendance event payloads published through the outbox.
package events

import "time"

const (
	TypeCheckedIn  = "attendance.checked_in"
	TypeCheckedOut = "attendance.checked_out"
)

// AttendanceCheckedIn is emitted when a scan opens a new session.
type AttendanceCheckedIn struct {
	AttendanceID string    `json:"attendance_id"`
	GymID        string    `json:"gym_id"`
	MemberID     string    `json:"member_id"`
	MemberName   string    `json:"member_name"`
	CheckInTime  time.Time `json:"check_in_time"`
	SessionDay   string    `json:"session_day"`
	DeviceInfo   string    `json:"device_info,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
}

// AttendanceCheckedOut is emitted when a scan closes the open session.
type AttendanceCheckedOut struct {
	AttendanceID    string    `json:"attendance_id"`
	GymID           string    `json:"gym_id"`
	MemberID        string    `json:"member_id"`
	CheckInTime     time.Time `json:"check_in_time"`
	CheckOutTime    time.Time `json:"check_out_time"`
	DurationMinutes int       `json:"duration_minutes"`
	SessionDay      string    `json:"session_day"`
}

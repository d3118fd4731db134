package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateOfFollowsLatestRecord(t *testing.T) {
	now := time.Date(2025, time.October, 27, 9, 0, 0, 0, time.UTC)
	out := now.Add(time.Hour)

	require.Equal(t, SessionNone, StateOf(nil))
	require.Equal(t, SessionOpen, StateOf(&AttendanceRecord{CheckInTime: now}))
	require.Equal(t, SessionClosed, StateOf(&AttendanceRecord{CheckInTime: now, CheckOutTime: &out}))

	require.Equal(t, TransitionCheckIn, SessionNone.Next())
	require.Equal(t, TransitionCheckOut, SessionOpen.Next())
	require.Equal(t, TransitionCheckIn, SessionClosed.Next())
}

func TestAdvanceOpensThenCloses(t *testing.T) {
	in := time.Date(2025, time.October, 27, 9, 0, 10, 0, time.UTC)
	p := Presentation{
		Member: Member{ID: "m-1", GymID: "g-1", Name: "Ada"},
		Token:  "GYMBLE_ATTENDANCE:g-1:1761555600",
		Client: ClientMetadata{DeviceInfo: "pixel", IPAddress: "10.0.0.1"},
		At:     in,
	}

	opened := Advance(nil, p, func() string { return "rec-1" })
	require.Equal(t, TransitionCheckIn, opened.Transition)
	require.Equal(t, "rec-1", opened.Record.ID)
	require.Equal(t, "Ada", opened.Record.MemberName)
	require.True(t, opened.Record.IsOpen())
	require.Nil(t, opened.Record.DurationMinutes)

	p.At = in.Add(390 * time.Second)
	closed := Advance(&opened.Record, p, func() string { t.Fatal("close must not allocate an id"); return "" })
	require.Equal(t, TransitionCheckOut, closed.Transition)
	require.Equal(t, "rec-1", closed.Record.ID)
	require.NotNil(t, closed.Record.CheckOutTime)
	require.Equal(t, 6, *closed.Record.DurationMinutes)
	require.Equal(t, in, closed.Record.CheckInTime)
}

func TestDurationMinutes(t *testing.T) {
	base := time.Date(2025, time.October, 27, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		out  time.Time
		want int
	}{
		{name: "same instant", out: base, want: 0},
		{name: "truncates partial minute", out: base.Add(59 * time.Second), want: 0},
		{name: "whole minutes", out: base.Add(90 * time.Minute), want: 90},
		{name: "clock skew clamps to zero", out: base.Add(-2 * time.Minute), want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DurationMinutes(base, tc.out))
		})
	}
}

func TestDayBoundaryUsesConfiguredZone(t *testing.T) {
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	days := NewDayBoundary(loc)

	// 20:00 UTC is already the next day at +05:30.
	at := time.Date(2025, time.October, 27, 20, 0, 0, 0, time.UTC)
	day := days.DayOf(at)
	require.Equal(t, "2025-10-28", day.Key())
	require.True(t, day.Contains(at))
	require.False(t, day.Contains(day.End))
	require.Equal(t, 24*time.Hour, day.End.Sub(day.Start))

	require.Equal(t, "2025-10-27", NewDayBoundary(nil).DayOf(at).Key())
}

func TestSessionKeyString(t *testing.T) {
	days := NewDayBoundary(time.UTC)
	key := SessionKey{GymID: "g-1", MemberID: "m-1", Day: days.DayOf(time.Date(2025, time.March, 4, 12, 0, 0, 0, time.UTC))}
	require.Equal(t, "g-1/m-1/2025-03-04", key.String())
}

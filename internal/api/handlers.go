// Package api exposes HTTP handlers for the attendance service.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kaif394/Gymble0/internal/auth"
	"github.com/kaif394/Gymble0/internal/domain"
	"github.com/kaif394/Gymble0/internal/persistence"
	"github.com/kaif394/Gymble0/internal/qrtoken"
	httptransport "github.com/kaif394/Gymble0/internal/transport/http"
)

const maxMarkBodyBytes = 4 << 10

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	stream  http.Handler
}

// NewHandler builds a Handler. stream serves the display websocket and may be nil.
func NewHandler(service *domain.Service, stream http.Handler) *Handler {
	return &Handler{service: service, stream: stream}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/attendance/qr-code", h.qrCode)
	if h.stream != nil {
		mux.Handle("GET /v1/attendance/qr-code/stream", h.stream)
	}
	mux.HandleFunc("POST /v1/attendance/mark", h.markAttendance)
	mux.HandleFunc("GET /v1/attendance/my-status", h.myStatus)
	mux.HandleFunc("GET /v1/attendance/history", h.history)
	mux.HandleFunc("GET /v1/attendance/today", h.today)
	mux.HandleFunc("GET /v1/attendance/stats/{days}", h.stats)
	mux.HandleFunc("GET /v1/attendance/calendar/{year}/{month}", h.calendar)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) qrCode(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httptransport.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	code, err := h.service.IssueCode(r.Context(), actor)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	httptransport.WriteJSON(w, http.StatusOK, QRCodeResponse{
		QRCodeData:  code.Value,
		QRCodeImage: code.Image,
		ExpiresAt:   code.ExpiresAt,
	})
}

func (h *Handler) markAttendance(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httptransport.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	var req MarkAttendanceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMarkBodyBytes)).Decode(&req); err != nil {
		httptransport.WriteError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		httptransport.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	result, err := h.service.MarkAttendance(r.Context(), actor, domain.MarkAttendanceInput{
		Token: req.QRCodeData,
		Client: domain.ClientMetadata{
			DeviceInfo: req.DeviceInfo,
			IPAddress:  clientIP(r),
		},
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	httptransport.WriteJSON(w, http.StatusOK, MarkAttendanceResponse{
		Action:     string(result.Transition),
		Attendance: toAttendanceView(result.Record),
	})
}

func (h *Handler) myStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httptransport.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	status, err := h.service.MyStatus(r.Context(), actor)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	resp := StatusResponse{Status: string(status.State)}
	if status.Record != nil {
		view := toAttendanceView(*status.Record)
		resp.Attendance = &view
	}
	httptransport.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httptransport.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		httptransport.WriteError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.History(r.Context(), actor, cursor, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	httptransport.WriteJSON(w, http.StatusOK, HistoryResponse{
		Items:      toAttendanceViews(records),
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) today(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httptransport.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	records, err := h.service.Today(r.Context(), actor)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	httptransport.WriteJSON(w, http.StatusOK, toAttendanceViews(records))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httptransport.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	days, err := strconv.Atoi(r.PathValue("days"))
	if err != nil {
		httptransport.WriteError(w, http.StatusBadRequest, "validation_failed", "days must be an integer")
		return
	}

	stats, err := h.service.Stats(r.Context(), actor, days)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	resp := make([]DayStatsView, 0, len(stats))
	for _, day := range stats {
		view := DayStatsView{
			Date:            day.Date,
			TotalAttendance: day.TotalAttendance,
			UniqueMembers:   day.UniqueMembers,
			MemberDetails:   make([]MemberVisitView, 0, len(day.Members)),
		}
		for _, m := range day.Members {
			view.MemberDetails = append(view.MemberDetails, MemberVisitView{
				MemberName:      m.MemberName,
				CheckInTime:     m.CheckInTime,
				CheckOutTime:    m.CheckOutTime,
				DurationMinutes: m.DurationMinutes,
			})
		}
		resp = append(resp, view)
	}
	httptransport.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) calendar(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		httptransport.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	year, yearErr := strconv.Atoi(r.PathValue("year"))
	month, monthErr := strconv.Atoi(r.PathValue("month"))
	if yearErr != nil || monthErr != nil {
		httptransport.WriteError(w, http.StatusBadRequest, "validation_failed", "year and month must be integers")
		return
	}

	cal, err := h.service.Calendar(r.Context(), actor, year, time.Month(month))
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	resp := CalendarResponse{
		Year:      cal.Year,
		Month:     int(cal.Month),
		MonthName: cal.MonthName,
		Days:      make([]CalendarDayView, 0, len(cal.Days)),
	}
	for _, day := range cal.Days {
		view := CalendarDayView{
			Day:             day.Day,
			TotalAttendance: day.TotalAttendance,
			UniqueMembers:   day.UniqueMembers,
			Members:         make([]CalendarVisitView, 0, len(day.Members)),
		}
		for _, m := range day.Members {
			view.Members = append(view.Members, CalendarVisitView{
				Name:        m.Name,
				CheckInTime: m.CheckInTime,
				Duration:    m.DurationMinutes,
			})
		}
		resp.Days = append(resp.Days, view)
	}
	httptransport.WriteJSON(w, http.StatusOK, resp)
}

// QRCodeResponse is the body of GET /v1/attendance/qr-code.
type QRCodeResponse struct {
	QRCodeData  string    `json:"qr_code_data"`
	QRCodeImage string    `json:"qr_code_image"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// MarkAttendanceRequest is the payload for POST /v1/attendance/mark.
type MarkAttendanceRequest struct {
	QRCodeData string `json:"qr_code_data"`
	DeviceInfo string `json:"device_info"`
}

// Validate ensures request correctness.
func (r MarkAttendanceRequest) Validate() error {
	if strings.TrimSpace(r.QRCodeData) == "" {
		return errors.New("qr_code_data is required")
	}
	return nil
}

// MarkAttendanceResponse reports the transition the scan resolved to.
type MarkAttendanceResponse struct {
	Action     string         `json:"action"`
	Attendance AttendanceView `json:"attendance"`
}

// AttendanceView exposes one attendance record.
type AttendanceView struct {
	ID              string     `json:"id"`
	GymID           string     `json:"gym_id"`
	MemberID        string     `json:"member_id"`
	MemberName      string     `json:"member_name"`
	CheckInTime     time.Time  `json:"check_in_time"`
	CheckOutTime    *time.Time `json:"check_out_time"`
	DurationMinutes *int       `json:"duration_minutes"`
	QRCodeData      string     `json:"qr_code_data"`
	DeviceInfo      string     `json:"device_info,omitempty"`
	IPAddress       string     `json:"ip_address,omitempty"`
}

// StatusResponse is the body of GET /v1/attendance/my-status.
type StatusResponse struct {
	Status     string          `json:"status"`
	Attendance *AttendanceView `json:"attendance"`
}

// HistoryResponse packages a page of member history.
type HistoryResponse struct {
	Items      []AttendanceView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// MemberVisitView is one record inside a day of stats.
type MemberVisitView struct {
	MemberName      string     `json:"member_name"`
	CheckInTime     time.Time  `json:"check_in_time"`
	CheckOutTime    *time.Time `json:"check_out_time"`
	DurationMinutes *int       `json:"duration_minutes"`
}

// DayStatsView aggregates one day.
type DayStatsView struct {
	Date            string            `json:"date"`
	TotalAttendance int               `json:"total_attendance"`
	UniqueMembers   int               `json:"unique_members"`
	MemberDetails   []MemberVisitView `json:"member_details"`
}

// CalendarVisitView is one record inside a calendar cell.
type CalendarVisitView struct {
	Name        string `json:"name"`
	CheckInTime string `json:"check_in_time"`
	Duration    *int   `json:"duration"`
}

// CalendarDayView is one calendar cell.
type CalendarDayView struct {
	Day             int                 `json:"day"`
	TotalAttendance int                 `json:"total_attendance"`
	UniqueMembers   int                 `json:"unique_members"`
	Members         []CalendarVisitView `json:"members"`
}

// CalendarResponse is the body of GET /v1/attendance/calendar/{year}/{month}.
type CalendarResponse struct {
	Year      int               `json:"year"`
	Month     int               `json:"month"`
	MonthName string            `json:"month_name"`
	Days      []CalendarDayView `json:"days"`
}

// WriteServiceError maps a domain error onto its HTTP status and error body.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidToken):
		httptransport.WriteError(w, http.StatusBadRequest, "invalid_token", "invalid or expired QR code")
	case errors.Is(err, domain.ErrMembershipInactive):
		httptransport.WriteError(w, http.StatusBadRequest, "membership_inactive", err.Error())
	case errors.Is(err, domain.ErrNoGym):
		httptransport.WriteError(w, http.StatusBadRequest, "no_gym", err.Error())
	case errors.Is(err, domain.ErrInvalidRange), errors.Is(err, qrtoken.ErrInvalidGymID):
		httptransport.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		httptransport.WriteError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrMemberNotFound):
		httptransport.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConcurrentSession):
		httptransport.WriteError(w, http.StatusConflict, "conflict", "attendance is being updated, retry the scan")
	default:
		log.Printf("attendance request failed: %v", err)
		httptransport.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// clientIP prefers the first X-Forwarded-For hop set by the ingress.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func toAttendanceViews(records []domain.AttendanceRecord) []AttendanceView {
	out := make([]AttendanceView, 0, len(records))
	for _, rec := range records {
		out = append(out, toAttendanceView(rec))
	}
	return out
}

func toAttendanceView(rec domain.AttendanceRecord) AttendanceView {
	return AttendanceView{
		ID:              rec.ID,
		GymID:           rec.GymID,
		MemberID:        rec.MemberID,
		MemberName:      rec.MemberName,
		CheckInTime:     rec.CheckInTime,
		CheckOutTime:    rec.CheckOutTime,
		DurationMinutes: rec.DurationMinutes,
		QRCodeData:      rec.Token,
		DeviceInfo:      rec.Client.DeviceInfo,
		IPAddress:       rec.Client.IPAddress,
	}
}

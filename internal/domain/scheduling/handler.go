package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicops/clinic/internal/platform/auth"
	"github.com/clinicops/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Patients reach these too; handlers check they only touch their own appointments.
	member := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist, auth.RolePatient))
	member.GET("/doctors/:doctor_id/slots", h.GetAvailableSlots)
	member.GET("/doctors/:doctor_id/slots/check", h.CheckSlot)
	member.GET("/doctors/:doctor_id/scheduling-profile", h.GetSchedulingProfile)
	member.GET("/doctors/:doctor_id/weekly-availability", h.ListWeeklyAvailability)
	member.GET("/doctors/:doctor_id/overrides", h.ListDateOverrides)
	member.GET("/doctors/:doctor_id/overrides/:date", h.GetDateOverride)
	member.GET("/patients/:patient_id/appointments", h.ListPatientAppointments)
	member.GET("/appointments/:id", h.GetAppointment)
	member.POST("/appointments", h.BookAppointment)
	member.PUT("/appointments/:id", h.UpdateAppointment)
	member.POST("/appointments/:id/reschedule", h.RescheduleAppointment)
	member.POST("/appointments/:id/cancel", h.CancelAppointment)

	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	staff.GET("/doctors/:doctor_id/appointments", h.ListDoctorAppointments)
	staff.GET("/doctors/:doctor_id/appointments/upcoming", h.ListUpcomingAppointments)
	staff.POST("/appointments/:id/status", h.AdvanceAppointmentStatus)
	staff.PUT("/doctors/:doctor_id/scheduling-profile", h.PutSchedulingProfile)
	staff.PUT("/doctors/:doctor_id/weekly-availability", h.PutWeeklySchedule)
	staff.PUT("/doctors/:doctor_id/weekly-availability/:weekday", h.PutWeeklyAvailability)
	staff.PUT("/doctors/:doctor_id/overrides/:date", h.PutDateOverride)
	staff.DELETE("/doctors/:doctor_id/overrides/:date", h.DeleteDateOverride)
}

// httpError maps scheduler errors to HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOutOfAvailability):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func dateValue(s, name string) (Date, error) {
	d, err := ParseDate(s)
	if err != nil {
		return Date{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+", expected YYYY-MM-DD")
	}
	return d, nil
}

// durationParam returns 0 when ?duration= is absent.
func durationParam(c echo.Context) (int, error) {
	raw := c.QueryParam("duration")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "duration must be a positive number of minutes")
	}
	return n, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid weekday")
}

// appointmentForCaller loads an appointment and hides it from patients
// other than its own.
func (h *Handler) appointmentForCaller(c echo.Context) (*Appointment, error) {
	id, err := uuidParam(c, "id")
	if err != nil {
		return nil, err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	if !auth.CanActForPatient(c.Request().Context(), a.PatientID.String()) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return a, nil
}

// -- Slots --

type slotsResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     Date      `json:"date"`
	Slots    []Slot    `json:"slots"`
}

func (h *Handler) GetAvailableSlots(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	date, err := dateValue(c.QueryParam("date"), "date")
	if err != nil {
		return err
	}
	duration, err := durationParam(c)
	if err != nil {
		return err
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), doctorID, date, duration)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slotsResponse{DoctorID: doctorID, Date: date, Slots: slots})
}

func (h *Handler) CheckSlot(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	date, err := dateValue(c.QueryParam("date"), "date")
	if err != nil {
		return err
	}
	start, err := ParseClock(c.QueryParam("start_time"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start_time, expected HH:MM")
	}
	duration, err := durationParam(c)
	if err != nil {
		return err
	}
	ok, err := h.svc.IsSlotAvailable(c.Request().Context(), doctorID, date, start, duration)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id":  doctorID,
		"date":       date,
		"start_time": start,
		"available":  ok,
	})
}

// -- Appointments --

// bookRequest mirrors BookRequest with a pointer start so a missing
// start_time is told apart from midnight.
type bookRequest struct {
	PatientID       uuid.UUID       `json:"patient_id"`
	DoctorID        uuid.UUID       `json:"doctor_id"`
	Date            Date            `json:"date"`
	StartTime       *ClockTime      `json:"start_time"`
	DurationMinutes int             `json:"duration_minutes"`
	Type            AppointmentType `json:"type"`
	ReasonForVisit  *string         `json:"reason_for_visit"`
	Notes           *string         `json:"notes"`
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.StartTime == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start_time is required")
	}
	if !auth.CanActForPatient(c.Request().Context(), req.PatientID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "patients may only book for themselves")
	}
	a, err := h.svc.Book(c.Request().Context(), BookRequest{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		Date:            req.Date,
		StartTime:       *req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		ReasonForVisit:  req.ReasonForVisit,
		Notes:           req.Notes,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.appointmentForCaller(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

type rescheduleRequest struct {
	Date      Date       `json:"date"`
	StartTime *ClockTime `json:"start_time"`
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	a, err := h.appointmentForCaller(c)
	if err != nil {
		return err
	}
	var d AppointmentDetails
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateDetails(c.Request().Context(), a.ID, d)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	a, err := h.appointmentForCaller(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.StartTime == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start_time is required")
	}
	next, err := h.svc.Reschedule(c.Request().Context(), a.ID, req.Date, *req.StartTime)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, next)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	a, err := h.appointmentForCaller(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Cancel(c.Request().Context(), a.ID, strings.TrimSpace(req.Reason))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) AdvanceAppointmentStatus(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.AdvanceStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) ListDoctorAppointments(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	var f AppointmentFilter
	if v := c.QueryParam("from"); v != "" {
		if f.From, err = dateValue(v, "from"); err != nil {
			return err
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if f.To, err = dateValue(v, "to"); err != nil {
			return err
		}
	}
	f.Status = Status(c.QueryParam("status"))

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctorAppointments(c.Request().Context(), doctorID, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) ListUpcomingAppointments(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.UpcomingAppointments(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) ListPatientAppointments(c echo.Context) error {
	patientID, err := uuidParam(c, "patient_id")
	if err != nil {
		return err
	}
	if !auth.CanActForPatient(c.Request().Context(), patientID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "patients may only list their own appointments")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientAppointments(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL.Path, c.QueryParams()))
}

// -- Availability management --

func (h *Handler) GetSchedulingProfile(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	d, err := h.svc.DoctorProfile(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) PutSchedulingProfile(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = doctorID
	if err := h.svc.SetDoctorProfile(c.Request().Context(), &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListWeeklyAvailability(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	rows, err := h.svc.WeeklyAvailability(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	if rows == nil {
		rows = []*WeeklyAvailability{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) PutWeeklySchedule(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	var rows []*WeeklyAvailability
	if err := c.Bind(&rows); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetWeeklySchedule(c.Request().Context(), doctorID, rows); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) PutWeeklyAvailability(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	weekday, err := parseWeekday(c.Param("weekday"))
	if err != nil {
		return err
	}
	var w WeeklyAvailability
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w.DoctorID, w.Weekday = doctorID, weekday
	if err := h.svc.SetWeeklyAvailability(c.Request().Context(), &w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListDateOverrides(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	from, err := dateValue(c.QueryParam("from"), "from")
	if err != nil {
		return err
	}
	to, err := dateValue(c.QueryParam("to"), "to")
	if err != nil {
		return err
	}
	items, err := h.svc.ListDateOverrides(c.Request().Context(), doctorID, from, to)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*DateOverride{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetDateOverride(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	date, err := dateValue(c.Param("date"), "date")
	if err != nil {
		return err
	}
	o, err := h.svc.DateOverride(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) PutDateOverride(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	date, err := dateValue(c.Param("date"), "date")
	if err != nil {
		return err
	}
	var o DateOverride
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o.DoctorID, o.Date = doctorID, date
	if err := h.svc.SetDateOverride(c.Request().Context(), &o); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) DeleteDateOverride(c echo.Context) error {
	doctorID, err := uuidParam(c, "doctor_id")
	if err != nil {
		return err
	}
	date, err := dateValue(c.Param("date"), "date")
	if err != nil {
		return err
	}
	if err := h.svc.ClearDateOverride(c.Request().Context(), doctorID, date); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

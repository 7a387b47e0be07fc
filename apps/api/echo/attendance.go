package echoapi

import (
	"net/http"
	"strconv"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/class"
)

type attendanceApi struct {
	svc        *attendance.Service
	classSvc   *class.Service
	conf       *core.Config
	validate   *validator.Validate
	translator ut.Translator
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *ServerDeps) {
	api := attendanceApi{
		svc:        deps.AttendanceSvc,
		classSvc:   deps.ClassSvc,
		conf:       deps.Conf,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	// teacher portal endpoints
	tg := g.Group("", jwt, teacherMiddleware())

	tg.GET("/classes", api.queryClasses)
	tg.GET("/classes/:classId/slots", api.queryClassSlots)

	ag := tg.Group("/attendance")
	ag.POST("/sessions", api.createOrGetSession)
	ag.GET("/sessions", api.listSessions)
	ag.GET("/sessions/:id", api.retrieveSession)
	ag.POST("/sessions/:id/reset-code", api.resetCode)
	ag.POST("/sessions/:id/close", api.closeSession)
	ag.DELETE("/sessions/:id", api.destroySession)
	ag.GET("/sessions/:id/students", api.querySessionStudents)
	ag.PUT("/sessions/:id/students", api.saveManual)
	ag.PATCH("/sessions/:id/records/:recordId", api.patchRecord)
	ag.POST("/finalize", api.finalize)
	ag.GET("/history", api.history)
}

// Handlers

func (api *attendanceApi) queryClasses(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	classes, err := api.classSvc.QueryByTeacher(ctx.Request().Context(), actor.ID)
	if err != nil {
		return errors.Wrap(err, "querying teacher classes")
	}
	if classes == nil {
		classes = []class.Info{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *attendanceApi) queryClassSlots(ctx echo.Context) error {
	if _, err := getContextActor(ctx); err != nil {
		return err
	}

	classID := core.CleanCode(ctx.Param("classId"))
	day, err := bindDay(ctx.QueryParam("date"))
	if err != nil {
		return core.NewValidationError(err)
	}
	if day.IsZero() {
		day = attendance.NewDay(time.Now(), api.conf.Attendance.Timezone)
	}

	slots, err := api.classSvc.SlotsOn(ctx.Request().Context(), classID, day.Weekday())
	if err != nil {
		return errors.Wrap(err, "querying class slots")
	}
	if slots == nil {
		slots = []class.Slot{}
	}
	return ctx.JSON(http.StatusOK, slots)
}

func (api *attendanceApi) createOrGetSession(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	var data createSessionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to createSessionRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	modes, err := attendance.ParseModeSet(data.Modes)
	if err != nil {
		return core.NewValidationError(err)
	}
	day, err := bindDay(data.Day)
	if err != nil {
		return core.NewValidationError(err)
	}

	sess, reused, err := api.svc.CreateOrGet(ctx.Request().Context(), actor, attendance.NewSession{
		ClassID: data.ClassID,
		SlotID:  data.SlotID,
		Modes:   modes,
		Day:     day,
	})
	if err != nil {
		return err
	}

	code := http.StatusCreated
	if reused {
		code = http.StatusOK
	}
	return ctx.JSON(code, createSessionResponse{sessionPayload: newSessionPayload(sess), Reused: reused})
}

func (api *attendanceApi) listSessions(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	classID := ctx.QueryParam("class_id")
	if classID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "this field is required"})
	}
	day, err := bindDay(ctx.QueryParam("date"))
	if err != nil {
		return core.NewValidationError(err)
	}

	sessions, err := api.svc.ListByDate(ctx.Request().Context(), actor, classID, day)
	if err != nil {
		return err
	}

	out := make([]sessionSummaryResponse, 0, len(sessions))
	for _, item := range sessions {
		out = append(out, sessionSummaryResponse{Session: newSessionPayload(item.Session), Summary: item.Summary})
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api *attendanceApi) retrieveSession(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	detail, err := api.svc.Detail(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sessionDetailResponse{
		Session:       newSessionPayload(detail.Session),
		ClassName:     detail.ClassName,
		SubjectName:   detail.SubjectName,
		TotalStudents: detail.TotalStudents,
	})
}

func (api *attendanceApi) resetCode(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	sess, err := api.svc.ResetCode(ctx.Request().Context(), actor, ctx.Param("id"))
	if errors.Cause(err) == attendance.ErrResetsExhausted {
		// the reset allowance is spent and the session was force-closed;
		// ship the closed session so clients can sync their view
		return ctx.JSON(http.StatusConflict, createSessionResponse{sessionPayload: newSessionPayload(sess)})
	}
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newSessionPayload(sess))
}

func (api *attendanceApi) closeSession(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	sess, err := api.svc.Close(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newSessionPayload(sess))
}

func (api *attendanceApi) destroySession(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	if err = api.svc.Delete(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *attendanceApi) querySessionStudents(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	students, summary, err := api.svc.Students(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, studentsResponse{Students: students, Summary: summary})
}

func (api *attendanceApi) saveManual(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	var data saveManualRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to saveManualRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	entries, err := data.entries()
	if err != nil {
		return core.NewValidationError(err)
	}

	students, summary, err := api.svc.SaveManual(ctx.Request().Context(), actor, ctx.Param("id"), entries)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, studentsResponse{Students: students, Summary: summary})
}

func (api *attendanceApi) patchRecord(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	var data patchRecordRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to patchRecordRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	patch, err := data.patch()
	if err != nil {
		return core.NewValidationError(err)
	}

	rec, summary, err := api.svc.PatchRecord(ctx.Request().Context(), actor, ctx.Param("id"), ctx.Param("recordId"), patch)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, recordResponse{Record: rec, Summary: summary})
}

func (api *attendanceApi) finalize(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	var data finalizeRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to finalizeRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	day, err := bindDay(data.Day)
	if err != nil {
		return core.NewValidationError(err)
	}

	res, err := api.svc.Finalize(ctx.Request().Context(), actor, attendance.FinalizeRequest{
		ClassID: data.ClassID,
		SlotID:  data.SlotID,
		Day:     day,
		Code:    data.Code,
	})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, finalizeResponse{
		Session:  newSessionPayload(res.Session),
		Students: res.Students,
		Summary:  res.Summary,
	})
}

func (api *attendanceApi) history(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	classID := ctx.QueryParam("class_id")
	if classID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "this field is required"})
	}
	slotID, err := bindIntParam(ctx.QueryParam("slot_id"), 0)
	if err != nil {
		return core.NewValidationError(err)
	}
	limit, err := bindIntParam(ctx.QueryParam("limit"), defaultHistoryLimit)
	if err != nil {
		return core.NewValidationError(err)
	}

	entries, err := api.svc.History(ctx.Request().Context(), actor, classID, slotID, limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []attendance.HistoryEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

const defaultHistoryLimit = 30

// bindDay parses an optional YYYY-MM-DD query/body value; empty means "today"
// and resolves downstream.
func bindDay(value string) (attendance.Day, error) {
	if value == "" {
		return attendance.Day{}, nil
	}
	return attendance.ParseDay(value)
}

func bindIntParam(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid numeric parameter %q", value)
	}
	return n, nil
}

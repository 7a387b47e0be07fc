package echoapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/class"
	dummydb "github.com/trezcool/mahudhurio/storage/database/dummy"
)

var (
	teacherActor  = core.Actor{ID: "t1", Name: "Ms. Kalinda", Email: "kalinda@test.cd", IsTeacher: true}
	strangerActor = core.Actor{ID: "t2", Name: "Mr. Moyo", Email: "moyo@test.cd", IsTeacher: true}
	studentActor  = core.Actor{ID: "s1", Name: "Amani", Email: "s1@test.cd", IsStudent: true}
	outsiderActor = core.Actor{ID: "s9", Name: "Zawadi", Email: "s9@test.cd", IsStudent: true}

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData interface{}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func testConfig() *core.Config {
	return &core.Config{
		TestMode:  true,
		AppName:   "Mahudhurio",
		SecretKey: "secret",
		Server: core.ServerConfig{
			Addr:               ":0",
			JWTExpirationDelta: 10 * time.Minute,
		},
		Attendance: core.AttendanceConfig{
			CodeTTL:         60 * time.Second,
			MaxCodeAttempts: 3,
			RetentionDays:   120,
			SweepInterval:   time.Hour,
			Timezone:        time.UTC,
		},
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func testServer(t *testing.T) (*Server, *fakeClock) {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("testServer() failed: %v", err)
	}
	classes := dummydb.NewClassRepository(db)
	classes.AddClass(class.Class{ID: "CS101", Name: "Intro CS", SubjectName: "Computer Science", TeacherID: teacherActor.ID})
	classes.AddStudent(class.Student{ID: "s1", FullName: "Amani B.", Email: "s1@test.cd"}, "CS101")
	classes.AddStudent(class.Student{ID: "s2", FullName: "Neema K.", Email: "s2@test.cd"}, "CS101")
	classes.AddSlot("CS101", class.Slot{TimetableID: "tt1", SlotID: 2, DayOfWeek: time.Monday, Room: "B12"})

	conf := testConfig()
	clock := &fakeClock{now: time.Date(2025, time.November, 10, 8, 0, 0, 0, time.UTC)} // a Monday
	svc := attendance.NewService(dummydb.NewAttendanceRepository(db), classes, clock, conf)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)

	srv := NewServer(ServerDeps{
		Conf:          conf,
		Logger:        nopLogger{},
		Validate:      validate,
		Translator:    translator,
		AttendanceSvc: svc,
		ClassSvc:      class.NewService(classes),
	})
	return srv, clock
}

func getToken(t *testing.T, actor core.Actor) string {
	t.Helper()
	token, err := GenerateToken(testConfig(), GetActorClaims(testConfig(), actor))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func jsonBody(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("jsonBody() failed: %v", err)
	}
	return data
}

func do(t *testing.T, srv *Server, tt httpTest) *httptest.ResponseRecorder {
	t.Helper()
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
	srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q failed: %v", rec.Body.String(), err)
	}
}

func createSessionViaAPI(t *testing.T, srv *Server, token string, modes ...string) createSessionResponse {
	t.Helper()
	rec := do(t, srv, httpTest{
		method: http.MethodPost,
		path:   "/v1/attendance/sessions",
		body:   jsonBody(t, echoMap{"class_id": "CS101", "slot_id": 2, "modes": modes}),
		token:  token,
	})
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("createSessionViaAPI() status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res createSessionResponse
	decode(t, rec, &res)
	return res
}

type echoMap map[string]interface{}

func Test_attendanceApi_auth(t *testing.T) {
	srv, _ := testServer(t)
	studentToken := getToken(t, studentActor)

	tests := []httpTest{
		{name: "no token", method: http.MethodPost, path: "/v1/attendance/sessions",
			wantCode: http.StatusUnauthorized, wantData: errMissingToken},
		{name: "student on teacher portal", method: http.MethodPost, path: "/v1/attendance/sessions",
			token: studentToken, wantCode: http.StatusForbidden, wantData: errForbidden},
		{name: "student lists classes", path: "/v1/classes",
			token: studentToken, wantCode: http.StatusForbidden, wantData: errForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt)
			assert.Equal(t, tt.wantCode, rec.Code)
			var body httpErr
			decode(t, rec, &body)
			assert.Equal(t, tt.wantData, body)
		})
	}
}

func Test_attendanceApi_createOrGetSession(t *testing.T) {
	srv, _ := testServer(t)
	token := getToken(t, teacherActor)

	res := createSessionViaAPI(t, srv, token, "qr")
	assert.False(t, res.Reused)
	assert.Equal(t, attendance.StatusActive, res.Status)
	assert.Len(t, res.Code, 6)
	assert.Equal(t, 2, res.AttemptsRemaining)
	assert.Equal(t, 2, res.TotalStudents)

	// idempotent repeat: 200, same session
	rec := do(t, srv, httpTest{
		method: http.MethodPost,
		path:   "/v1/attendance/sessions",
		body:   jsonBody(t, echoMap{"class_id": "CS101", "slot_id": 2, "modes": []string{"qr"}}),
		token:  token,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	var again createSessionResponse
	decode(t, rec, &again)
	assert.True(t, again.Reused)
	assert.Equal(t, res.ID, again.ID)

	// adding a mode keeps the same session
	merged := createSessionViaAPI(t, srv, token, "qr", "manual")
	assert.False(t, merged.Reused)
	assert.Equal(t, res.ID, merged.ID)
	assert.Equal(t, []string{"qr", "manual"}, merged.Modes.Strings())

	// another teacher's class is off limits
	rec = do(t, srv, httpTest{
		method: http.MethodPost,
		path:   "/v1/attendance/sessions",
		body:   jsonBody(t, echoMap{"class_id": "CS101", "slot_id": 2, "modes": []string{"qr"}}),
		token:  getToken(t, strangerActor),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func Test_attendanceApi_createOrGetSession_validation(t *testing.T) {
	srv, _ := testServer(t)
	token := getToken(t, teacherActor)

	tests := []httpTest{
		{name: "missing class", body: jsonBody(t, echoMap{"slot_id": 2, "modes": []string{"qr"}})},
		{name: "missing modes", body: jsonBody(t, echoMap{"class_id": "CS101", "slot_id": 2})},
		{name: "bogus mode", body: jsonBody(t, echoMap{"class_id": "CS101", "slot_id": 2, "modes": []string{"telepathy"}})},
		{name: "bad day", body: jsonBody(t, echoMap{"class_id": "CS101", "slot_id": 2, "modes": []string{"qr"}, "day": "yesterday"})},
		{name: "missing slot", body: jsonBody(t, echoMap{"class_id": "CS101", "modes": []string{"qr"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/v1/attendance/sessions"
			tt.token = token
			rec := do(t, srv, tt)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func Test_attendanceApi_resetCode(t *testing.T) {
	srv, _ := testServer(t)
	token := getToken(t, teacherActor)

	sess := createSessionViaAPI(t, srv, token, "qr")
	path := "/v1/attendance/sessions/" + sess.ID + "/reset-code"

	// two resets exhaust the allowance of 3 generations
	for want := 1; want >= 0; want-- {
		rec := do(t, srv, httpTest{method: http.MethodPost, path: path, token: token})
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res createSessionResponse
		decode(t, rec, &res)
		assert.Equal(t, want, res.AttemptsRemaining)
	}

	// the next reset trips the cap: conflict plus the force-closed session
	rec := do(t, srv, httpTest{method: http.MethodPost, path: path, token: token})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var closed createSessionResponse
	decode(t, rec, &closed)
	assert.Equal(t, attendance.StatusClosed, closed.Status)

	rec = do(t, srv, httpTest{method: http.MethodPost, path: "/v1/attendance/sessions/missing/reset-code", token: token})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_attendanceApi_closeAndFinalize(t *testing.T) {
	srv, _ := testServer(t)
	token := getToken(t, teacherActor)

	sess := createSessionViaAPI(t, srv, token, "qr", "manual")

	// mark one student by hand
	rec := do(t, srv, httpTest{
		method: http.MethodPut,
		path:   "/v1/attendance/sessions/" + sess.ID + "/students",
		body: jsonBody(t, echoMap{"entries": []echoMap{
			{"student_id": "s1", "status": "present"},
		}}),
		token: token,
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved studentsResponse
	decode(t, rec, &saved)
	assert.Equal(t, attendance.Summary{Total: 2, Present: 1, Absent: 1}, saved.Summary)
	assert.Len(t, saved.Students, 2)

	// finalize the slot
	rec = do(t, srv, httpTest{
		method: http.MethodPost,
		path:   "/v1/attendance/finalize",
		body:   jsonBody(t, echoMap{"class_id": "CS101", "slot_id": 2}),
		token:  token,
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fin finalizeResponse
	decode(t, rec, &fin)
	assert.Equal(t, attendance.StatusEnded, fin.Session.Status)
	assert.Equal(t, attendance.Summary{Total: 2, Present: 1, Absent: 1}, fin.Summary)

	// the key is terminally served
	rec = do(t, srv, httpTest{
		method: http.MethodPost,
		path:   "/v1/attendance/sessions",
		body:   jsonBody(t, echoMap{"class_id": "CS101", "slot_id": 2, "modes": []string{"qr"}}),
		token:  token,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, httpTest{
		method: http.MethodPost,
		path:   "/v1/attendance/sessions/" + sess.ID + "/close",
		token:  token,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func Test_attendanceApi_listAndDetail(t *testing.T) {
	srv, _ := testServer(t)
	token := getToken(t, teacherActor)

	sess := createSessionViaAPI(t, srv, token, "qr")

	rec := do(t, srv, httpTest{path: "/v1/attendance/sessions?class_id=CS101", token: token})
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []sessionSummaryResponse
	decode(t, rec, &list)
	if assert.Len(t, list, 1) {
		assert.Equal(t, sess.ID, list[0].Session.ID)
		assert.Equal(t, 2, list[0].Summary.Total)
	}

	rec = do(t, srv, httpTest{path: "/v1/attendance/sessions?date=2025-11-10", token: token})
	assert.Equal(t, http.StatusBadRequest, rec.Code) // class_id is required

	rec = do(t, srv, httpTest{path: "/v1/attendance/sessions/" + sess.ID, token: token})
	assert.Equal(t, http.StatusOK, rec.Code)
	var detail sessionDetailResponse
	decode(t, rec, &detail)
	assert.Equal(t, "Intro CS", detail.ClassName)
	assert.Equal(t, 2, detail.TotalStudents)

	rec = do(t, srv, httpTest{path: "/v1/attendance/sessions/missing", token: token})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_attendanceApi_patchRecord_empty(t *testing.T) {
	srv, _ := testServer(t)
	token := getToken(t, teacherActor)

	sess := createSessionViaAPI(t, srv, token, "manual")
	rec := do(t, srv, httpTest{
		method: http.MethodPut,
		path:   "/v1/attendance/sessions/" + sess.ID + "/students",
		body: jsonBody(t, echoMap{"entries": []echoMap{
			{"student_id": "s1", "status": "present"},
		}}),
		token: token,
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved studentsResponse
	decode(t, rec, &saved)
	var recordID string
	for _, entry := range saved.Students {
		if entry.RecordID != "" {
			recordID = entry.RecordID
		}
	}

	// a body carrying no fields corrects nothing
	rec = do(t, srv, httpTest{
		method: http.MethodPatch,
		path:   "/v1/attendance/sessions/" + sess.ID + "/records/" + recordID,
		body:   jsonBody(t, echoMap{}),
		token:  token,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	note := "caught the late bus"
	rec = do(t, srv, httpTest{
		method: http.MethodPatch,
		path:   "/v1/attendance/sessions/" + sess.ID + "/records/" + recordID,
		body:   jsonBody(t, echoMap{"note": note}),
		token:  token,
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var patched recordResponse
	decode(t, rec, &patched)
	assert.Equal(t, note, patched.Record.Note)
}

func Test_attendanceApi_destroySession(t *testing.T) {
	srv, clock := testServer(t)
	token := getToken(t, teacherActor)

	sess := createSessionViaAPI(t, srv, token, "qr")
	rec := do(t, srv, httpTest{method: http.MethodDelete, path: "/v1/attendance/sessions/" + sess.ID, token: token})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// history is immutable: the next day the session cannot be deleted
	sess = createSessionViaAPI(t, srv, token, "qr")
	clock.Advance(24 * time.Hour)
	rec = do(t, srv, httpTest{method: http.MethodDelete, path: "/v1/attendance/sessions/" + sess.ID, token: token})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func Test_attendanceApi_history(t *testing.T) {
	srv, _ := testServer(t)
	token := getToken(t, teacherActor)

	createSessionViaAPI(t, srv, token, "qr")

	rec := do(t, srv, httpTest{path: "/v1/attendance/history?class_id=CS101", token: token})
	assert.Equal(t, http.StatusOK, rec.Code)
	var history []attendance.HistoryEntry
	decode(t, rec, &history)
	assert.Len(t, history, 1)

	rec = do(t, srv, httpTest{path: "/v1/attendance/history?class_id=CS101&slot_id=9", token: token})
	assert.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &history)
	assert.Len(t, history, 0)

	rec = do(t, srv, httpTest{path: "/v1/attendance/history?class_id=CS101&limit=bogus", token: token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_attendanceApi_classes(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, httpTest{path: "/v1/classes", token: getToken(t, teacherActor)})
	assert.Equal(t, http.StatusOK, rec.Code)
	var classes []class.Info
	decode(t, rec, &classes)
	if assert.Len(t, classes, 1) {
		assert.Equal(t, "CS101", classes[0].ID)
		assert.Equal(t, 2, classes[0].StudentCount)
	}

	// teachers with no class get an empty list, not null
	rec = do(t, srv, httpTest{path: "/v1/classes", token: getToken(t, strangerActor)})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	// a Monday resolves the class' slots
	rec = do(t, srv, httpTest{path: "/v1/classes/CS101/slots?date=2025-11-10", token: getToken(t, teacherActor)})
	assert.Equal(t, http.StatusOK, rec.Code)
	var slots []class.Slot
	decode(t, rec, &slots)
	if assert.Len(t, slots, 1) {
		assert.Equal(t, 2, slots[0].SlotID)
	}

	// Tuesday has none
	rec = do(t, srv, httpTest{path: "/v1/classes/CS101/slots?date=2025-11-11", token: getToken(t, teacherActor)})
	assert.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &slots)
	assert.Len(t, slots, 0)
}

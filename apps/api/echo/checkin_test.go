package echoapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mahudhurio/core/attendance"
)

func checkInBody(t *testing.T, code string) []byte {
	t.Helper()
	return jsonBody(t, echoMap{"code": code})
}

func Test_checkInApi_checkIn(t *testing.T) {
	srv, _ := testServer(t)
	teacherToken := getToken(t, teacherActor)
	studentToken := getToken(t, studentActor)

	sess := createSessionViaAPI(t, srv, teacherToken, "qr")

	rec := do(t, srv, httpTest{
		method: http.MethodPost, path: "/v1/attend",
		body: checkInBody(t, sess.Code), token: studentToken,
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res attendance.CheckInResult
	decode(t, rec, &res)
	assert.Equal(t, sess.ID, res.SessionID)
	assert.Equal(t, "CS101", res.ClassID)

	// checking in twice is harmless
	rec = do(t, srv, httpTest{
		method: http.MethodPost, path: "/v1/attend",
		body: checkInBody(t, sess.Code), token: studentToken,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// the marked student shows as present on the teacher's view
	rec = do(t, srv, httpTest{path: "/v1/attendance/sessions/" + sess.ID + "/students", token: teacherToken})
	assert.Equal(t, http.StatusOK, rec.Code)
	var students studentsResponse
	decode(t, rec, &students)
	assert.Equal(t, attendance.Summary{Total: 2, Present: 1, Absent: 1}, students.Summary)
}

func Test_checkInApi_authz(t *testing.T) {
	srv, _ := testServer(t)
	teacherToken := getToken(t, teacherActor)

	sess := createSessionViaAPI(t, srv, teacherToken, "qr")

	tests := []httpTest{
		{name: "no token", body: checkInBody(t, sess.Code), wantCode: http.StatusUnauthorized},
		{name: "teacher cannot attend", body: checkInBody(t, sess.Code), token: teacherToken, wantCode: http.StatusForbidden},
		{name: "non-member student", body: checkInBody(t, sess.Code), token: getToken(t, outsiderActor), wantCode: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/v1/attend"
			rec := do(t, srv, tt)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func Test_checkInApi_badCodes(t *testing.T) {
	srv, clock := testServer(t)
	teacherToken := getToken(t, teacherActor)
	studentToken := getToken(t, studentActor)

	sess := createSessionViaAPI(t, srv, teacherToken, "qr")

	rec := do(t, srv, httpTest{
		method: http.MethodPost, path: "/v1/attend",
		body: checkInBody(t, "short"), token: studentToken,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, httpTest{
		method: http.MethodPost, path: "/v1/attend",
		body: checkInBody(t, "ZZZZZZ"), token: studentToken,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// lapsed codes are gone, not retryable
	clock.Advance(61 * time.Second)
	rec = do(t, srv, httpTest{
		method: http.MethodPost, path: "/v1/attend",
		body: checkInBody(t, sess.Code), token: studentToken,
	})
	assert.Equal(t, http.StatusGone, rec.Code)
}

func Test_checkInApi_closedSession(t *testing.T) {
	srv, _ := testServer(t)
	teacherToken := getToken(t, teacherActor)

	sess := createSessionViaAPI(t, srv, teacherToken, "qr")
	rec := do(t, srv, httpTest{method: http.MethodPost, path: "/v1/attendance/sessions/" + sess.ID + "/close", token: teacherToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, httpTest{
		method: http.MethodPost, path: "/v1/attend",
		body: checkInBody(t, sess.Code), token: getToken(t, studentActor),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

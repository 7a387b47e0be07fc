package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/attendance"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func TestService_Sweep(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	// old closed sessions, outside vs inside the 120-day window
	ancient := createSessionOn(t, svc, 2, attendance.Day{Year: 2025, Month: time.June, Dom: 2})
	recent := createSessionOn(t, svc, 2, attendance.Day{Year: 2025, Month: time.August, Dom: 4})
	for _, id := range []string{ancient, recent} {
		if _, err := svc.Close(ctx, teacher, id); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}
	// an old but still-active session is never swept
	activeOld := createSessionOn(t, svc, 3, attendance.Day{Year: 2025, Month: time.June, Dom: 2})

	removed, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed %d; want 1", removed)
	}
	if _, err = repo.GetSessionByID(ctx, ancient); errors.Cause(err) != attendance.ErrSessionNotFound {
		t.Errorf("ancient session survived the sweep: err = %v", err)
	}
	for _, id := range []string{recent, activeOld} {
		if _, err = repo.GetSessionByID(ctx, id); err != nil {
			t.Errorf("GetSessionByID(%q) error = %v; want kept", id, err)
		}
	}

	// idempotent
	if removed, err = svc.Sweep(ctx); err != nil || removed != 0 {
		t.Errorf("Sweep() again = (%d, %v); want (0, nil)", removed, err)
	}
}

func TestSweeper_RunOnce(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	old := createSessionOn(t, svc, 2, attendance.Day{Year: 2025, Month: time.May, Dom: 5})
	if _, err := svc.Close(ctx, teacher, old); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	conf := testConfig()
	sw := attendance.NewSweeper(svc, nopLogger{}, conf)
	if removed := sw.RunOnce(ctx, "manual"); removed != 1 {
		t.Errorf("RunOnce() = %d; want 1", removed)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	svc, _, _ := setup(t)

	sw := attendance.NewSweeper(svc, nopLogger{}, testConfig())
	sw.Start()
	sw.Stop() // must not hang or panic
}

// createSessionOn creates a manual session for an explicit day and returns its ID.
func createSessionOn(t *testing.T, svc *attendance.Service, slotID int, day attendance.Day) string {
	t.Helper()
	sess, _, err := svc.CreateOrGet(context.Background(), teacher, attendance.NewSession{
		ClassID: "CS101",
		SlotID:  slotID,
		Modes:   attendance.NewModeSet(attendance.ModeManual),
		Day:     day,
	})
	if err != nil {
		t.Fatalf("createSessionOn() failed: %v", err)
	}
	return sess.ID
}

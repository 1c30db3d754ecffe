package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"consultdesk.app/internal/obs"
)

type fakeSweeper struct {
	calls atomic.Int32
	n     int64
	err   error
}

func (f *fakeSweeper) SweepExpired(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("sweep must run with a deadline")
	}
	return f.n, f.err
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	l := obs.Logger()
	orig := l.Writer()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	t.Cleanup(func() { l.SetOutput(orig) })
	return &buf
}

func TestSweepLinksLogsOutcome(t *testing.T) {
	buf := captureLog(t)
	sw := &fakeSweeper{n: 3}
	NewScheduler(sw).SweepLinks()
	if !strings.Contains(buf.String(), "expired links deactivated") {
		t.Fatalf("expected sweep log, got %q", buf.String())
	}

	buf.Reset()
	failing := &fakeSweeper{err: errors.New("db down")}
	NewScheduler(failing).SweepLinks()
	if !strings.Contains(buf.String(), "link sweep failed") {
		t.Fatalf("expected failure log, got %q", buf.String())
	}
}

func TestScheduleRunsSweep(t *testing.T) {
	captureLog(t)
	sw := &fakeSweeper{}
	s := NewScheduler(sw)
	if err := s.Start("@every 1s"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for sw.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if sw.calls.Load() == 0 {
		t.Fatal("sweep never ran")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(&fakeSweeper{})
	if err := s.Start("not a schedule"); err == nil {
		t.Fatal("expected parse error")
	}
	idle := NewScheduler(&fakeSweeper{})
	if err := idle.Start(""); err != nil {
		t.Fatalf("empty schedule should disable the sweep: %v", err)
	}
	idle.Stop()
}

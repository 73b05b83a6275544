package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

type cleanerFake struct {
	result domain.CleanupResult
	err    error
	calls  int
	now    time.Time
}

func (f *cleanerFake) Cleanup(_ context.Context, now time.Time) (domain.CleanupResult, error) {
	f.calls++
	f.now = now
	return f.result, f.err
}

type diagnosticsFake struct {
	report domain.DiagnosticsReport
	err    error
	calls  int
}

func (f *diagnosticsFake) Run(context.Context, time.Time) (domain.DiagnosticsReport, error) {
	f.calls++
	return f.report, f.err
}

type observerFake struct {
	cleanups []error
	reports  []domain.DiagnosticsReport
}

func (f *observerFake) ObserveCleanup(_ domain.CleanupResult, err error) {
	f.cleanups = append(f.cleanups, err)
}

func (f *observerFake) ObserveDiagnostics(report domain.DiagnosticsReport) {
	f.reports = append(f.reports, report)
}

func TestRunOnceRunsCleanupThenDiagnostics(t *testing.T) {
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cleaner := &cleanerFake{result: domain.CleanupResult{DeletedRecords: 2, DeletedFiles: 2}}
	diag := &diagnosticsFake{report: domain.DiagnosticsReport{Scanned: 5, Findings: []domain.Finding{{Kind: domain.FindingStuck}}}}
	observer := &observerFake{}

	s := New(cleaner, diag, WithObserver(observer))
	s.now = func() time.Time { return fixed }
	s.RunOnce(context.Background())

	assert.Equal(t, 1, cleaner.calls)
	assert.Equal(t, fixed, cleaner.now)
	assert.Equal(t, 1, diag.calls)
	require.Len(t, observer.reports, 1)
	assert.Equal(t, 1, observer.reports[0].Count(domain.FindingStuck))
	assert.Equal(t, []error{nil}, observer.cleanups)
}

func TestRunOnceContinuesAfterCleanupFailure(t *testing.T) {
	cleaner := &cleanerFake{err: errors.New("list failed")}
	diag := &diagnosticsFake{}
	observer := &observerFake{}

	New(cleaner, diag, WithObserver(observer)).RunOnce(context.Background())

	assert.Equal(t, 1, diag.calls)
	require.Len(t, observer.cleanups, 1)
	assert.Error(t, observer.cleanups[0])
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s := New(&cleanerFake{}, &diagnosticsFake{})
	err := s.Start("every hour")
	assert.Error(t, err)
}

func TestStartAndStop(t *testing.T) {
	s := New(&cleanerFake{}, &diagnosticsFake{})
	require.NoError(t, s.Start(""))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

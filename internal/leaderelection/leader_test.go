package leaderelection

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lockQuery = regexp.QuoteMeta("SELECT pg_try_advisory_lock($1)")

type mockMetrics struct {
	mu       sync.Mutex
	statuses []bool
	acquired int
	lost     []string
}

func (m *mockMetrics) LeaderStatusChanged(isLeader bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, isLeader)
}

func (m *mockMetrics) LeaderAcquired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired++
}

func (m *mockMetrics) LeaderLost(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost = append(m.lost, reason)
}

func TestNew_Defaults(t *testing.T) {
	e := New(nil, Config{LockKey: 1}, func(context.Context) {}, func(string) {})

	assert.Equal(t, 5*time.Second, e.config.RetryInterval)
	assert.Equal(t, 2*time.Second, e.config.HeartbeatInterval)
}

func TestRunOnce_LockHeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(lockQuery).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	elected := false
	e := New(db, Config{LockKey: 42}, func(context.Context) { elected = true }, func(string) {
		t.Error("onDemoted should not be called when the lock was never held")
	})

	reason := e.runOnce(context.Background())

	assert.Equal(t, "", reason)
	assert.False(t, elected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunOnce_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(lockQuery).WillReturnError(errors.New("connection reset"))

	e := New(db, Config{LockKey: 42}, func(context.Context) {
		t.Error("onElected should not be called")
	}, func(string) {})

	assert.Equal(t, "", e.runOnce(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunOnce_AcquireThenShutdown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(lockQuery).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	elected := make(chan context.Context, 1)
	var demotedReason string
	metrics := &mockMetrics{}

	e := New(db, Config{LockKey: 42, HeartbeatInterval: time.Hour},
		func(ctx context.Context) { elected <- ctx },
		func(reason string) { demotedReason = reason },
	).WithMetrics(metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan string, 1)
	go func() { done <- e.runOnce(ctx) }()

	var leaderCtx context.Context
	select {
	case leaderCtx = <-elected:
	case <-time.After(2 * time.Second):
		t.Fatal("onElected was not called")
	}

	cancel()

	select {
	case reason := <-done:
		assert.Equal(t, ReasonShutdown, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("runOnce did not return after cancel")
	}

	assert.Error(t, leaderCtx.Err(), "leader context should be cancelled")
	assert.Equal(t, ReasonShutdown, demotedReason)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []bool{true, false}, metrics.statuses)
	assert.Equal(t, 1, metrics.acquired)
	assert.Equal(t, []string{ReasonShutdown}, metrics.lost)
}

func TestRunOnce_ConnectionLost(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(lockQuery).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectPing().WillReturnError(errors.New("broken pipe"))

	var demotedReason string
	e := New(db, Config{LockKey: 7, HeartbeatInterval: 10 * time.Millisecond},
		func(context.Context) {},
		func(reason string) { demotedReason = reason },
	)

	reason := e.runOnce(context.Background())

	assert.Equal(t, ReasonConnLost, reason)
	assert.Equal(t, ReasonConnLost, demotedReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := New(db, Config{LockKey: 1}, func(context.Context) {}, func(string) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return for a cancelled context")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

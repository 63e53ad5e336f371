package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/printfleet/internal/circuitbreaker"
	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/schedule"
	"github.com/djlord-it/printfleet/internal/testutil"
)

var noBackoff = []time.Duration{0}

func testRequest(t *testing.T) Request {
	t.Helper()
	st := schedule.NewState()
	require.NoError(t, st.AddMachine(testutil.Machine("p1", "FDM")))
	job := testutil.Job("bracket", "FDM", time.Hour, testutil.Epoch.Add(24*time.Hour))
	require.NoError(t, st.SubmitJob(job))
	return Request{
		ID:          "req-1",
		GeneratedAt: testutil.Epoch,
		Snapshot:    st,
		Project:     NewProject{ProjectCode: "PRJ-1", JobIDs: []uuid.UUID{job.ID}},
	}
}

type mockMetrics struct {
	mu       sync.Mutex
	attempts []string
	outcomes []string
}

func (m *mockMetrics) AdvisorAttemptCompleted(attempt int, statusClass string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, statusClass)
}

func (m *mockMetrics) AdvisorOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func TestClient_Propose_Success(t *testing.T) {
	req := testRequest(t)
	jobID := req.Project.JobIDs[0]

	var gotHeaders http.Header
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(Response{
			Proposals: []domain.Proposal{{
				ID:         "A",
				Rationale:  "earliest finish",
				Placements: []domain.Placement{{JobID: jobID, MachineID: "p1", Start: testutil.Epoch}},
			}},
		})
	}))
	defer server.Close()

	m := &mockMetrics{}
	resp, err := NewClient(server.URL, "s3cret").WithMetrics(m).Propose(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, resp.Proposals, 1)
	assert.Equal(t, jobID, resp.Proposals[0].Placements[0].JobID)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "req-1", gotHeaders.Get(HeaderRequestID))
	assert.Equal(t, "1", gotHeaders.Get(HeaderAttempt))
	assert.True(t, VerifySignature("s3cret", gotBody, gotHeaders.Get(HeaderSignature)))
	assert.Equal(t, []string{"success"}, m.outcomes)

	var sent Request
	require.NoError(t, json.Unmarshal(gotBody, &sent))
	assert.Len(t, sent.Snapshot.Backlog, 1)
}

func TestClient_Propose_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var attempts []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, r.Header.Get(HeaderAttempt))
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"proposals":[],"delay_rationale":"fleet saturated"}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, "k").WithBackoff(noBackoff).WithMaxAttempts(4).
		Propose(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "fleet saturated", resp.DelayRationale)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"1", "2", "3"}, attempts)
}

func TestClient_Propose_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "k").WithBackoff(noBackoff).Propose(context.Background(), testRequest(t))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Propose_GivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	m := &mockMetrics{}
	_, err := NewClient(server.URL, "k").WithBackoff(noBackoff).WithMaxAttempts(2).WithMetrics(m).
		Propose(context.Background(), testRequest(t))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, []string{"5xx", "5xx"}, m.attempts)
	assert.Equal(t, []string{"failed"}, m.outcomes)
}

func TestClient_Propose_BadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "k").Propose(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestClient_Propose_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cb := circuitbreaker.New(2, time.Hour)
	client := NewClient(server.URL, "k").WithBackoff(noBackoff).WithMaxAttempts(5).WithCircuitBreaker(cb)

	_, err := client.Propose(context.Background(), testRequest(t))
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load())

	_, err = client.Propose(context.Background(), testRequest(t))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "open circuit sends nothing")
}

func TestClient_Propose_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(server.URL, "k").WithBackoff([]time.Duration{0, time.Minute}).
		Propose(ctx, testRequest(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"x"}`)
	sig := ComputeSignature("secret", body)
	assert.True(t, VerifySignature("secret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("secret", []byte(`{"id":"y"}`), sig))
}

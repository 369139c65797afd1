package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrinehq/vitrine/pkg/events"
	"github.com/vitrinehq/vitrine/pkg/pool"
	"github.com/vitrinehq/vitrine/pkg/storage"
	"github.com/vitrinehq/vitrine/pkg/types"
)

// fakePool is a scriptable Pool implementation for handler tests
type fakePool struct {
	mu         sync.Mutex
	casts      map[string]*types.Cast
	devices    []*types.Device
	status     types.PoolStatus
	startErr   error
	releaseErr error
	started    []pool.CastRequest
	released   []string
}

func newFakePool() *fakePool {
	return &fakePool{casts: make(map[string]*types.Cast)}
}

func (f *fakePool) StartCast(ctx context.Context, req pool.CastRequest) (*types.Cast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)

	address := req.DeviceAddr
	if address == "" {
		address = "10.0.0.1:9515"
	}
	cast := &types.Cast{
		ID:              "cast-1",
		DeviceAddr:      address,
		Target:          req.Target,
		SkipHealthCheck: req.SkipHealthCheck,
		StartedAt:       time.Now(),
		LastActivity:    time.Now(),
	}
	f.casts[address] = cast
	return cast, nil
}

func (f *fakePool) ReleaseDevice(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released = append(f.released, address)
	delete(f.casts, address)
	return nil
}

func (f *fakePool) RecordActivity(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	cast, ok := f.casts[address]
	if ok {
		cast.LastActivity = time.Now()
	}
	return ok
}

func (f *fakePool) RecordError(address string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cast, ok := f.casts[address]
	if !ok {
		return 0, false
	}
	cast.ErrorCount++
	return cast.ErrorCount, true
}

func (f *fakePool) Cast(address string) (*types.Cast, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cast, ok := f.casts[address]
	return cast, ok
}

func (f *fakePool) Status() types.PoolStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakePool) Devices() []*types.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices
}

func newTestServer(t *testing.T) (*Server, *fakePool) {
	t.Helper()
	fake := newFakePool()
	return NewServer(fake, nil, nil), fake
}

// TestHandlePoolStatus tests the pool status endpoint
func TestHandlePoolStatus(t *testing.T) {
	s, fake := newTestServer(t)
	fake.status = types.PoolStatus{
		Devices: []types.DeviceStatus{
			{Address: "10.0.0.1:9515", Name: "lobby", State: types.DeviceStateIdle, Healthy: true},
			{Address: "10.0.0.2:9515", Name: "atrium", State: types.DeviceStateActive, Healthy: true},
		},
		Idle:        1,
		Active:      1,
		ActiveCasts: 1,
		GeneratedAt: time.Now(),
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/pool/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var status types.PoolStatus
	err := json.NewDecoder(w.Body).Decode(&status)
	require.NoError(t, err)
	assert.Len(t, status.Devices, 2)
	assert.Equal(t, 1, status.Idle)
	assert.Equal(t, 1, status.Active)
	assert.Equal(t, "lobby", status.Devices[0].Name)
}

// TestHandleDevices tests the device inventory endpoint
func TestHandleDevices(t *testing.T) {
	s, fake := newTestServer(t)
	fake.devices = []*types.Device{
		{Address: "10.0.0.1:9515", Name: "lobby"},
		{Address: "10.0.0.2:9515", Name: "atrium"},
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Devices []*types.Device `json:"devices"`
	}
	err := json.NewDecoder(w.Body).Decode(&response)
	require.NoError(t, err)
	require.Len(t, response.Devices, 2)
	assert.Equal(t, "10.0.0.1:9515", response.Devices[0].Address)
	assert.Equal(t, "atrium", response.Devices[1].Name)
}

// TestStartCast tests cast creation over HTTP
func TestStartCast(t *testing.T) {
	s, fake := newTestServer(t)

	body := `{"target":"https://dash.example.com/board","device":"10.0.0.2:9515","skip_health_check":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/casts", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var cast types.Cast
	err := json.NewDecoder(w.Body).Decode(&cast)
	require.NoError(t, err)
	assert.Equal(t, "https://dash.example.com/board", cast.Target)
	assert.Equal(t, "10.0.0.2:9515", cast.DeviceAddr)
	assert.True(t, cast.SkipHealthCheck)

	require.Len(t, fake.started, 1)
	assert.Equal(t, "10.0.0.2:9515", fake.started[0].DeviceAddr)
	assert.True(t, fake.started[0].SkipHealthCheck)
}

// TestStartCastValidation tests malformed cast requests
func TestStartCastValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "invalid JSON",
			body: `{"target": not-json`,
		},
		{
			name: "missing target",
			body: `{"device":"10.0.0.1:9515"}`,
		},
		{
			name: "empty target",
			body: `{"target":""}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := newTestServer(t)

			req := httptest.NewRequest(http.MethodPost, "/v1/casts", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, fake.started)

			var response ErrorResponse
			err := json.NewDecoder(w.Body).Decode(&response)
			require.NoError(t, err)
			assert.NotEmpty(t, response.Error)
		})
	}
}

// TestStartCastErrorMapping tests the pool error to HTTP status mapping
func TestStartCastErrorMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{
			name:           "no idle device",
			err:            pool.ErrNoIdleDevice,
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "unknown device",
			err:            pool.ErrUnknownDevice,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "device busy",
			err:            pool.ErrDeviceBusy,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "navigation failure",
			err:            errors.New("failed to start cast on 10.0.0.1:9515: target closed"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := newTestServer(t)
			fake.startErr = tt.err

			req := httptest.NewRequest(http.MethodPost, "/v1/casts", bytes.NewBufferString(`{"target":"https://example.com"}`))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response ErrorResponse
			err := json.NewDecoder(w.Body).Decode(&response)
			require.NoError(t, err)
			assert.NotEmpty(t, response.Error)
		})
	}
}

// TestGetCast tests looking up the active cast on a device
func TestGetCast(t *testing.T) {
	s, fake := newTestServer(t)
	fake.casts["10.0.0.1:9515"] = &types.Cast{
		ID:         "cast-7",
		DeviceAddr: "10.0.0.1:9515",
		Target:     "https://example.com",
		StartedAt:  time.Now(),
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/casts/10.0.0.1:9515", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var cast types.Cast
	err := json.NewDecoder(w.Body).Decode(&cast)
	require.NoError(t, err)
	assert.Equal(t, "cast-7", cast.ID)

	// No cast on this device
	req = httptest.NewRequest(http.MethodGet, "/v1/casts/10.0.0.9:9515", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestReleaseCast tests ending a cast over HTTP
func TestReleaseCast(t *testing.T) {
	s, fake := newTestServer(t)
	fake.casts["10.0.0.1:9515"] = &types.Cast{ID: "cast-1", DeviceAddr: "10.0.0.1:9515"}

	req := httptest.NewRequest(http.MethodDelete, "/v1/casts/10.0.0.1:9515", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, fake.released, 1)
	assert.Equal(t, "10.0.0.1:9515", fake.released[0])

	var response map[string]string
	err := json.NewDecoder(w.Body).Decode(&response)
	require.NoError(t, err)
	assert.Equal(t, "released", response["status"])
}

// TestReleaseCastErrors tests release failure mapping
func TestReleaseCastErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{
			name:           "unknown device",
			err:            pool.ErrUnknownDevice,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "no active cast",
			err:            pool.ErrNotActive,
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := newTestServer(t)
			fake.releaseErr = tt.err

			req := httptest.NewRequest(http.MethodDelete, "/v1/casts/10.0.0.1:9515", nil)
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

// TestReleaseCastDegradedDevice tests that a failed re-pool still reports
// the release as done
func TestReleaseCastDegradedDevice(t *testing.T) {
	s, fake := newTestServer(t)
	fake.releaseErr = errors.New("failed to relaunch session on 10.0.0.1:9515: no display server")

	req := httptest.NewRequest(http.MethodDelete, "/v1/casts/10.0.0.1:9515", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	err := json.NewDecoder(w.Body).Decode(&response)
	require.NoError(t, err)
	assert.Equal(t, "released", response["status"])
	assert.Contains(t, response["warning"], "failed to relaunch")
}

// TestCastActivity tests the activity heartbeat endpoint
func TestCastActivity(t *testing.T) {
	s, fake := newTestServer(t)
	fake.casts["10.0.0.1:9515"] = &types.Cast{ID: "cast-1", DeviceAddr: "10.0.0.1:9515"}

	req := httptest.NewRequest(http.MethodPost, "/v1/casts/10.0.0.1:9515/activity", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/casts/10.0.0.9:9515/activity", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestCastErrorReporting tests the error count endpoint
func TestCastErrorReporting(t *testing.T) {
	s, fake := newTestServer(t)
	fake.casts["10.0.0.1:9515"] = &types.Cast{ID: "cast-1", DeviceAddr: "10.0.0.1:9515"}

	for i := 1; i <= 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/casts/10.0.0.1:9515/errors", nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response CastErrorResponse
		err := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)
		assert.Equal(t, i, response.ErrorCount)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/casts/10.0.0.9:9515/errors", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestHistoryEndpoints tests cast and recovery history backed by a real store
func TestHistoryEndpoints(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.SaveCastRecord(&types.CastRecord{
		ID:         "cast-1",
		DeviceAddr: "10.0.0.1:9515",
		Target:     "https://example.com/a",
		StartedAt:  base,
		EndedAt:    base.Add(10 * time.Minute),
		Outcome:    types.CastOutcomeCompleted,
	}))
	require.NoError(t, store.SaveCastRecord(&types.CastRecord{
		ID:         "cast-2",
		DeviceAddr: "10.0.0.2:9515",
		Target:     "https://example.com/b",
		StartedAt:  base.Add(20 * time.Minute),
		EndedAt:    base.Add(30 * time.Minute),
		Outcome:    types.CastOutcomeAborted,
		ErrorCount: 3,
	}))
	require.NoError(t, store.SaveRecoveryRecord(&types.RecoveryRecord{
		ID:         "rec-1",
		DeviceAddr: "10.0.0.1:9515",
		Reason:     "device unreachable",
		StartedAt:  base,
		FinishedAt: base.Add(time.Minute),
		Attempts:   2,
		Success:    true,
	}))

	s := NewServer(newFakePool(), store, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/history/casts", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var castResponse struct {
		Casts []*types.CastRecord `json:"casts"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&castResponse))
	assert.Len(t, castResponse.Casts, 2)

	// Filter by device
	req = httptest.NewRequest(http.MethodGet, "/v1/history/casts?device=10.0.0.2:9515", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	castResponse.Casts = nil
	require.NoError(t, json.NewDecoder(w.Body).Decode(&castResponse))
	require.Len(t, castResponse.Casts, 1)
	assert.Equal(t, "cast-2", castResponse.Casts[0].ID)
	assert.Equal(t, types.CastOutcomeAborted, castResponse.Casts[0].Outcome)

	req = httptest.NewRequest(http.MethodGet, "/v1/history/recoveries", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var recoveryResponse struct {
		Recoveries []*types.RecoveryRecord `json:"recoveries"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&recoveryResponse))
	require.Len(t, recoveryResponse.Recoveries, 1)
	assert.Equal(t, "device unreachable", recoveryResponse.Recoveries[0].Reason)
	assert.True(t, recoveryResponse.Recoveries[0].Success)
}

// TestHistoryWithoutStore tests history endpoints when persistence is off
func TestHistoryWithoutStore(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/v1/history/casts", "/v1/history/recoveries"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code, "Path: %s", path)
	}
}

// TestMethodValidation tests that wrong HTTP methods are rejected
func TestMethodValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{method: http.MethodPost, path: "/v1/pool/status"},
		{method: http.MethodDelete, path: "/v1/devices"},
		{method: http.MethodGet, path: "/v1/casts"},
		{method: http.MethodPut, path: "/v1/casts/10.0.0.1:9515"},
		{method: http.MethodDelete, path: "/v1/history/casts"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}
}

// TestUnknownRoute tests that unregistered paths return 404
func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestOperationalEndpoints tests that metrics and probe routes are mounted
func TestOperationalEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/metrics", "/healthz", "/livez"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "Path: %s", path)
	}
}

// TestEventStreamWithoutBroker tests the stream endpoint when events are off
func TestEventStreamWithoutBroker(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

// TestEventStream tests NDJSON event delivery end to end
func TestEventStream(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	s := NewServer(newFakePool(), nil, broker)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	// Wait for the handler to attach its subscription before publishing
	deadline := time.Now().Add(2 * time.Second)
	for broker.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed to the broker")
		}
		time.Sleep(5 * time.Millisecond)
	}

	broker.Publish(&events.Event{
		Type:       events.EventCastStarted,
		DeviceAddr: "10.0.0.1:9515",
		CastID:     "cast-1",
		Message:    "cast started",
	})
	broker.PublishDevice(events.EventDeviceRecovering, "10.0.0.2:9515", "session disconnected")

	scanner := bufio.NewScanner(resp.Body)
	var got []types.Event
	for len(got) < 2 && scanner.Scan() {
		var event types.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		got = append(got, event)
	}

	require.Len(t, got, 2)
	assert.Equal(t, string(events.EventCastStarted), got[0].Type)
	assert.Equal(t, "cast-1", got[0].CastID)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Equal(t, string(events.EventDeviceRecovering), got[1].Type)
	assert.Equal(t, "10.0.0.2:9515", got[1].DeviceAddr)
}

// TestConcurrentStatusRequests tests concurrent reads against the handler
func TestConcurrentStatusRequests(t *testing.T) {
	s, fake := newTestServer(t)
	fake.status = types.PoolStatus{Idle: 2, GeneratedAt: time.Now()}

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest(http.MethodGet, "/v1/pool/status", nil)
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func BenchmarkHandlePoolStatus(b *testing.B) {
	s := NewServer(newFakePool(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/pool/status", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"smartswipe/syncclient/helpers"
	"smartswipe/syncclient/internal/screen"

	"github.com/stretchr/testify/assert"
)

// MockRefresher implements the screen.Refresher interface for testing
type MockRefresher struct {
	name       string
	refreshErr error
	calls      atomic.Int32
}

// Ensure MockRefresher implements screen.Refresher
var _ screen.Refresher = (*MockRefresher)(nil)

func (m *MockRefresher) Name() string {
	return m.name
}

func (m *MockRefresher) Refresh(ctx context.Context) error {
	m.calls.Add(1)
	return m.refreshErr
}

// MockLogger implements the helpers.LoggerInterface for testing
type MockLogger struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

// Ensure MockLogger implements helpers.LoggerInterface
var _ helpers.LoggerInterface = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{
		errors: make([]string, 0),
		infos:  make([]string, 0),
	}
}

func (m *MockLogger) LogError(source string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, source+": "+err.Error())
}

func (m *MockLogger) LogInfo(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, fmt.Sprintf(format, args...))
}

func (m *MockLogger) errorLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errors...)
}

// TestWorkerRefresh tests the refresh method
func TestWorkerRefresh(t *testing.T) {
	mockLogger := NewMockLogger()
	r := &MockRefresher{name: "dashboard"}

	w := NewWorker(context.Background(), []screen.Refresher{r}, mockLogger, time.Second)

	assert.True(t, w.refresh(r))
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Empty(t, mockLogger.errorLines(), "No errors should have been logged")
}

// TestWorkerWithError tests error handling in the worker
func TestWorkerWithError(t *testing.T) {
	mockLogger := NewMockLogger()
	r := &MockRefresher{name: "transactions", refreshErr: errors.New("test error")}

	w := NewWorker(context.Background(), []screen.Refresher{r}, mockLogger, time.Second)

	assert.False(t, w.refresh(r))

	errs := mockLogger.errorLines()
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "transactions", "Error should mention the screen name")
	assert.Contains(t, errs[0], "test error", "Error should contain the error message")
}

// TestWorkerRunOnce tests that every refresher runs and failures are counted
func TestWorkerRunOnce(t *testing.T) {
	mockLogger := NewMockLogger()
	ok1 := &MockRefresher{name: "accounts"}
	ok2 := &MockRefresher{name: "dashboard"}
	bad := &MockRefresher{name: "card_info", refreshErr: errors.New("boom")}

	w := NewWorker(context.Background(), []screen.Refresher{ok1, ok2, bad}, mockLogger, time.Second)

	assert.Equal(t, 1, w.RunOnce())
	for _, r := range []*MockRefresher{ok1, ok2, bad} {
		assert.Equal(t, int32(1), r.calls.Load(), r.name)
	}
	assert.Len(t, mockLogger.errorLines(), 1)
}

// TestWorkerStartStopsOnCancel tests the refresh loop and its shutdown
func TestWorkerStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &MockRefresher{name: "dashboard"}
	w := NewWorker(ctx, []screen.Refresher{r}, NewMockLogger(), 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

package chatsync

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// Test Helpers
// ============================================================================

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestSessions(t *testing.T, backend Backend, opts ...SessionOption) *SessionStore {
	t.Helper()
	if backend == nil {
		backend = NewMemoryBackend()
	}
	durable := NewDurableStore(backend, testLogger(), nil)
	opts = append([]SessionOption{WithSessionLogger(testLogger())}, opts...)
	return NewSessionStore(durable, opts...)
}

// failingBackend rejects every write and reports every key as absent.
type failingBackend struct{}

var errDiskFull = errors.New("disk full")

func (failingBackend) Get(context.Context, string) ([]byte, error)  { return nil, ErrKeyNotFound }
func (failingBackend) Set(context.Context, string, []byte) error    { return errDiskFull }
func (failingBackend) Delete(context.Context, string) error         { return errDiskFull }
func (failingBackend) Close() error                                 { return nil }

// testClock is a deterministic UTC clock advancing one second per call.
func testClock() func() time.Time {
	return steppingClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), time.Second)
}

// steppingClock returns start, start+step, start+2*step and so on.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		t := next
		next = next.Add(step)
		return t
	}
}

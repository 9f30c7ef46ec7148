package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// blockingSink records messages and blocks each delivery until release is closed.
type blockingSink struct {
	mu       sync.Mutex
	messages []string
	release  chan struct{}
	started  chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (s *blockingSink) Notify(ctx context.Context, message string) {
	s.started <- struct{}{}
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *blockingSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func TestAsync_NotifyNeverBlocks(t *testing.T) {
	sink := newBlockingSink()
	drops := 0
	a := NewAsync(sink, &mockLogger{}, 1, WithDropHook(func() { drops++ }))

	a.Notify(context.Background(), "first")
	<-sink.started // worker is now stuck delivering "first"

	done := make(chan struct{})
	go func() {
		a.Notify(context.Background(), "second") // fills the queue
		a.Notify(context.Background(), "third")  // dropped
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked while the sink was stalled")
	}

	assert.Equal(t, int64(1), a.Dropped())
	assert.Equal(t, 1, drops)

	close(sink.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
	assert.Equal(t, []string{"first", "second"}, sink.got())
}

func TestAsync_NotifyAfterCloseIsDropped(t *testing.T) {
	sink := newBlockingSink()
	close(sink.release)
	logger := &mockLogger{}
	a := NewAsync(sink, logger, 4)

	require.NoError(t, a.Close(context.Background()))
	a.Notify(context.Background(), "late")

	assert.Equal(t, int64(1), a.Dropped())
	assert.Empty(t, sink.got())
	assert.Equal(t, []string{"Alert dropped"}, logger.warns)
}

func TestAsync_CloseHonoursContext(t *testing.T) {
	sink := newBlockingSink()
	a := NewAsync(sink, &mockLogger{}, 4)
	a.Notify(context.Background(), "stuck")
	<-sink.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)
	close(sink.release)
}

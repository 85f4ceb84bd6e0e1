package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/maxpert/engage/notify"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mu        sync.Mutex
	calls     []mockPublishCall
	failCount atomic.Int32 // failures before succeeding
	closed    atomic.Bool
}

type mockPublishCall struct {
	topic string
	key   string
	value []byte
}

func (m *mockSink) Publish(_ context.Context, topic, key string, value []byte) error {
	if m.failCount.Load() > 0 {
		m.failCount.Add(-1)
		return fmt.Errorf("mock publish failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockPublishCall{topic: topic, key: key, value: value})
	return nil
}

func (m *mockSink) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockSink) published() []mockPublishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublishCall(nil), m.calls...)
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type jsonTransformer struct{}

func (jsonTransformer) Transform(rec notify.Record) ([]byte, error) {
	return json.Marshal(rec)
}

type failingTransformer struct{}

func (failingTransformer) Transform(notify.Record) ([]byte, error) {
	return nil, fmt.Errorf("cannot encode")
}

func init() {
	RegisterTransformer("test-json", func() Transformer { return jsonTransformer{} })
}

func newTestLog(t *testing.T, threshold int) *PublishLog {
	t.Helper()
	pl, err := NewPublishLog("/data", LogOptions{FS: vfs.NewMem(), CompressThreshold: threshold})
	require.NoError(t, err)
	t.Cleanup(func() { pl.Close() })
	return pl
}

func like(sender, receiver, post int64) notify.Record {
	return notify.Record{
		Type:         notify.TypeLike,
		SenderID:     sender,
		ReceiverID:   receiver,
		BusinessType: notify.BusinessPost,
		BusinessID:   post,
	}
}

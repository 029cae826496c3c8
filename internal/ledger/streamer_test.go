package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postforge/autopost/internal/ledger"
	"github.com/postforge/autopost/internal/models"
	"github.com/postforge/autopost/internal/store"
)

type fakeProducer struct {
	messages map[string][]byte
	err      error
	closed   bool
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{messages: map[string][]byte{}}
}

func (f *fakeProducer) Produce(ctx context.Context, key, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages[string(key)] = append([]byte(nil), value...)
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func seedResult(t *testing.T, st store.Store, success bool) models.DispatchResult {
	t.Helper()
	res, err := st.InsertDispatchResult(context.Background(), store.DispatchResultInput{
		RunID:          uuid.New(),
		RuleID:         uuid.New(),
		UserID:         uuid.New(),
		Platform:       "onlyfans",
		Success:        success,
		PlatformPostID: "post-1",
	})
	require.NoError(t, err)
	return res
}

func TestStreamBatchMarksStreamed(t *testing.T) {
	st := store.NewMemoryStore()
	producer := newFakeProducer()
	res := seedResult(t, st, true)

	s := ledger.NewStreamer(st, producer, ledger.StreamerConfig{BatchSize: 10})
	n, err := s.StreamBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The produced value is the full ledger row keyed by result id.
	value, ok := producer.messages[res.ID.String()]
	require.True(t, ok)
	var streamed models.DispatchResult
	require.NoError(t, json.Unmarshal(value, &streamed))
	assert.Equal(t, res.RuleID, streamed.RuleID)
	assert.Equal(t, "onlyfans", streamed.Platform)

	results, err := st.ListDispatchResultsByRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.StreamStreamed, results[0].StreamStatus)
	assert.NotNil(t, results[0].StreamedAt)
	assert.Equal(t, 1, results[0].StreamAttempts)

	// Drained rows are not re-claimed.
	n, err = s.StreamBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStreamBatchProducerFailure(t *testing.T) {
	st := store.NewMemoryStore()
	producer := newFakeProducer()
	producer.err = errors.New("kafka: broker unreachable")
	res := seedResult(t, st, false)

	s := ledger.NewStreamer(st, producer, ledger.StreamerConfig{BatchSize: 10})
	n, err := s.StreamBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := st.ListDispatchResultsByRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.StreamFailed, results[0].StreamStatus)
	assert.Nil(t, results[0].StreamedAt)
}

func TestStreamBatchRespectsBatchSize(t *testing.T) {
	st := store.NewMemoryStore()
	producer := newFakeProducer()
	for i := 0; i < 5; i++ {
		seedResult(t, st, true)
	}

	s := ledger.NewStreamer(st, producer, ledger.StreamerConfig{BatchSize: 2})
	n, err := s.StreamBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, producer.messages, 2)
}

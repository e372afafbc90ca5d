package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	contractsmq "notifyhub/contracts/mq"
	"notifyhub/internal/model"
	"notifyhub/internal/realtime"
	"notifyhub/internal/service"
	"notifyhub/pkg/apperr"
	"notifyhub/pkg/mq"
)

// --- in-memory store ---

type memStore struct {
	mu         sync.Mutex
	rows       []model.Notification
	insertErrs []error
}

func (m *memStore) InsertBatch(_ context.Context, ns []model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.insertErrs) > 0 {
		err := m.insertErrs[0]
		m.insertErrs = m.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	m.rows = append(m.rows, ns...)
	return nil
}

func (m *memStore) UnreadCount(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows {
		if r.UserID == userID && !r.IsRead {
			n++
		}
	}
	return n, nil
}

func (m *memStore) MarkAsRead(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (m *memStore) ListByUser(context.Context, uuid.UUID, int, int) ([]model.Notification, error) {
	return nil, nil
}

func (m *memStore) CountByUser(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func (m *memStore) ListLatest(context.Context, uuid.UUID, int) ([]model.Notification, error) {
	return nil, nil
}

func (m *memStore) rowsFor(userID uuid.UUID) []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Notification
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// --- counting notifier wrapping the hub ---

type countingNotifier struct {
	hub   *realtime.Hub
	mu    sync.Mutex
	calls int
}

func (n *countingNotifier) Push(ctx context.Context, userID uuid.UUID, count int64) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return n.hub.Push(ctx, userID, count)
}

// --- fake kafka reader ---

type fakeReader struct {
	mu         sync.Mutex
	msgs       []kafka.Message
	commitErrs []error
	committed  []int64
	onDrained  func()
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) == 0 {
		r.mu.Unlock()
		if r.onDrained != nil {
			r.onDrained()
		}
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	r.mu.Unlock()
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commitErrs) > 0 {
		err := r.commitErrs[0]
		r.commitErrs = r.commitErrs[1:]
		return err
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type noopProvisioner struct{}

func (noopProvisioner) EnsureTopicExists(context.Context) error { return nil }

// --- harness ---

type pipeline struct {
	store    *memStore
	hub      *realtime.Hub
	notifier *countingNotifier
	handler  *BatchNotificationHandler
}

var ingestedAt = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

func newPipeline() *pipeline {
	store := &memStore{}
	hub := realtime.NewHub(8, zap.NewNop())
	notifier := &countingNotifier{hub: hub}
	svc := service.NewNotificationService(store, notifier, zap.NewNop(),
		service.WithClock(func() time.Time { return ingestedAt }))
	return &pipeline{
		store:    store,
		hub:      hub,
		notifier: notifier,
		handler:  NewBatchNotificationHandler(svc, zap.NewNop()),
	}
}

// run consumes reader until it is drained. sleep decides whether backoffs end
// the run early.
func (p *pipeline) run(t *testing.T, reader *fakeReader, sleep mq.SleepFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader.onDrained = cancel

	if sleep == nil {
		sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	}
	c := mq.NewConsumer(mq.ConsumerConfig{Topic: "notifications", GroupID: "test", PollTimeout: time.Second},
		noopProvisioner{}, func() mq.Reader { return reader }, p.handler.Handle, zap.NewNop(), mq.WithSleepFunc(sleep))
	require.NoError(t, c.Run(ctx))
}

func eventMessage(t *testing.T, offset int64, ev contractsmq.BatchNotificationEvent) kafka.Message {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Topic: "notifications", Offset: offset, Value: data}
}

func drain(c *realtime.Conn) []int64 {
	var got []int64
	for {
		select {
		case v := <-c.Updates():
			got = append(got, v)
		default:
			return got
		}
	}
}

// ============================================================
// End-to-end scenarios
// ============================================================

func TestPipeline_WelcomeBatchToTwoUsers(t *testing.T) {
	p := newPipeline()
	u1, u2 := uuid.New(), uuid.New()
	u1a, u1b := p.hub.Register(u1), p.hub.Register(u1)
	u2a := p.hub.Register(u2)

	reader := &fakeReader{msgs: []kafka.Message{eventMessage(t, 0, contractsmq.BatchNotificationEvent{
		UserIDs:    []string{u1.String(), u2.String()},
		Title:      "Welcome",
		Message:    "Thanks",
		Type:       0,
		TargetType: 1,
	})}}
	p.run(t, reader, nil)

	for _, u := range []uuid.UUID{u1, u2} {
		rows := p.store.rowsFor(u)
		require.Len(t, rows, 1)
		assert.False(t, rows[0].IsRead)
		assert.Equal(t, ingestedAt, rows[0].CreatedAt)
		assert.Equal(t, model.KindInfo, rows[0].Type)
		assert.Equal(t, model.TargetMultiple, rows[0].TargetType)
		assert.Equal(t, "Welcome", rows[0].Title)
		assert.Equal(t, "Thanks", rows[0].Message)
	}

	assert.Equal(t, 2, p.notifier.calls, "exactly one push per recipient")
	assert.Equal(t, []int64{1}, drain(u1a))
	assert.Equal(t, []int64{1}, drain(u1b))
	assert.Equal(t, []int64{1}, drain(u2a))
	assert.Equal(t, []int64{0}, reader.committed)
}

func TestPipeline_MalformedPayloadIsAcknowledged(t *testing.T) {
	p := newPipeline()
	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: "notifications", Offset: 4, Value: []byte(`{"userIds": [`)},
		{Topic: "notifications", Offset: 5, Value: []byte(`{"userIds":["not-a-uuid"],"type":0,"targetType":0}`)},
		{Topic: "notifications", Offset: 6, Value: []byte(`{"userIds":[],"title":"t","message":"m","type":0,"targetType":2}`)},
	}}

	p.run(t, reader, nil)

	assert.Equal(t, []int64{4, 5, 6}, reader.committed)
	assert.Zero(t, p.store.count())
	assert.Zero(t, p.notifier.calls)
}

func TestPipeline_CrashBeforeCommitRedeliversAsDuplicate(t *testing.T) {
	p := newPipeline()
	u1 := uuid.New()
	msg := eventMessage(t, 11, contractsmq.BatchNotificationEvent{
		UserIDs: []string{u1.String()}, Title: "t", Message: "m", Type: 2, TargetType: 0,
	})

	// first run: persisted, the commit fails and the process goes down
	crashing := &fakeReader{msgs: []kafka.Message{msg}, commitErrs: []error{errors.New("broker gone")}}
	p.run(t, crashing, func(context.Context, time.Duration) error { return context.Canceled })
	require.Empty(t, crashing.committed)
	require.Len(t, p.store.rowsFor(u1), 1)

	// restart: the uncommitted message is delivered again
	restarted := &fakeReader{msgs: []kafka.Message{msg}}
	p.run(t, restarted, nil)

	assert.Equal(t, []int64{11}, restarted.committed)
	assert.Len(t, p.store.rowsFor(u1), 2, "duplicate row, never a lost batch")
}

func TestPipeline_PersistenceFailureRetriesWithoutCommit(t *testing.T) {
	p := newPipeline()
	p.store.insertErrs = []error{
		apperr.Persistence("repository.InsertBatch", errors.New("connection refused")),
		apperr.Persistence("repository.InsertBatch", errors.New("connection refused")),
	}
	u1 := uuid.New()
	conn := p.hub.Register(u1)

	var delays []time.Duration
	reader := &fakeReader{msgs: []kafka.Message{eventMessage(t, 3, contractsmq.BatchNotificationEvent{
		UserIDs: []string{u1.String()}, Title: "t", Message: "m", Type: 1, TargetType: 0,
	})}}
	p.run(t, reader, func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	})

	assert.Len(t, delays, 2)
	assert.Equal(t, []int64{3}, reader.committed)
	assert.Len(t, p.store.rowsFor(u1), 1)
	assert.Equal(t, []int64{1}, drain(conn), "no push for failed attempts")
}

// ============================================================
// Handler unit behaviour
// ============================================================

type stubSubmitter struct {
	err   error
	calls int
	ids   []uuid.UUID
}

func (s *stubSubmitter) SubmitBatch(_ context.Context, ids []uuid.UUID, _, _ string, _ model.Kind, _ model.TargetScope) error {
	s.calls++
	s.ids = ids
	return s.err
}

func TestHandle_ErrorClassification(t *testing.T) {
	id := uuid.New()
	valid := []byte(`{"userIds":["` + id.String() + `"],"title":"t","message":"m","type":3,"targetType":0}`)

	tests := []struct {
		name          string
		payload       []byte
		submitErr     error
		wantErr       bool
		wantPermanent bool
		wantCalls     int
	}{
		{"ok", valid, nil, false, false, 1},
		{"malformed", []byte(`[]`), nil, true, true, 0},
		{"unknown type", []byte(`{"userIds":["` + id.String() + `"],"type":9,"targetType":0}`), nil, true, true, 0},
		{"no recipients", []byte(`{"userIds":[],"type":0,"targetType":0}`), nil, true, true, 0},
		{"store down", valid, apperr.Persistence("x", errors.New("down")), true, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &stubSubmitter{err: tt.submitErr}
			err := NewBatchNotificationHandler(sub, zap.NewNop()).Handle(context.Background(), kafka.Message{Value: tt.payload})

			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantPermanent, apperr.IsPermanent(err))
			assert.Equal(t, tt.wantCalls, sub.calls)
		})
	}
}

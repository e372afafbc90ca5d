package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/pkg/trace"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, "notifications")
	ctx := trace.WithContext(context.Background(), "trace-abc")

	require.NoError(t, p.Publish(ctx, "u1", map[string]string{"title": "Welcome"}))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "u1", string(msg.Key))
	assert.JSONEq(t, `{"title":"Welcome"}`, string(msg.Value))
	assert.Equal(t, "trace-abc", headerValue(msg, trace.HeaderName))
}

func TestPublisher_WriteError(t *testing.T) {
	p := NewPublisher(&fakeWriter{err: errors.New("leader not available")}, "notifications")

	err := p.Publish(context.Background(), "", struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications")
}

func TestPublisher_MarshalError(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, "notifications")

	require.Error(t, p.Publish(context.Background(), "", make(chan int)))
	assert.Empty(t, w.msgs)
}

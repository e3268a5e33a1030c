package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyguard/pkg/logger"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_Publish(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, logger.NewNoopLogger())
	e := sampleEvent()
	e.Signature = "sig"

	require.NoError(t, sink.Publish(context.Background(), e))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, []byte(e.KeyID), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "rotated", string(msg.Headers[0].Value))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "sig", body["signature"])
	assert.Equal(t, "ops", body["performedBy"])
	assert.Equal(t, e.ID, body["id"])

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newKafkaSink(w, logger.NewNoopLogger())

	assert.Error(t, sink.Publish(context.Background(), sampleEvent()))
}

package msgs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaceworks/sw2/pkg/liveness"
)

func TestEventRecordFromFrame(t *testing.T) {
	now := time.Unix(1700000000, 42)
	rec := NewEventRecord("bench-1", liveness.Event{
		Kind:    liveness.EventFrame,
		Time:    now,
		State:   liveness.StateUp,
		Payload: []byte{0, 1, 2, 0xff},
	})
	require.Equal(t, "frame", rec.Kind)
	require.Equal(t, "up", rec.State)
	require.Equal(t, now.UnixNano(), rec.UnixNano)

	data, err := rec.Encode()
	require.NoError(t, err)
	decoded, err := DecodeEventRecord(data)
	require.NoError(t, err)
	require.Equal(t, rec.Payload, decoded.Payload)
	require.Equal(t, "bench-1", decoded.StationId)
	require.Empty(t, decoded.Error)
}

func TestEventRecordCarriesError(t *testing.T) {
	rec := NewEventRecord("bench-1", liveness.Event{
		Kind: liveness.EventConnectionLost,
		Err:  errors.New("read: EOF"),
	})
	require.Equal(t, "connection-lost", rec.Kind)
	require.Equal(t, "down", rec.State)
	require.Equal(t, "read: EOF", rec.Error)
	require.Contains(t, rec.String(), "connection-lost")
}

func TestDecodeGarbage(t *testing.T) {
	_, err := DecodeEventRecord([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

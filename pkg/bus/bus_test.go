package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	type snapshot struct {
		State string `json:"state"`
	}

	received := make(chan snapshot, 1)
	_, err = b.Subscribe(SubjectPipelineStatus, func(data []byte) {
		var s snapshot
		if err := json.Unmarshal(data, &s); err == nil {
			received <- s
		}
	})
	require.NoError(t, err)

	b.Publish(SubjectPipelineStatus, snapshot{State: "playing"})

	select {
	case s := <-received:
		assert.Equal(t, "playing", s.State)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published status snapshot")
	}
}

func TestPublishUnmarshalableValueDoesNotPanic(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	assert.NotPanics(t, func() {
		b.Publish(SubjectOptimizerStatus, make(chan int))
	})
}

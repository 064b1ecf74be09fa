package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStreamNotifierPublishesEvent(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	msgs, err := pubSub.Subscribe(context.Background(), "seats.updated")
	require.NoError(t, err)

	n := newRedisStreamNotifier(pubSub, "seats.updated")
	e := Event{Type: TypeUpdateSeats, ScreeningID: 5, AvailableSeats: 0, TotalSeats: 2}
	require.NoError(t, n.Send(context.Background(), e))

	select {
	case msg := <-msgs:
		var got Event
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, e, got)
		assert.Equal(t, "updateSeats", msg.Metadata.Get("type"))
		assert.Equal(t, "5", msg.Metadata.Get("screening_id"))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("no message on stream")
	}
}

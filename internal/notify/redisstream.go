package notify

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

// RedisStreamNotifier appends seat updates to a Redis stream through
// watermill.  The stream is capped so it stays a feed, not a log.
type RedisStreamNotifier struct {
	pub    message.Publisher
	stream string
}

const streamMaxLen = 1000

func NewRedisStreamNotifier(rdb redis.UniversalClient, stream string, logger watermill.LoggerAdapter) (*RedisStreamNotifier, error) {
	if stream == "" {
		stream = "seats.updated"
	}
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client:  rdb,
		Maxlens: map[string]int64{stream: streamMaxLen},
	}, logger)
	if err != nil {
		return nil, err
	}
	return newRedisStreamNotifier(pub, stream), nil
}

func newRedisStreamNotifier(pub message.Publisher, stream string) *RedisStreamNotifier {
	return &RedisStreamNotifier{pub: pub, stream: stream}
}

func (n *RedisStreamNotifier) Name() string { return "redis" }

func (n *RedisStreamNotifier) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", e.Type)
	msg.Metadata.Set("screening_id", strconv.FormatUint(e.ScreeningID, 10))
	msg.SetContext(ctx)
	return n.pub.Publish(n.stream, msg)
}

func (n *RedisStreamNotifier) Close() error { return n.pub.Close() }

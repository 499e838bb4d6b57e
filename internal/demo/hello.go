// Package demo holds the sample programs driven by bridgectl: a hello-world
// publisher/subscriber pair and a ping/pong latency benchmark.
package demo

import (
	"context"
	"time"

	"github.com/nfrund/topicbridge/internal/bridge"
)

// HelloTopic is the topic the hello-world demo uses.
const HelloTopic = "TopicHelloWorld"

// HelloWorld is the hello-world message.
type HelloWorld struct {
	UserID  int32  `json:"user_id" cbor:"user_id"`
	Message string `json:"message" cbor:"message"`
}

// PublishHello writes count greetings, one per interval. A count of 0 writes
// until ctx is done. It returns how many messages were written.
func PublishHello(ctx context.Context, bctx *bridge.Context, userID int32, count int, interval time.Duration) (int, error) {
	pub, err := bridge.CreatePublisher[HelloWorld](bctx, HelloTopic)
	if err != nil {
		return 0, err
	}
	defer pub.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for count == 0 || sent < count {
		if err := pub.Write(ctx, HelloWorld{UserID: userID, Message: "HelloWorld."}); err != nil {
			if ctx.Err() != nil {
				return sent, nil
			}
			return sent, err
		}
		sent++
		if count != 0 && sent == count {
			break
		}

		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
	}
	return sent, nil
}

// SubscribeHello calls handler for every greeting.
func SubscribeHello(bctx *bridge.Context, handler func(HelloWorld)) (*bridge.Channel[HelloWorld], error) {
	return bridge.CreateSubscriber[HelloWorld](bctx, HelloTopic, handler, 0)
}

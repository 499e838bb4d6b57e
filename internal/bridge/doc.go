// Package bridge is a typed publish/subscribe layer over a pluggable
// transport.
//
// A Context joins a communication domain and owns everything created in it.
// Channels are typed endpoints on named topics; the first channel on a topic
// binds the topic to its message type, and later channels must agree.
// Subscriber callbacks all run on one dispatch goroutine per Context, in
// arrival order per topic:
//
//	bctx := bridge.New(wmtransport.New())
//	if err := bctx.Initialize(ctx, 0, ""); err != nil {
//		return err
//	}
//	defer bctx.Shutdown()
//
//	pub, err := bridge.CreatePublisher[Chat](bctx, "chat")
//	...
//	sub, err := bridge.CreateSubscriber[Chat](bctx, "chat", func(m Chat) {
//		fmt.Println(m.From, m.Text)
//	}, 0)
package bridge

// Package transport defines the narrow capability the bridge consumes from a
// concrete messaging transport: participants, topics, writer and reader
// groups, and a wait set that reports readers with pending data.
//
// Providers live in sub-packages (wmtransport, amqptransport). They deal in
// encoded payloads only; message typing and encoding belong to the bridge.
//
// SampleQueue and WaitSet are shared building blocks. A provider's Reader
// typically pushes inbound samples into a SampleQueue and forwards Take and
// SetListener to it, which is all a WaitSet needs to track readiness.
package transport

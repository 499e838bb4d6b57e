package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/topicbridge/internal/bridge"
)

// Topics used by the latency benchmark.
const (
	PingTopic = "rt/ping"
	PongTopic = "rt/pong"
)

// MaxPayloadSize caps the benchmark payload at 100 MiB.
const MaxPayloadSize = 100 << 20

// ErrNoReply is returned when no pong arrives within the reply timeout.
var ErrNoReply = errors.New("demo: no reply from pong")

// RoundTrip is the message bounced between ping and pong.
type RoundTrip struct {
	Seq     uint64 `json:"seq" cbor:"seq"`
	Payload []byte `json:"payload,omitempty" cbor:"payload,omitempty"`
}

// PingConfig controls a benchmark run.
type PingConfig struct {
	PayloadSize  int
	Samples      int           // 0 runs until Duration or ctx ends
	Duration     time.Duration // 0 means no limit
	WarmUp       time.Duration
	ReplyTimeout time.Duration
}

// Report is the result of a benchmark run. Latency is the one-way estimate,
// half the measured round trip.
type Report struct {
	Latency     Stats `json:"latency"`
	WriteAccess Stats `json:"write_access"`
	Lost        int   `json:"lost"`
}

// Pong echoes every ping back on the pong topic until Close.
type Pong struct {
	sub *bridge.Channel[RoundTrip]
	pub *bridge.Channel[RoundTrip]
}

// StartPong subscribes to pings and answers them from the dispatch goroutine.
func StartPong(bctx *bridge.Context, logger *slog.Logger) (*Pong, error) {
	pub, err := bridge.CreatePublisher[RoundTrip](bctx, PongTopic)
	if err != nil {
		return nil, err
	}
	sub, err := bridge.CreateSubscriber[RoundTrip](bctx, PingTopic, func(m RoundTrip) {
		if err := pub.Write(context.Background(), m); err != nil {
			logger.Warn("pong write failed", "seq", m.Seq, "error", err)
		}
	}, 0)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	return &Pong{sub: sub, pub: pub}, nil
}

// Close stops answering.
func (p *Pong) Close() error {
	return errors.Join(p.sub.Close(), p.pub.Close())
}

// Ping runs the latency benchmark against a running Pong.
func Ping(ctx context.Context, bctx *bridge.Context, cfg PingConfig) (Report, error) {
	if cfg.PayloadSize < 0 || cfg.PayloadSize > MaxPayloadSize {
		return Report{}, fmt.Errorf("payload size %d out of range 0..%d", cfg.PayloadSize, MaxPayloadSize)
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = time.Second
	}

	replies := make(chan uint64, 16)
	sub, err := bridge.CreateSubscriber[RoundTrip](bctx, PongTopic, func(m RoundTrip) {
		select {
		case replies <- m.Seq:
		default:
		}
	}, 0)
	if err != nil {
		return Report{}, err
	}
	defer sub.Close()

	pub, err := bridge.CreatePublisher[RoundTrip](bctx, PingTopic)
	if err != nil {
		return Report{}, err
	}
	defer pub.Close()

	payload := make([]byte, cfg.PayloadSize)
	for i := range payload {
		payload[i] = 'a'
	}

	var seq uint64
	exchange := func() (rt, write time.Duration, err error) {
		seq++
		msg := RoundTrip{Seq: seq, Payload: payload}
		start := time.Now()
		if err := pub.Write(ctx, msg); err != nil {
			return 0, 0, err
		}
		write = time.Since(start)

		timer := time.NewTimer(cfg.ReplyTimeout)
		defer timer.Stop()
		for {
			select {
			case got := <-replies:
				if got == seq {
					return time.Since(start), write, nil
				}
			case <-timer.C:
				return 0, write, ErrNoReply
			case <-ctx.Done():
				return 0, write, ctx.Err()
			}
		}
	}

	warmUpEnd := time.Now().Add(cfg.WarmUp)
	for time.Now().Before(warmUpEnd) {
		if _, _, err := exchange(); err != nil && !errors.Is(err, ErrNoReply) {
			return Report{}, err
		}
	}

	var report Report
	var roundTrips, writes []time.Duration
	start := time.Now()
	for i := 0; cfg.Samples == 0 || i < cfg.Samples; i++ {
		if cfg.Duration > 0 && time.Since(start) >= cfg.Duration {
			break
		}
		rt, write, err := exchange()
		if errors.Is(err, ErrNoReply) {
			report.Lost++
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return report, err
		}
		roundTrips = append(roundTrips, rt)
		writes = append(writes, write)
	}

	report.Latency = Summarize(roundTrips).Halve()
	report.WriteAccess = Summarize(writes)
	if report.Latency.Count == 0 && report.Lost > 0 {
		return report, ErrNoReply
	}
	return report, nil
}

// Package redis mirrors candles, indicator frames, and signals into Redis
// streams and pub/sub channels for external dashboards. The durable record
// lives in SQLite; everything here is a best-effort live mirror.
package redis

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"divergence-monitor/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 30 * time.Minute
	signalStreamMax  = 1000
	jobQueueSize     = 1024
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// publishJob is one precomputed pipeline write.
type publishJob struct {
	stream string
	latest string
	pubsub string
	maxLen int64
	data   string
	mirror bool // false = pub/sub only (forming previews)
}

// Publisher writes candles, frames, and signals to Redis without ever
// blocking the caller: writes queue onto a worker goroutine and overflow is
// dropped and counted. A circuit breaker stops hammering a dead server.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	jobs   chan publishJob

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// NewPublisher creates a Publisher and pings the server.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	cb := NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
	}
	return &Publisher{
		client: client,
		cb:     cb,
		jobs:   make(chan publishJob, jobQueueSize),
	}, nil
}

// Run drains the job queue, executing one pipeline per job. Blocks until
// ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			p.execute(ctx, job)
		}
	}
}

func (p *Publisher) execute(ctx context.Context, job publishJob) {
	err := p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		if job.mirror {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: job.stream,
				MaxLen: job.maxLen,
				Approx: true,
				Values: map[string]interface{}{"data": job.data},
			})
			pipe.Set(ctx, job.latest, job.data, defaultLatestTTL)
		}
		pipe.Publish(ctx, job.pubsub, job.data)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err == ErrCircuitOpen {
		p.dropped.Add(1)
		return
	}
	if err != nil {
		log.Printf("[redis] pipeline error for %s: %v", job.stream, err)
		return
	}
	p.published.Add(1)
}

// enqueue queues a job without blocking; overflow is dropped and counted.
func (p *Publisher) enqueue(job publishJob) {
	select {
	case p.jobs <- job:
	default:
		if n := p.dropped.Add(1); n%100 == 1 {
			log.Printf("[redis] publish queue full, dropped %d writes so far", n)
		}
	}
}

// PublishCandle mirrors a closed candle: XADD + SET latest + PUBLISH.
func (p *Publisher) PublishCandle(ctx context.Context, c model.Candle) {
	streamKey := c.StreamKey()
	p.enqueue(publishJob{
		stream: streamKey,
		latest: "candle:" + model.Itoa(c.TF) + "s:latest:" + c.Symbol,
		pubsub: "pub:" + streamKey,
		maxLen: streamMaxLen(c.TF),
		data:   string(c.JSON()),
		mirror: true,
	})
}

// PublishFrame mirrors an indicator frame. Forming previews go to pub/sub
// only; closed frames get the full XADD + SET + PUBLISH pipeline.
func (p *Publisher) PublishFrame(ctx context.Context, f model.IndicatorFrame) {
	streamKey := f.StreamKey()
	p.enqueue(publishJob{
		stream: streamKey,
		latest: "frame:" + model.Itoa(f.TF) + "s:latest:" + f.Symbol,
		pubsub: "pub:" + streamKey,
		maxLen: streamMaxLen(f.TF),
		data:   string(f.JSON()),
		mirror: !f.Forming,
	})
}

// PublishSignal mirrors an emitted signal and broadcasts it on the global
// signal channel.
func (p *Publisher) PublishSignal(ctx context.Context, sig model.Signal) {
	streamKey := sig.StreamKey()
	data := string(sig.JSON())
	p.enqueue(publishJob{
		stream: streamKey,
		latest: "signal:" + model.Itoa(sig.TF) + "s:latest:" + sig.Symbol,
		pubsub: "pub:" + streamKey,
		maxLen: signalStreamMax,
		data:   data,
		mirror: true,
	})
	p.enqueue(publishJob{
		stream: "signals",
		pubsub: "pub:signals",
		data:   data,
		mirror: false,
	})
}

// streamMaxLen keeps roughly 3h of entries per stream regardless of
// timeframe.
func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return 200
	}
	maxLen := int64(10800/tf) + 100
	if maxLen < 200 {
		maxLen = 200
	}
	return maxLen
}

// Published returns the number of successfully executed pipeline writes.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Dropped returns the number of writes lost to queue overflow or an open
// circuit.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

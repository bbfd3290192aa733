// Package bus broadcasts closed candles from the aggregator to the
// pipeline consumers (engine workers, SQLite writer, Redis mirror).
package bus

import (
	"context"
	"log"
	"sync"

	"divergence-monitor/internal/model"
)

// FanOut broadcasts candles from a single input channel to N named output
// channels. If an output channel is full, the candle is dropped for that
// consumer so a slow mirror never blocks the close path.
type FanOut struct {
	mu      sync.RWMutex
	names   []string
	outputs []chan model.Candle
	bufSize int

	// OnDrop is called with the slow consumer's name when a candle is
	// dropped for it.
	OnDrop func(name string)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new named output channel.
func (f *FanOut) Subscribe(name string) <-chan model.Candle {
	ch := make(chan model.Candle, f.bufSize)
	f.mu.Lock()
	f.names = append(f.names, name)
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed; output channels are
// closed on exit so consumers can drain and stop.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Candle) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- candle:
				default:
					if f.OnDrop != nil {
						f.OnDrop(f.names[i])
					} else {
						log.Printf("[bus] %s channel full, dropping candle %s", f.names[i], candle.Key())
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports saturation for one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns (length, capacity) per subscriber, for health
// reporting.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}

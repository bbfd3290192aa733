package bus

import (
	"context"
	"testing"
	"time"

	"divergence-monitor/internal/model"
)

func busCandle(symbol string, close float64) model.Candle {
	return model.Candle{
		Symbol:   symbol,
		TF:       600,
		OpenTime: time.Unix(1_700_000_400, 0).UTC(),
		Open:     close, High: close, Low: close, Close: close,
		Closed: true,
	}
}

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	engine := fo.Subscribe("engine")
	store := fo.Subscribe("sqlite")

	input := make(chan model.Candle, 10)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()

	input <- busCandle("SMCI", 50)
	close(input)
	<-done // outputs are closed, safe to drain

	c, ok := <-engine
	if !ok || c.Symbol != "SMCI" {
		t.Errorf("engine: got %+v ok=%v", c, ok)
	}
	c, ok = <-store
	if !ok || c.Symbol != "SMCI" {
		t.Errorf("sqlite: got %+v ok=%v", c, ok)
	}

	// Both channels are closed after Run returns.
	if _, ok := <-engine; ok {
		t.Error("engine channel should be closed")
	}
}

func TestFanOut_SlowConsumerDropped(t *testing.T) {
	fo := New(1) // room for exactly one candle per subscriber
	var droppedFor []string
	fo.OnDrop = func(name string) { droppedFor = append(droppedFor, name) }

	fast := fo.Subscribe("fast")
	fo.Subscribe("slow") // never drained

	input := make(chan model.Candle, 10)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()

	input <- busCandle("SMCI", 50)
	// Drain fast so its buffer has room again; slow stays full.
	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first candle")
	}
	input <- busCandle("SMCI", 51)
	close(input)
	<-done

	if len(droppedFor) != 1 || droppedFor[0] != "slow" {
		t.Errorf("droppedFor = %v, want [slow]", droppedFor)
	}
	// The fast consumer still received the second candle.
	if c := <-fast; c.Close != 51 {
		t.Errorf("fast got close=%v, want 51", c.Close)
	}
}

func TestFanOut_ChannelStats(t *testing.T) {
	fo := New(4)
	fo.Subscribe("engine")
	fo.Subscribe("sqlite")

	input := make(chan model.Candle, 10)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()

	input <- busCandle("SMCI", 50)
	input <- busCandle("SMCI", 51)
	close(input)
	<-done

	stats := fo.ChannelStats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 stats, got %d", len(stats))
	}
	for _, s := range stats {
		if s.Cap != 4 {
			t.Errorf("%s cap = %d, want 4", s.Name, s.Cap)
		}
		if s.Len != 2 {
			t.Errorf("%s len = %d, want 2", s.Name, s.Len)
		}
	}
	if stats[0].Name != "engine" || stats[1].Name != "sqlite" {
		t.Errorf("names = %s/%s", stats[0].Name, stats[1].Name)
	}
}

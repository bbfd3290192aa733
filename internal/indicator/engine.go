package indicator

import (
	"fmt"

	"divergence-monitor/internal/model"
)

// Params configures the indicator set computed for every symbol.
type Params struct {
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	KDJWindow  int
	KDJK       int
	KDJD       int
}

// DefaultParams returns the standard RSI(14), MACD(12,26,9), KDJ(9,3,3) set.
func DefaultParams() Params {
	return Params{
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		KDJWindow:  9,
		KDJK:       3,
		KDJD:       3,
	}
}

// Validate checks the parameter set for usable values.
func (p Params) Validate() error {
	for _, v := range []struct {
		name string
		val  int
	}{
		{"rsi period", p.RSIPeriod},
		{"macd fast", p.MACDFast},
		{"macd slow", p.MACDSlow},
		{"macd signal", p.MACDSignal},
		{"kdj window", p.KDJWindow},
		{"kdj k", p.KDJK},
		{"kdj d", p.KDJD},
	} {
		if v.val <= 0 {
			return fmt.Errorf("invalid %s=%d: must be positive", v.name, v.val)
		}
	}
	if p.MACDFast >= p.MACDSlow {
		return fmt.Errorf("macd fast period %d must be below slow period %d", p.MACDFast, p.MACDSlow)
	}
	return nil
}

// symbolState holds live indicator instances and the aligned frame series
// for one symbol.
type symbolState struct {
	rsi    *RSI
	macd   *MACD
	kdj    *KDJ
	frames []model.IndicatorFrame
	lastTS int64 // unix seconds of the last consumed close
}

// Engine computes one IndicatorFrame per closed candle for multiple symbols
// on a single timeframe. All candles for a symbol must arrive from one
// goroutine (the monitor routes per symbol), so no locks are needed.
type Engine struct {
	tf        int
	params    Params
	retention int // max frames retained per symbol (0 = unbounded)
	state     map[string]*symbolState
}

// NewEngine creates a frame engine for the given timeframe (seconds).
// retention bounds the in-memory frame series per symbol; 0 keeps all.
func NewEngine(tf int, params Params, retention int) *Engine {
	return &Engine{
		tf:        tf,
		params:    params,
		retention: retention,
		state:     make(map[string]*symbolState, 8),
	}
}

// OnClose consumes one closed candle and appends exactly one frame to the
// symbol's series. The frame is computed purely from state through this
// candle — no lookahead.
func (e *Engine) OnClose(c model.Candle) model.IndicatorFrame {
	st, ok := e.state[c.Symbol]
	if !ok {
		st = e.newSymbolState()
		e.state[c.Symbol] = st
	}

	st.rsi.Update(c)
	st.macd.Update(c)
	st.kdj.Update(c)
	st.lastTS = c.OpenTime.Unix()

	frame := model.IndicatorFrame{
		Symbol:     c.Symbol,
		TF:         e.tf,
		OpenTime:   c.OpenTime,
		RSI:        st.rsi.Value(),
		RSIReady:   st.rsi.Ready(),
		MACD:       st.macd.Line(),
		MACDSignal: st.macd.Signal(),
		MACDHist:   st.macd.Hist(),
		MACDReady:  st.macd.Ready(),
		K:          st.kdj.K(),
		D:          st.kdj.D(),
		J:          st.kdj.J(),
		KDJReady:   st.kdj.Ready(),
	}

	st.frames = append(st.frames, frame)
	if e.retention > 0 && len(st.frames) > e.retention {
		// Drop the oldest frame; copy keeps the backing array bounded.
		copy(st.frames, st.frames[1:])
		st.frames = st.frames[:len(st.frames)-1]
	}
	return frame
}

// PeekFrame computes the frame a forming candle would produce if it closed
// at its current price, without mutating state. Returns false for symbols
// that have not seen a closed candle yet.
func (e *Engine) PeekFrame(c model.Candle) (model.IndicatorFrame, bool) {
	st, ok := e.state[c.Symbol]
	if !ok {
		return model.IndicatorFrame{}, false
	}

	line, sig, hist := st.macd.PeekLines(c.Close)
	k, d, j := st.kdj.PeekLines(c.Close)
	return model.IndicatorFrame{
		Symbol:     c.Symbol,
		TF:         e.tf,
		OpenTime:   c.OpenTime,
		Forming:    true,
		RSI:        st.rsi.Peek(c.Close),
		RSIReady:   st.rsi.Ready(),
		MACD:       line,
		MACDSignal: sig,
		MACDHist:   hist,
		MACDReady:  st.macd.Ready(),
		K:          k,
		D:          d,
		J:          j,
		KDJReady:   st.kdj.Ready(),
	}, true
}

// Frames returns the retained aligned frame sequence for a symbol, oldest
// first. The slice is owned by the engine; callers must not mutate it.
func (e *Engine) Frames(symbol string) []model.IndicatorFrame {
	st, ok := e.state[symbol]
	if !ok {
		return nil
	}
	return st.frames
}

// Symbols returns every symbol the engine has state for.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.state))
	for sym := range e.state {
		out = append(out, sym)
	}
	return out
}

// TF returns the engine's timeframe in seconds.
func (e *Engine) TF() int { return e.tf }

// LastOpenTime returns the unix timestamp of the last close consumed for a
// symbol, or 0 if the symbol is unseen. Used to reconcile gaps on restore.
func (e *Engine) LastOpenTime(symbol string) int64 {
	st, ok := e.state[symbol]
	if !ok {
		return 0
	}
	return st.lastTS
}

func (e *Engine) newSymbolState() *symbolState {
	p := e.params
	return &symbolState{
		rsi:  NewRSI(p.RSIPeriod),
		macd: NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal),
		kdj:  NewKDJ(p.KDJWindow, p.KDJK, p.KDJD),
	}
}

package player

import "sync"

// EventType 适配器上报的归一化事件类型
type EventType int

const (
	EventReady    EventType = iota // 已可播放，Duration 可能为 0
	EventProgress                  // 播放位置更新
	EventEnded                     // 播放结束
	EventError                     // 加载或播放失败
	EventBlocked                   // play() 被自动播放策略拒绝
	eventStalled                   // 加载超时，仅由编排器内部产生
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventProgress:
		return "progress"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	case EventBlocked:
		return "blocked"
	case eventStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Event is emitted by an adapter. Gen is the generation passed to the Load
// call the event belongs to.
type Event struct {
	Gen      uint64
	Type     EventType
	Position float64
	Duration float64
	Reason   string
}

// EventSink receives adapter events. It must not block.
type EventSink func(Event)

// Adapter is the uniform control surface over one player technology.
// Expected failures are reported as events, never returned.
type Adapter interface {
	Attach(sink EventSink)
	Load(gen uint64, ref string)
	Play()
	Pause()
	Seek(seconds float64)
	SetVolume(v float64)
	SetMuted(muted bool)
	Close()
}

// EmbedAdapter is an Adapter whose handle can be shown or hidden without
// being recreated.
type EmbedAdapter interface {
	Adapter
	SetVisible(visible bool)
}

// emitter holds the sink separately from adapter state so handle callbacks
// can emit while the adapter is locked.
type emitter struct {
	mu   sync.RWMutex
	sink EventSink
}

func (e *emitter) Attach(sink EventSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	sink := e.sink
	e.mu.RUnlock()
	if sink != nil {
		sink(ev)
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

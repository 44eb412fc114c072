package player

import (
	"fmt"
	"sync"

	"CadenceFM/logger"
)

// MediaElement is one mounted native media element bound to a single source.
// Play is asynchronous; a rejection is reported through MediaPlayRejected.
type MediaElement interface {
	Play()
	Pause()
	Seek(seconds float64)
	SetVolume(v float64)
	SetMuted(muted bool)
	Destroy()
}

// MediaListener receives the element's native callbacks.
type MediaListener interface {
	MediaReady(duration float64)
	MediaTimeUpdate(position float64)
	MediaEnded()
	MediaError(reason string)
	MediaPlayRejected(reason string)
}

// MediaElementFactory mounts a fresh element for src.
type MediaElementFactory interface {
	NewMediaElement(src string, listener MediaListener) (MediaElement, error)
}

// NativeAdapter drives a native media element. Every Load mounts a new
// element; the previous one is destroyed first.
type NativeAdapter struct {
	emitter

	factory MediaElementFactory

	mu     sync.Mutex
	el     MediaElement
	volume float64
	muted  bool
	closed bool
}

func NewNativeAdapter(factory MediaElementFactory) *NativeAdapter {
	return &NativeAdapter{factory: factory, volume: 1}
}

func (a *NativeAdapter) Load(gen uint64, ref string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if a.el != nil {
		a.el.Destroy()
		a.el = nil
	}
	el, err := a.factory.NewMediaElement(ref, &nativeListener{a: a, gen: gen})
	if err != nil {
		logger.Warn("[Native] 创建媒体元素失败", logger.Uint64("gen", gen), logger.ErrorField(err))
		a.emit(Event{Gen: gen, Type: EventError, Reason: fmt.Sprintf("media element: %v", err)})
		return
	}
	// 新元素继承当前音量，避免平台默认值造成突变
	el.SetVolume(a.volume)
	el.SetMuted(a.muted)
	a.el = el
}

func (a *NativeAdapter) Play() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.el != nil {
		a.el.Play()
	}
}

func (a *NativeAdapter) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.el != nil {
		a.el.Pause()
	}
}

func (a *NativeAdapter) Seek(seconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.el != nil {
		a.el.Seek(seconds)
	}
}

func (a *NativeAdapter) SetVolume(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.volume = clampUnit(v)
	if a.el != nil {
		a.el.SetVolume(a.volume)
	}
}

func (a *NativeAdapter) SetMuted(muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = muted
	if a.el != nil {
		a.el.SetMuted(muted)
	}
}

func (a *NativeAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.el != nil {
		a.el.Destroy()
		a.el = nil
	}
	a.closed = true
}

// nativeListener tags callbacks of one element with the generation it was
// mounted for.
type nativeListener struct {
	a   *NativeAdapter
	gen uint64
}

func (l *nativeListener) MediaReady(duration float64) {
	l.a.emit(Event{Gen: l.gen, Type: EventReady, Duration: duration})
}

func (l *nativeListener) MediaTimeUpdate(position float64) {
	l.a.emit(Event{Gen: l.gen, Type: EventProgress, Position: position})
}

func (l *nativeListener) MediaEnded() {
	l.a.emit(Event{Gen: l.gen, Type: EventEnded})
}

func (l *nativeListener) MediaError(reason string) {
	l.a.emit(Event{Gen: l.gen, Type: EventError, Reason: reason})
}

func (l *nativeListener) MediaPlayRejected(reason string) {
	logger.Debug("[Native] play 被拒绝", logger.Uint64("gen", l.gen), logger.String("reason", reason))
	l.a.emit(Event{Gen: l.gen, Type: EventBlocked, Reason: reason})
}

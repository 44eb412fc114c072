package player

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"CadenceFM/logger"
)

// EmbedState mirrors the embeddable platform's player lifecycle.
type EmbedState int

const (
	EmbedUninitialized EmbedState = iota
	EmbedInitializing
	EmbedReady
	EmbedCued
	EmbedBuffering
	EmbedPlaying
	EmbedPaused
	EmbedEnded
	EmbedFailed
)

var embedStateNames = map[EmbedState]string{
	EmbedUninitialized: "uninitialized",
	EmbedInitializing:  "initializing",
	EmbedReady:         "ready",
	EmbedCued:          "cued",
	EmbedBuffering:     "buffering",
	EmbedPlaying:       "playing",
	EmbedPaused:        "paused",
	EmbedEnded:         "ended",
	EmbedFailed:        "failed",
}

func (s EmbedState) String() string {
	if name, ok := embedStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseEmbedState maps a platform state name to an EmbedState. The
// platform's "unstarted" is reported as EmbedReady.
func ParseEmbedState(name string) (EmbedState, bool) {
	switch strings.ToLower(name) {
	case "unstarted", "ready":
		return EmbedReady, true
	case "cued":
		return EmbedCued, true
	case "buffering":
		return EmbedBuffering, true
	case "playing":
		return EmbedPlaying, true
	case "paused":
		return EmbedPaused, true
	case "ended":
		return EmbedEnded, true
	}
	return 0, false
}

// EmbedPlayer is a live embedded player handle. Implementations must be safe
// for concurrent use and must not invoke EmbedCallbacks from inside these
// methods.
type EmbedPlayer interface {
	CueVideo(videoID string)
	PlayVideo()
	PauseVideo()
	SeekTo(seconds float64)
	SetVolume(percent int)
	Mute()
	Unmute()
	SetVisible(visible bool)
	CurrentTime() float64
	Duration() float64
	Destroy()
}

// EmbedCallbacks are registered once per bootstrap attempt.
type EmbedCallbacks struct {
	Ready       func(EmbedPlayer)
	StateChange func(EmbedState)
	Error       func(reason string)
	Failed      func(err error)
}

// EmbedPlatform loads the platform script and constructs the player.
// Completion is signalled through Ready or Failed, never a return value.
type EmbedPlatform interface {
	Bootstrap(cb EmbedCallbacks)
}

const maxBootstrapRetries = 1

// DefaultEmbedPollInterval is the position sampling period while playing.
const DefaultEmbedPollInterval = 250 * time.Millisecond

// EmbeddedAdapter drives one long-lived embedded player. The handle is
// created on first Load and reused for every later one.
type EmbeddedAdapter struct {
	emitter

	platform EmbedPlatform
	interval time.Duration

	mu          sync.Mutex
	state       EmbedState
	handle      EmbedPlayer
	gen         uint64
	boot        uint64 // 当前 bootstrap 尝试编号
	attempts    int
	pendingRef  string
	awaitingCue bool
	queued      []func(EmbedPlayer)
	volume      float64
	muted       bool
	visible     bool
	closed      bool

	pollStop chan struct{}
	pollWG   sync.WaitGroup
}

func NewEmbeddedAdapter(platform EmbedPlatform, pollInterval time.Duration) *EmbeddedAdapter {
	if pollInterval <= 0 {
		pollInterval = DefaultEmbedPollInterval
	}
	return &EmbeddedAdapter{platform: platform, interval: pollInterval, volume: 1}
}

// State returns the adapter's current lifecycle state.
func (a *EmbeddedAdapter) State() EmbedState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *EmbeddedAdapter) Load(gen uint64, ref string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.gen = gen
	a.stopPoll()
	a.queued = nil

	var boot uint64
	switch a.state {
	case EmbedUninitialized, EmbedFailed:
		a.pendingRef = ref
		a.attempts = 0
		a.boot++
		boot = a.boot
		a.state = EmbedInitializing
	case EmbedInitializing:
		// 最新的 load 覆盖等待中的引用
		a.pendingRef = ref
	default:
		a.pendingRef = ""
		a.awaitingCue = true
		a.state = EmbedReady
		a.handle.CueVideo(ref)
	}
	a.mu.Unlock()

	if boot != 0 {
		a.bootstrap(boot)
	}
}

func (a *EmbeddedAdapter) bootstrap(boot uint64) {
	logger.Debug("[Embed] 加载播放器脚本", logger.Uint64("attempt", boot))
	a.platform.Bootstrap(EmbedCallbacks{
		Ready:       func(p EmbedPlayer) { a.onReady(boot, p) },
		StateChange: func(s EmbedState) { a.onStateChange(boot, s) },
		Error:       func(reason string) { a.onError(boot, reason) },
		Failed:      func(err error) { a.onFailed(boot, err) },
	})
}

func (a *EmbeddedAdapter) onReady(boot uint64, p EmbedPlayer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || boot != a.boot || a.handle != nil {
		p.Destroy()
		return
	}

	a.handle = p
	a.state = EmbedReady
	p.SetVolume(volumePercent(a.volume))
	if a.muted {
		p.Mute()
	} else {
		p.Unmute()
	}
	p.SetVisible(a.visible)

	if a.pendingRef != "" {
		p.CueVideo(a.pendingRef)
		a.pendingRef = ""
		a.awaitingCue = true
	}
	// Ready 之前收到的 play/pause/seek 按顺序补发
	for _, cmd := range a.queued {
		cmd(p)
	}
	a.queued = nil
}

func (a *EmbeddedAdapter) onFailed(boot uint64, err error) {
	a.mu.Lock()
	if a.closed || boot != a.boot || a.handle != nil {
		a.mu.Unlock()
		return
	}

	a.attempts++
	if a.attempts <= maxBootstrapRetries {
		a.boot++
		next := a.boot
		a.mu.Unlock()
		logger.Warn("[Embed] 播放器初始化失败，重试", logger.ErrorField(err))
		a.bootstrap(next)
		return
	}

	a.state = EmbedFailed
	a.pendingRef = ""
	a.queued = nil
	gen := a.gen
	a.mu.Unlock()

	logger.Error("[Embed] 播放器初始化失败", logger.ErrorField(err))
	a.emit(Event{Gen: gen, Type: EventError, Reason: fmt.Sprintf("embed bootstrap: %v", err)})
}

func (a *EmbeddedAdapter) onStateChange(boot uint64, s EmbedState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || boot != a.boot || a.handle == nil {
		return
	}

	// 每次 Load 都会 CueVideo，新内容必然先报告 cued；
	// 在此之前收到的任何状态（包括 playing）都属于旧内容
	if a.awaitingCue {
		if s != EmbedCued {
			return
		}
		a.awaitingCue = false
		a.emit(Event{Gen: a.gen, Type: EventReady, Duration: a.handle.Duration()})
	}

	a.state = s
	switch s {
	case EmbedPlaying:
		a.startPoll()
	case EmbedEnded:
		a.stopPoll()
		d := a.handle.Duration()
		a.emit(Event{Gen: a.gen, Type: EventProgress, Position: d, Duration: d})
		a.emit(Event{Gen: a.gen, Type: EventEnded})
	default:
		a.stopPoll()
	}
}

func (a *EmbeddedAdapter) onError(boot uint64, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || boot != a.boot {
		return
	}
	a.stopPoll()
	a.awaitingCue = false
	if a.handle != nil {
		a.state = EmbedReady
	}
	a.emit(Event{Gen: a.gen, Type: EventError, Reason: reason})
}

// startPoll must be called with mu held.
func (a *EmbeddedAdapter) startPoll() {
	if a.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	a.pollStop = stop
	h, gen, interval := a.handle, a.gen, a.interval

	a.pollWG.Add(1)
	go func() {
		defer a.pollWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				pos, d := h.CurrentTime(), h.Duration()
				select {
				case <-stop:
					return
				default:
				}
				a.emit(Event{Gen: gen, Type: EventProgress, Position: pos, Duration: d})
			}
		}
	}()
}

// stopPoll must be called with mu held.
func (a *EmbeddedAdapter) stopPoll() {
	if a.pollStop != nil {
		close(a.pollStop)
		a.pollStop = nil
	}
}

// do runs cmd on the handle, or queues it while the platform is still
// bootstrapping.
func (a *EmbeddedAdapter) do(cmd func(EmbedPlayer)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
	case a.handle != nil:
		cmd(a.handle)
	case a.state == EmbedInitializing:
		a.queued = append(a.queued, cmd)
	}
}

func (a *EmbeddedAdapter) Play() { a.do(func(p EmbedPlayer) { p.PlayVideo() }) }
func (a *EmbeddedAdapter) Pause() { a.do(func(p EmbedPlayer) { p.PauseVideo() }) }
func (a *EmbeddedAdapter) Seek(seconds float64) { a.do(func(p EmbedPlayer) { p.SeekTo(seconds) }) }

func (a *EmbeddedAdapter) SetVolume(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.volume = clampUnit(v)
	if a.handle != nil {
		a.handle.SetVolume(volumePercent(a.volume))
	}
}

func (a *EmbeddedAdapter) SetMuted(muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = muted
	if a.handle == nil {
		return
	}
	if muted {
		a.handle.Mute()
	} else {
		a.handle.Unmute()
	}
}

// SetVisible shows or hides the player's container. The handle is kept.
func (a *EmbeddedAdapter) SetVisible(visible bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.visible = visible
	if a.handle != nil {
		a.handle.SetVisible(visible)
	}
}

func (a *EmbeddedAdapter) Close() {
	a.mu.Lock()
	a.closed = true
	a.stopPoll()
	if a.handle != nil {
		a.handle.Destroy()
		a.handle = nil
	}
	a.queued = nil
	a.state = EmbedUninitialized
	a.mu.Unlock()

	a.pollWG.Wait()
}

func volumePercent(v float64) int {
	return int(math.Round(clampUnit(v) * 100))
}

package player

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/samber/lo"

	"CadenceFM/logger"
	"CadenceFM/model"
)

// Status 统一播放状态
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

// ActiveKind 当前负责输出的适配器
type ActiveKind string

const (
	ActiveNone            ActiveKind = "none"
	ActiveNative          ActiveKind = "native"
	ActiveEmbeddedHidden  ActiveKind = "embedded-hidden"
	ActiveEmbeddedVisible ActiveKind = "embedded-visible"
)

// NoIndex marks a load that does not move the queue cursor.
const NoIndex = -1

const DefaultLoadTimeout = 8 * time.Second

const (
	// 定位后，与目标相差在此范围内的进度视为定位完成
	seekTolerance = 1.5
	// 定位后超过此时间仍未确认，则接受任意进度
	seekExpiry = 2 * time.Second
	// 小于此幅度的回退视为抖动并丢弃，更大的回退视为外部定位
	regressionTolerance = 2.0
)

var (
	ErrClosed          = errors.New("player closed")
	ErrNoTrack         = errors.New("no track")
	ErrIndexOutOfRange = errors.New("queue index out of range")
	ErrBadRepeatMode   = errors.New("unknown repeat mode")
)

// State is the unified playback snapshot the UI renders from. Slices and
// the track pointer are shared between readers and must not be modified.
//
// QueueIndex is the navigation cursor, not "now playing": after a failed
// load the status is Idle while QueueIndex still points at the failed entry,
// so the next skip continues after it. Use Track and Status to tell what is
// playing.
type State struct {
	Status        Status       `json:"status"`
	Track         *model.Track `json:"track"`
	IsPlaying     bool         `json:"isPlaying"`
	Position      float64      `json:"position"`
	Duration      float64      `json:"duration"`
	Volume        float64      `json:"volume"`
	Muted         bool         `json:"muted"`
	Shuffle       bool         `json:"shuffle"`
	Repeat        RepeatMode   `json:"repeat"`
	Active        ActiveKind   `json:"activeAdapter"`
	VideoVisible  bool         `json:"videoVisible"`
	QueueIndex    int          `json:"queueIndex"`
	QueueTrackIDs []int64      `json:"queueTrackIds"`
	Generation    uint64       `json:"generation"`
}

// NotificationKind 一次性提示的类型
type NotificationKind string

const (
	NotifyUnresolvable NotificationKind = "unresolvable"
	NotifyLoadFailed   NotificationKind = "load_failed"
	NotifyStalled      NotificationKind = "stalled"
)

// Notification is a transient, dismissible failure report.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	TrackID int64            `json:"trackId"`
	Message string           `json:"message"`
}

// Update is delivered to subscribers after every state change.
type Update struct {
	State        State
	Notification *Notification
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	Assets      AssetResolver
	LoadTimeout time.Duration
	Rand        func(n int) int
	Now         func() time.Time
}

type request struct {
	fn   func() error
	done chan error
}

// Orchestrator owns the unified playback state. All intents and adapter
// events are serialized through a single event loop goroutine; every load
// bumps a generation counter and events tagged with an older one are dropped.
type Orchestrator struct {
	native   Adapter
	embedded EmbedAdapter

	assets      AssetResolver
	loadTimeout time.Duration
	intn        func(int) int
	now         func() time.Time

	requests chan request
	signal   chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	mbMu    sync.Mutex
	mailbox []Event

	// 以下字段只在事件循环中访问
	st         State
	queue      []*model.Track
	gen        uint64
	active     Adapter
	activeKind Kind
	userPaused bool
	startAt    float64
	seeking    bool
	seekTarget float64
	seekAt     time.Time
	stall      *time.Timer

	pubMu     sync.RWMutex
	published State
	subs      map[int]chan Update
	nextSub   int
}

// New starts an orchestrator over the two adapters.
func New(native Adapter, embedded EmbedAdapter, opts Options) *Orchestrator {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.Rand == nil {
		opts.Rand = rand.Intn
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	o := &Orchestrator{
		native:      native,
		embedded:    embedded,
		assets:      opts.Assets,
		loadTimeout: opts.LoadTimeout,
		intn:        opts.Rand,
		now:         opts.Now,
		requests:    make(chan request),
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		subs:        make(map[int]chan Update),
		st: State{
			Status:     StatusIdle,
			Volume:     1,
			Repeat:     RepeatOff,
			Active:     ActiveNone,
			QueueIndex: -1,
		},
	}
	o.published = o.st

	native.Attach(o.deliver)
	embedded.Attach(o.deliver)

	go o.run()
	return o
}

// deliver is the adapters' sink. It never blocks.
func (o *Orchestrator) deliver(ev Event) {
	select {
	case <-o.done:
		return
	default:
	}
	o.mbMu.Lock()
	o.mailbox = append(o.mailbox, ev)
	o.mbMu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) run() {
	defer close(o.stopped)
	for {
		select {
		case req := <-o.requests:
			// 先处理已到达的适配器事件，保证意图基于最新状态
			o.drain()
			req.done <- req.fn()
		case <-o.signal:
			o.drain()
		case <-o.done:
			o.shutdown()
			return
		}
	}
}

func (o *Orchestrator) drain() {
	o.mbMu.Lock()
	events := o.mailbox
	o.mailbox = nil
	o.mbMu.Unlock()

	for _, ev := range events {
		o.handleEvent(ev)
	}
}

func (o *Orchestrator) shutdown() {
	o.stopStall()
	o.native.Close()
	o.embedded.Close()

	o.pubMu.Lock()
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.pubMu.Unlock()
}

func (o *Orchestrator) do(fn func() error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case o.requests <- req:
	case <-o.done:
		return ErrClosed
	}
	return <-req.done
}

// Close stops the event loop and releases both adapters.
func (o *Orchestrator) Close() {
	o.once.Do(func() { close(o.done) })
	<-o.stopped
}

// Subscribe returns a channel of state updates and a function that cancels
// the subscription. Slow readers miss intermediate updates.
func (o *Orchestrator) Subscribe() (<-chan Update, func()) {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()

	ch := make(chan Update, 32)
	select {
	case <-o.done:
		close(ch)
		return ch, func() {}
	default:
	}

	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	return ch, func() {
		o.pubMu.Lock()
		defer o.pubMu.Unlock()
		if c, ok := o.subs[id]; ok {
			close(c)
			delete(o.subs, id)
		}
	}
}

// Snapshot returns the current state after applying every adapter event
// delivered so far. After Close it returns the last published state.
func (o *Orchestrator) Snapshot() State {
	var s State
	if err := o.do(func() error { s = o.snapshot(); return nil }); err != nil {
		o.pubMu.RLock()
		defer o.pubMu.RUnlock()
		return o.published
	}
	return s
}

func (o *Orchestrator) snapshot() State {
	s := o.st
	if s.Track != nil {
		t := *s.Track
		s.Track = &t
	}
	s.QueueTrackIDs = lo.Map(o.queue, func(t *model.Track, _ int) int64 { return t.ID })
	s.Generation = o.gen
	return s
}

func (o *Orchestrator) publish(n *Notification) {
	snap := o.snapshot()

	o.pubMu.Lock()
	defer o.pubMu.Unlock()
	o.published = snap
	for _, ch := range o.subs {
		select {
		case ch <- Update{State: snap, Notification: n}:
		default:
			logger.Debug("[Player] 订阅者过慢，丢弃状态更新", logger.Uint64("gen", snap.Generation))
		}
	}
}

// ---- intents ----

// LoadAndPlay switches playback to t. index moves the queue cursor unless it
// is NoIndex.
func (o *Orchestrator) LoadAndPlay(t *model.Track, index int) error {
	return o.do(func() error { return o.load(t, index, true, 0) })
}

// Restore loads t paused at position without starting output.
func (o *Orchestrator) Restore(t *model.Track, index int, position float64) error {
	return o.do(func() error { return o.load(t, index, false, position) })
}

// PlayIndex plays the queue entry at index.
func (o *Orchestrator) PlayIndex(index int) error {
	return o.do(func() error {
		if index < 0 || index >= len(o.queue) {
			return ErrIndexOutOfRange
		}
		return o.load(o.queue[index], index, true, 0)
	})
}

func (o *Orchestrator) TogglePlayPause() error {
	return o.do(func() error {
		o.togglePlayPause()
		return nil
	})
}

func (o *Orchestrator) Seek(seconds float64) error {
	return o.do(func() error {
		o.seek(seconds)
		return nil
	})
}

func (o *Orchestrator) SetVolume(v float64) error {
	return o.do(func() error {
		o.st.Volume = clampUnit(v)
		if o.active != nil {
			o.active.SetVolume(o.st.Volume)
		}
		o.publish(nil)
		return nil
	})
}

func (o *Orchestrator) ToggleMute() error {
	return o.do(func() error {
		o.st.Muted = !o.st.Muted
		if o.active != nil {
			o.active.SetMuted(o.st.Muted)
		}
		o.publish(nil)
		return nil
	})
}

// SkipNext advances manually. Repeat-track does not pin a manual skip; at
// the end of the queue with repeat off it does nothing.
func (o *Orchestrator) SkipNext() error {
	return o.do(func() error {
		n := len(o.queue)
		if n == 0 {
			return nil
		}
		mode := o.st.Repeat
		if mode == RepeatTrack {
			mode = RepeatQueue
		}
		idx := nextIndex(n, o.st.QueueIndex, o.st.Shuffle, mode, o.intn)
		if idx < 0 {
			return nil
		}
		return o.load(o.queue[idx], idx, true, 0)
	})
}

// SkipPrevious retreats the cursor. When the cursor cannot move it restarts
// the current track.
func (o *Orchestrator) SkipPrevious() error {
	return o.do(func() error {
		cur := o.st.QueueIndex
		idx := previousIndex(len(o.queue), cur, o.st.Repeat)
		if idx < 0 {
			return nil
		}
		if idx == cur && o.st.Track != nil {
			o.seek(0)
			return nil
		}
		return o.load(o.queue[idx], idx, true, 0)
	})
}

func (o *Orchestrator) ToggleShuffle() error {
	return o.do(func() error {
		o.st.Shuffle = !o.st.Shuffle
		o.publish(nil)
		return nil
	})
}

func (o *Orchestrator) SetShuffle(on bool) error {
	return o.do(func() error {
		o.st.Shuffle = on
		o.publish(nil)
		return nil
	})
}

// CycleRepeatMode steps off -> queue -> track -> off.
func (o *Orchestrator) CycleRepeatMode() error {
	return o.do(func() error {
		o.st.Repeat = o.st.Repeat.Next()
		o.publish(nil)
		return nil
	})
}

func (o *Orchestrator) SetRepeatMode(mode RepeatMode) error {
	if !mode.Valid() {
		return ErrBadRepeatMode
	}
	return o.do(func() error {
		o.st.Repeat = mode
		o.publish(nil)
		return nil
	})
}

// SetQueue replaces the queue. The cursor follows the current track if it
// is still present, otherwise it becomes -1.
func (o *Orchestrator) SetQueue(tracks []*model.Track) error {
	q := lo.FilterMap(tracks, func(t *model.Track, _ int) (*model.Track, bool) {
		if t == nil {
			return nil, false
		}
		c := *t
		return &c, true
	})
	return o.do(func() error {
		o.queue = q
		cursor := -1
		if cur := o.st.Track; cur != nil {
			if i := o.st.QueueIndex; i >= 0 && i < len(q) && q[i].ID == cur.ID {
				cursor = i
			} else if _, i, ok := lo.FindIndexOf(q, func(t *model.Track) bool { return t.ID == cur.ID }); ok {
				cursor = i
			}
		}
		o.st.QueueIndex = cursor
		o.publish(nil)
		return nil
	})
}

// ToggleVideoViewerVisibility shows or hides the embedded player without
// recreating it. Showing it re-syncs the position.
func (o *Orchestrator) ToggleVideoViewerVisibility() error {
	return o.do(func() error {
		o.st.VideoVisible = !o.st.VideoVisible
		o.embedded.SetVisible(o.st.VideoVisible)
		if o.activeKind == KindEmbedded {
			o.st.Active = o.kindToActive(KindEmbedded)
			if o.st.VideoVisible && (o.st.Status == StatusPlaying || o.st.Status == StatusPaused) {
				o.embedded.Seek(o.st.Position)
				o.beginSeek(o.st.Position)
			}
		}
		o.publish(nil)
		return nil
	})
}

// ---- event loop internals ----

func (o *Orchestrator) adapterFor(k Kind) Adapter {
	if k == KindEmbedded {
		return o.embedded
	}
	return o.native
}

func (o *Orchestrator) kindToActive(k Kind) ActiveKind {
	switch k {
	case KindNative:
		return ActiveNative
	case KindEmbedded:
		if o.st.VideoVisible {
			return ActiveEmbeddedVisible
		}
		return ActiveEmbeddedHidden
	}
	return ActiveNone
}

func (o *Orchestrator) load(t *model.Track, index int, play bool, startAt float64) error {
	if t == nil {
		return ErrNoTrack
	}
	if index != NoIndex && (index < 0 || index >= len(o.queue)) {
		return ErrIndexOutOfRange
	}

	res, err := Resolve(t, o.assets)
	if err != nil {
		logger.Warn("[Player] 无法解析音源", logger.Int64("trackId", t.ID), logger.ErrorField(err))
		o.toIdle(true)
		if index != NoIndex {
			o.st.QueueIndex = index
		}
		o.publish(&Notification{Kind: NotifyUnresolvable, TrackID: t.ID, Message: "cannot play this track"})
		return err
	}

	o.gen++
	o.stopStall()
	o.seeking = false

	// 先暂停旧的输出，再激活新的适配器
	if o.active != nil {
		o.active.Pause()
	}
	next := o.adapterFor(res.Kind)
	o.active = next
	o.activeKind = res.Kind
	next.SetVolume(o.st.Volume)
	next.SetMuted(o.st.Muted)
	if res.Kind == KindEmbedded {
		o.embedded.SetVisible(o.st.VideoVisible)
	}

	c := *t
	o.st.Track = &c
	o.st.Status = StatusLoading
	o.st.IsPlaying = play
	o.userPaused = !play
	o.st.Duration = 0
	o.startAt = math.Max(startAt, 0)
	o.st.Position = o.startAt
	o.st.Active = o.kindToActive(res.Kind)
	if index != NoIndex {
		o.st.QueueIndex = index
	}

	logger.Debug("[Player] 加载曲目",
		logger.Int64("trackId", t.ID),
		logger.String("kind", string(res.Kind)),
		logger.Uint64("gen", o.gen))

	next.Load(o.gen, res.Ref)
	o.startStall()
	o.publish(nil)
	return nil
}

// toIdle clears the active track. pause=false skips the pause command when
// the adapter has already stopped on its own.
func (o *Orchestrator) toIdle(pause bool) {
	o.gen++
	o.stopStall()
	if pause && o.active != nil {
		o.active.Pause()
	}
	o.active = nil
	o.activeKind = ""
	o.userPaused = false
	o.startAt = 0
	o.seeking = false

	o.st.Status = StatusIdle
	o.st.Track = nil
	o.st.IsPlaying = false
	o.st.Position = 0
	o.st.Duration = 0
	o.st.QueueIndex = -1
	o.st.Active = ActiveNone
}

func (o *Orchestrator) togglePlayPause() {
	if o.st.Track == nil {
		return
	}
	switch o.st.Status {
	case StatusLoading:
		// 尚未 ready，只翻转意图，ready 时再决定是否播放
		o.st.IsPlaying = !o.st.IsPlaying
		o.userPaused = !o.st.IsPlaying
	case StatusPlaying:
		o.active.Pause()
		o.st.IsPlaying = false
		o.st.Status = StatusPaused
		o.userPaused = true
	case StatusPaused:
		o.active.Play()
		o.st.IsPlaying = true
		o.st.Status = StatusPlaying
		o.userPaused = false
	}
	o.publish(nil)
}

func (o *Orchestrator) seek(seconds float64) {
	if o.st.Track == nil {
		return
	}
	s := math.Max(seconds, 0)
	if o.st.Duration > 0 && s > o.st.Duration {
		s = o.st.Duration
	}

	if o.st.Status == StatusLoading {
		o.startAt = s
		o.st.Position = s
		o.publish(nil)
		return
	}

	o.active.Seek(s)
	o.st.Position = s
	o.beginSeek(s)
	if !o.userPaused && o.st.Status == StatusPaused {
		o.active.Play()
		o.st.Status = StatusPlaying
		o.st.IsPlaying = true
	}
	o.publish(nil)
}

func (o *Orchestrator) beginSeek(target float64) {
	o.seeking = true
	o.seekTarget = target
	o.seekAt = o.now()
}

func (o *Orchestrator) startStall() {
	gen := o.gen
	o.stall = time.AfterFunc(o.loadTimeout, func() {
		o.deliver(Event{Gen: gen, Type: eventStalled})
	})
}

func (o *Orchestrator) stopStall() {
	if o.stall != nil {
		o.stall.Stop()
		o.stall = nil
	}
}

func (o *Orchestrator) handleEvent(ev Event) {
	if ev.Gen != o.gen || o.st.Status == StatusIdle {
		logger.Debug("[Player] 丢弃过期事件",
			logger.String("type", ev.Type.String()),
			logger.Uint64("eventGen", ev.Gen),
			logger.Uint64("gen", o.gen))
		return
	}

	switch ev.Type {
	case EventReady:
		o.onReady(ev)
	case EventProgress:
		o.onProgress(ev)
	case EventEnded:
		o.onEnded()
	case EventError:
		o.onError(ev)
	case EventBlocked:
		// 自动播放被拒绝不是错误，只回到可播放状态
		o.st.IsPlaying = false
		if o.st.Status == StatusPlaying {
			o.st.Status = StatusPaused
		}
		o.publish(nil)
	case eventStalled:
		o.onStalled()
	}
}

func (o *Orchestrator) onReady(ev Event) {
	if ev.Duration > 0 {
		o.st.Duration = ev.Duration
	}
	if o.st.Status != StatusLoading {
		o.publish(nil)
		return
	}
	o.stopStall()

	if o.startAt > 0 {
		pos := o.startAt
		if o.st.Duration > 0 && pos > o.st.Duration {
			pos = o.st.Duration
		}
		o.active.Seek(pos)
		o.st.Position = pos
		o.beginSeek(pos)
		o.startAt = 0
	}

	if o.st.IsPlaying {
		o.st.Status = StatusPlaying
		o.active.Play()
	} else {
		o.st.Status = StatusPaused
	}
	o.publish(nil)
}

func (o *Orchestrator) onProgress(ev Event) {
	if ev.Duration > 0 {
		o.st.Duration = ev.Duration
	}
	if o.st.Status == StatusLoading {
		return
	}

	pos := math.Max(ev.Position, 0)
	if o.st.Duration > 0 && pos > o.st.Duration {
		pos = o.st.Duration
	}

	if o.seeking {
		if math.Abs(pos-o.seekTarget) > seekTolerance && o.now().Sub(o.seekAt) <= seekExpiry {
			return // 定位之前的采样
		}
		o.seeking = false
	} else if pos < o.st.Position && o.st.Position-pos < regressionTolerance {
		return
	}

	o.st.Position = pos
	o.publish(nil)
}

func (o *Orchestrator) onEnded() {
	if o.st.Repeat == RepeatTrack {
		// 原地重播，不重新加载
		o.active.Seek(0)
		o.active.Play()
		o.st.Position = 0
		o.beginSeek(0)
		o.st.IsPlaying = true
		o.st.Status = StatusPlaying
		o.userPaused = false
		o.publish(nil)
		return
	}

	// 游标为 -1 表示当前曲目不属于队列，单曲播完即停，不从队首开始
	n, cur := len(o.queue), o.st.QueueIndex
	if cur < 0 || n == 0 {
		o.toIdle(false)
		o.publish(nil)
		return
	}
	idx := nextIndex(n, cur, o.st.Shuffle, o.st.Repeat, o.intn)
	if idx < 0 || (idx == cur && o.st.Repeat == RepeatOff) {
		o.toIdle(false)
		o.publish(nil)
		return
	}
	// 不可解析时 load 已经回到 Idle 并发出提示
	_ = o.load(o.queue[idx], idx, true, 0)
}

func (o *Orchestrator) onError(ev Event) {
	o.stopStall()
	trackID := o.st.Track.ID
	logger.Warn("[Player] 播放失败",
		logger.Int64("trackId", trackID),
		logger.String("reason", ev.Reason),
		logger.String("status", string(o.st.Status)))

	if o.st.Status == StatusLoading {
		cursor := o.st.QueueIndex
		o.toIdle(true)
		o.st.QueueIndex = cursor
	} else {
		o.st.IsPlaying = false
		o.st.Status = StatusPaused
	}
	o.publish(&Notification{Kind: NotifyLoadFailed, TrackID: trackID, Message: ev.Reason})
}

func (o *Orchestrator) onStalled() {
	if o.st.Status != StatusLoading {
		return
	}
	trackID := o.st.Track.ID
	logger.Warn("[Player] 加载超时", logger.Int64("trackId", trackID), logger.Duration("timeout", o.loadTimeout))

	cursor := o.st.QueueIndex
	o.toIdle(true)
	o.st.QueueIndex = cursor
	o.publish(&Notification{Kind: NotifyStalled, TrackID: trackID, Message: "track took too long to load"})
}

package player

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"CadenceFM/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// opLog 记录所有适配器收到的命令，顺序即调用顺序
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
}

func (l *opLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *opLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

func (l *opLog) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ops) == 0 {
		return ""
	}
	return l.ops[len(l.ops)-1]
}

func (l *opLog) since(n int) []string {
	all := l.all()
	if n > len(all) {
		return nil
	}
	return all[n:]
}

func (l *opLog) count(prefix string) int {
	n := 0
	for _, op := range l.all() {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func (l *opLog) indexOf(op string) int {
	for i, o := range l.all() {
		if o == op {
			return i
		}
	}
	return -1
}

// fakeAdapter implements EmbedAdapter and records every command.
type fakeAdapter struct {
	name string
	log  *opLog

	mu   sync.Mutex
	sink EventSink
	gen  uint64
}

func (f *fakeAdapter) Attach(sink EventSink) {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
}

func (f *fakeAdapter) Load(gen uint64, ref string) {
	f.mu.Lock()
	f.gen = gen
	f.mu.Unlock()
	f.log.add("%s:load:%s", f.name, ref)
}

func (f *fakeAdapter) Play() { f.log.add("%s:play", f.name) }

func (f *fakeAdapter) Pause() { f.log.add("%s:pause", f.name) }

func (f *fakeAdapter) Seek(s float64) { f.log.add("%s:seek:%g", f.name, s) }

func (f *fakeAdapter) SetVolume(v float64) { f.log.add("%s:volume:%g", f.name, v) }

func (f *fakeAdapter) SetMuted(m bool) { f.log.add("%s:muted:%t", f.name, m) }

func (f *fakeAdapter) SetVisible(v bool) { f.log.add("%s:visible:%t", f.name, v) }

func (f *fakeAdapter) Close() { f.log.add("%s:close", f.name) }

func (f *fakeAdapter) lastGen() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

// emit tags ev with the generation of the latest Load.
func (f *fakeAdapter) emit(ev Event) {
	ev.Gen = f.lastGen()
	f.emitRaw(ev)
}

func (f *fakeAdapter) emitRaw(ev Event) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(ev)
}

func (f *fakeAdapter) ready(duration float64) {
	f.emit(Event{Type: EventReady, Duration: duration})
}

func (f *fakeAdapter) progress(pos float64) {
	f.emit(Event{Type: EventProgress, Position: pos})
}

func (f *fakeAdapter) ended() {
	f.emit(Event{Type: EventEnded})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	o      *Orchestrator
	native *fakeAdapter
	embed  *fakeAdapter
	log    *opLog
	clock  *fakeClock
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	log := &opLog{}
	h := &harness{
		native: &fakeAdapter{name: "native", log: log},
		embed:  &fakeAdapter{name: "embed", log: log},
		log:    log,
		clock:  &fakeClock{now: time.Unix(1700000000, 0)},
	}
	opts := Options{
		Assets:      testAssets,
		LoadTimeout: time.Minute,
		Now:         h.clock.Now,
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	h.o = New(h.native, h.embed, opts)
	t.Cleanup(h.o.Close)
	return h
}

// playing loads t and acknowledges readiness.
func (h *harness) playing(t *testing.T, tr *model.Track, index int, duration float64) State {
	t.Helper()
	require.NoError(t, h.o.LoadAndPlay(tr, index))
	res, err := Resolve(tr, testAssets)
	require.NoError(t, err)
	if res.Kind == KindEmbedded {
		h.embed.ready(duration)
	} else {
		h.native.ready(duration)
	}
	s := h.o.Snapshot()
	require.Equal(t, StatusPlaying, s.Status)
	return s
}

func waitNotification(t *testing.T, ch <-chan Update) *Notification {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "subscription closed")
			if u.Notification != nil {
				return u.Notification
			}
		case <-timeout:
			t.Fatal("no notification")
			return nil
		}
	}
}

var (
	localTrack  = &model.Track{ID: 1, Title: "Local", SourceKind: model.SourceLocal, FilePath: "audio/1/a.mp3"}
	remoteTrack = &model.Track{ID: 3, Title: "Remote", SourceKind: model.SourceURL, ExternalURL: "https://cdn.example.com/c.mp3"}
	videoTrack  = &model.Track{ID: 2, Title: "Video", SourceKind: model.SourceVideo, VideoRef: "https://youtu.be/dQw4w9WgXcQ"}
	brokenTrack = &model.Track{ID: 4, Title: "Broken", SourceKind: model.SourceVideo, VideoRef: "https://vimeo.com/1"}
)

const (
	localURL  = "https://assets.example.com/audio/1/a.mp3"
	remoteURL = "https://cdn.example.com/c.mp3"
	videoID   = "dQw4w9WgXcQ"
)

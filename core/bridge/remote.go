package bridge

import (
	"sync"

	"github.com/google/uuid"

	"CadenceFM/core/player"
	"CadenceFM/logger"
)

// NewMediaElement mounts a media element for src in the page.
func (c *Conn) NewMediaElement(src string, l player.MediaListener) (player.MediaElement, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	id := uuid.NewString()
	c.mu.Lock()
	c.media[id] = l
	c.mu.Unlock()

	if err := c.enqueue(&Message{Type: MsgTypeCommand, Target: TargetMedia, Handle: id, Op: OpMount, Data: mustRaw(CommandData{Src: src})}); err != nil {
		c.forgetMedia(id)
		return nil, err
	}
	return &remoteMedia{conn: c, id: id}, nil
}

// Bootstrap asks the page to load the embed script and construct a player.
// The outcome arrives as a ready or failed event for the new handle.
func (c *Conn) Bootstrap(cb player.EmbedCallbacks) {
	id := uuid.NewString()
	e := &embedEntry{cb: cb, handle: &remoteEmbed{conn: c, id: id}}
	c.mu.Lock()
	c.embeds[id] = e
	c.mu.Unlock()

	if err := c.enqueue(&Message{Type: MsgTypeCommand, Target: TargetEmbed, Handle: id, Op: OpBootstrap}); err != nil {
		c.forgetEmbed(id)
		logger.Warn("[Bridge] 无法创建播放器", logger.ErrorField(err))
		cb.Failed(err)
	}
}

func (c *Conn) forgetMedia(id string) {
	c.mu.Lock()
	delete(c.media, id)
	c.mu.Unlock()
}

func (c *Conn) forgetEmbed(id string) {
	c.mu.Lock()
	delete(c.embeds, id)
	c.mu.Unlock()
}

// HandleCount reports live remote handles.
func (c *Conn) HandleCount() (media, embeds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.media), len(c.embeds)
}

type remoteMedia struct {
	conn *Conn
	id   string
}

func (m *remoteMedia) Play() { m.conn.command(TargetMedia, m.id, OpPlay, nil) }

func (m *remoteMedia) Pause() { m.conn.command(TargetMedia, m.id, OpPause, nil) }

func (m *remoteMedia) Seek(seconds float64) {
	m.conn.command(TargetMedia, m.id, OpSeek, &CommandData{Seconds: &seconds})
}

func (m *remoteMedia) SetVolume(v float64) {
	m.conn.command(TargetMedia, m.id, OpVolume, &CommandData{Volume: &v})
}

func (m *remoteMedia) SetMuted(muted bool) {
	m.conn.command(TargetMedia, m.id, OpMuted, &CommandData{Muted: &muted})
}

func (m *remoteMedia) Destroy() {
	m.conn.forgetMedia(m.id)
	m.conn.command(TargetMedia, m.id, OpDestroy, nil)
}

// remoteEmbed caches the last position and duration reported by the page so
// the adapter's poller can read them synchronously.
type remoteEmbed struct {
	conn *Conn
	id   string

	mu       sync.Mutex
	position float64
	duration float64
}

func (e *remoteEmbed) observe(position, duration float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = position
	if duration > 0 {
		e.duration = duration
	}
}

func (e *remoteEmbed) observeDuration(duration float64) {
	e.mu.Lock()
	e.duration = duration
	e.mu.Unlock()
}

func (e *remoteEmbed) CueVideo(videoID string) {
	e.mu.Lock()
	e.position, e.duration = 0, 0
	e.mu.Unlock()
	e.conn.command(TargetEmbed, e.id, OpCue, &CommandData{VideoID: videoID})
}

func (e *remoteEmbed) PlayVideo() { e.conn.command(TargetEmbed, e.id, OpPlay, nil) }

func (e *remoteEmbed) PauseVideo() { e.conn.command(TargetEmbed, e.id, OpPause, nil) }

func (e *remoteEmbed) SeekTo(seconds float64) {
	e.conn.command(TargetEmbed, e.id, OpSeek, &CommandData{Seconds: &seconds})
}

func (e *remoteEmbed) SetVolume(percent int) {
	v := float64(percent)
	e.conn.command(TargetEmbed, e.id, OpVolume, &CommandData{Volume: &v})
}

func (e *remoteEmbed) Mute() {
	muted := true
	e.conn.command(TargetEmbed, e.id, OpMuted, &CommandData{Muted: &muted})
}

func (e *remoteEmbed) Unmute() {
	muted := false
	e.conn.command(TargetEmbed, e.id, OpMuted, &CommandData{Muted: &muted})
}

func (e *remoteEmbed) SetVisible(visible bool) {
	e.conn.command(TargetEmbed, e.id, OpVisible, &CommandData{Visible: &visible})
}

func (e *remoteEmbed) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *remoteEmbed) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *remoteEmbed) Destroy() {
	e.conn.forgetEmbed(e.id)
	e.conn.command(TargetEmbed, e.id, OpDestroy, nil)
}

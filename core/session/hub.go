package session

import (
	"context"
	"errors"
	"sync"

	"CadenceFM/core/bridge"
	"CadenceFM/logger"
)

var ErrHubStopped = errors.New("session hub stopped")

// Conn is a live browser connection a session can be served on.
type Conn interface {
	Transport
	SetIntentHandler(h bridge.IntentHandler)
	Run(ctx context.Context)
	Close()
}

type entry struct {
	userID  int64
	conn    Conn
	session *Session
	closed  chan struct{}
}

type registration struct {
	entry *entry
	reply chan *entry
}

// Hub keeps at most one live session per user. A new connection for a user
// replaces the old one, which is closed and persisted before the new session
// restores.
type Hub struct {
	deps Deps
	opts Options

	mu       sync.RWMutex
	sessions map[int64]*entry

	register   chan registration
	unregister chan *entry
	done       chan struct{}
	stopped    chan struct{}
	once       sync.Once
	serving    sync.WaitGroup
}

func NewHub(deps Deps, opts Options) *Hub {
	return &Hub{
		deps:       deps,
		opts:       opts,
		sessions:   make(map[int64]*entry),
		register:   make(chan registration),
		unregister: make(chan *entry),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Run 运行会话注册循环
func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case r := <-h.register:
			h.mu.Lock()
			old := h.sessions[r.entry.userID]
			h.sessions[r.entry.userID] = r.entry
			h.mu.Unlock()
			if old != nil {
				// 同一用户的新连接踢掉旧连接
				logger.Info("[Hub] 用户重复连接，关闭旧会话", logger.Int64("userID", old.userID))
				old.conn.Close()
			}
			r.reply <- old
			logger.Info("[Hub] 会话已注册", logger.Int64("userID", r.entry.userID), logger.Int("sessions", h.Count()))

		case e := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.sessions[e.userID]; ok && cur == e {
				delete(h.sessions, e.userID)
			}
			h.mu.Unlock()
			logger.Info("[Hub] 会话已注销", logger.Int64("userID", e.userID))

		case <-h.done:
			h.mu.Lock()
			for _, e := range h.sessions {
				e.conn.Close()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every connection, ends Run and waits until every session
// has written its final snapshot.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
	<-h.stopped
	// 之后进入 Serve 的调用都能看到 done
	h.mu.Lock()
	h.mu.Unlock()
	h.serving.Wait()
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Session returns the live session of userID, or nil.
func (h *Hub) Session(userID int64) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if e, ok := h.sessions[userID]; ok {
		return e.session
	}
	return nil
}

// Serve runs a session for userID on conn until the connection ends.
func (h *Hub) Serve(ctx context.Context, userID int64, conn Conn) error {
	if userID <= 0 {
		conn.Close()
		return ErrUnauthenticated
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		conn.Close()
		return ErrHubStopped
	default:
	}
	h.serving.Add(1)
	h.mu.Unlock()
	defer h.serving.Done()

	e := &entry{userID: userID, conn: conn, closed: make(chan struct{})}
	defer close(e.closed)

	reply := make(chan *entry, 1)
	select {
	case h.register <- registration{entry: e, reply: reply}:
	case <-h.done:
		conn.Close()
		return ErrHubStopped
	}
	if old := <-reply; old != nil {
		select {
		case <-old.closed:
		case <-ctx.Done():
			conn.Close()
			h.leave(e)
			return ctx.Err()
		}
	}

	s, err := New(userID, conn, h.deps, h.opts)
	if err != nil {
		conn.Close()
		h.leave(e)
		return err
	}
	h.mu.Lock()
	e.session = s
	h.mu.Unlock()

	conn.SetIntentHandler(s)
	if err := s.Restore(ctx); err != nil {
		logger.Warn("[Hub] 恢复播放快照失败", logger.Int64("userID", userID), logger.ErrorField(err))
	}

	conn.Run(ctx)
	s.Close()
	h.leave(e)
	return nil
}

func (h *Hub) leave(e *entry) {
	select {
	case h.unregister <- e:
	case <-h.done:
	}
}

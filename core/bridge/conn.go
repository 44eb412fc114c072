package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"CadenceFM/core/player"
	"CadenceFM/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var (
	ErrClosed       = errors.New("bridge closed")
	ErrSlowConsumer = errors.New("bridge send buffer full")
)

// Upgrader 升级 /ws/player 连接
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// IntentHandler executes a client intent. The returned value is sent back
// as the result payload.
type IntentHandler interface {
	HandleIntent(ctx context.Context, op string, data json.RawMessage) (interface{}, error)
}

// IntentHandlerFunc adapts a function to IntentHandler.
type IntentHandlerFunc func(ctx context.Context, op string, data json.RawMessage) (interface{}, error)

func (f IntentHandlerFunc) HandleIntent(ctx context.Context, op string, data json.RawMessage) (interface{}, error) {
	return f(ctx, op, data)
}

type embedEntry struct {
	cb     player.EmbedCallbacks
	handle *remoteEmbed
}

// Conn is one browser connection. It implements player.MediaElementFactory
// and player.EmbedPlatform: every element and embed it creates is a remote
// object in the page addressed by a handle id. Outgoing sends never block;
// a client that cannot keep up is disconnected.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	handler IntentHandler
	media   map[string]player.MediaListener
	embeds  map[string]*embedEntry
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		media:  make(map[string]player.MediaListener),
		embeds: make(map[string]*embedEntry),
	}
}

// SetIntentHandler must be called before Run.
func (c *Conn) SetIntentHandler(h IntentHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.media = make(map[string]player.MediaListener)
		c.embeds = make(map[string]*embedEntry)
		c.mu.Unlock()
	})
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Run pumps the connection until the client goes away or ctx is done.
func (c *Conn) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	c.readPump(ctx)
	c.Close()
	wg.Wait()
}

// Push sends a server-initiated message (state, notification).
func (c *Conn) Push(t MessageType, data interface{}) error {
	return c.enqueue(&Message{Type: t, Data: mustRaw(data)})
}

func (c *Conn) enqueue(msg *Message) error {
	if c.closed() {
		return ErrClosed
	}
	data, err := encode(msg)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		logger.Warn("[Bridge] 发送缓冲已满，断开连接", logger.String("type", string(msg.Type)))
		c.Close()
		return ErrSlowConsumer
	}
}

func (c *Conn) command(target, handle, op string, data *CommandData) {
	msg := &Message{Type: MsgTypeCommand, Target: target, Handle: handle, Op: op}
	if data != nil {
		msg.Data = mustRaw(data)
	}
	if err := c.enqueue(msg); err != nil {
		logger.Debug("[Bridge] 命令未发送", logger.String("op", op), logger.String("handle", handle), logger.ErrorField(err))
	}
}

func (c *Conn) readPump(ctx context.Context) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) && !c.closed() {
				logger.Warn("[Bridge] 读取消息失败", logger.ErrorField(err))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("[Bridge] 消息格式错误", logger.ErrorField(err))
			c.enqueue(&Message{Type: MsgTypeError, Data: mustRaw(ResultData{Error: "malformed message"})})
			continue
		}

		switch msg.Type {
		case MsgTypePing:
			c.enqueue(&Message{Type: MsgTypePong})
		case MsgTypeEvent:
			c.dispatchEvent(&msg)
		case MsgTypeIntent:
			c.handleIntent(ctx, &msg)
		default:
			c.enqueue(&Message{Type: MsgTypeError, ID: msg.ID, Data: mustRaw(ResultData{Error: "unknown message type"})})
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				c.Close()
				return
			}
			w.Write(data)

			// 合并队列中的消息，每行一条
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Conn) handleIntent(ctx context.Context, msg *Message) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	res := ResultData{}
	if h == nil {
		res.Error = "no handler"
	} else if out, err := h.HandleIntent(ctx, msg.Op, msg.Data); err != nil {
		res.Error = err.Error()
	} else {
		res.OK = true
		res.Result = out
	}
	c.enqueue(&Message{Type: MsgTypeResult, Op: msg.Op, ID: msg.ID, Data: mustRaw(res)})
}

func (c *Conn) dispatchEvent(msg *Message) {
	var ev EventData
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Warn("[Bridge] 事件参数错误", logger.String("op", msg.Op), logger.ErrorField(err))
			return
		}
	}

	switch msg.Target {
	case TargetMedia:
		c.mu.Lock()
		l, ok := c.media[msg.Handle]
		c.mu.Unlock()
		if !ok {
			logger.Debug("[Bridge] 忽略已销毁元素的事件", logger.String("handle", msg.Handle), logger.String("op", msg.Op))
			return
		}
		dispatchMedia(l, msg.Op, &ev)
	case TargetEmbed:
		c.mu.Lock()
		e, ok := c.embeds[msg.Handle]
		c.mu.Unlock()
		if !ok {
			logger.Debug("[Bridge] 忽略已销毁播放器的事件", logger.String("handle", msg.Handle), logger.String("op", msg.Op))
			return
		}
		dispatchEmbed(e, msg.Op, &ev)
	default:
		logger.Warn("[Bridge] 未知事件目标", logger.String("target", msg.Target))
	}
}

func dispatchMedia(l player.MediaListener, op string, ev *EventData) {
	switch op {
	case EvReady:
		l.MediaReady(ev.Duration)
	case EvTimeUpdate:
		l.MediaTimeUpdate(ev.Position)
	case EvEnded:
		l.MediaEnded()
	case EvError:
		l.MediaError(ev.Reason)
	case EvRejected:
		l.MediaPlayRejected(ev.Reason)
	default:
		logger.Debug("[Bridge] 未知媒体事件", logger.String("op", op))
	}
}

func dispatchEmbed(e *embedEntry, op string, ev *EventData) {
	if op == EvTimeUpdate {
		e.handle.observe(ev.Position, ev.Duration)
		return
	}
	if ev.Duration > 0 {
		e.handle.observeDuration(ev.Duration)
	}

	switch op {
	case EvReady:
		e.cb.Ready(e.handle)
	case EvState:
		s, ok := player.ParseEmbedState(ev.State)
		if !ok {
			logger.Debug("[Bridge] 未知播放器状态", logger.String("state", ev.State))
			return
		}
		e.cb.StateChange(s)
	case EvError:
		e.cb.Error(ev.Reason)
	case EvFailed:
		e.handle.conn.forgetEmbed(e.handle.id)
		e.cb.Failed(errors.New(ev.Reason))
	default:
		logger.Debug("[Bridge] 未知播放器事件", logger.String("op", op))
	}
}

package bridge

import (
	"encoding/json"
	"time"
)

// MessageType 消息类型
type MessageType string

const (
	// 服务端 -> 浏览器
	MsgTypeCommand      MessageType = "command"      // 操作远端句柄
	MsgTypeState        MessageType = "state"        // 统一播放状态
	MsgTypeNotification MessageType = "notification" // 一次性提示
	MsgTypeResult       MessageType = "result"       // 意图执行结果
	MsgTypePong         MessageType = "pong"
	MsgTypeError        MessageType = "error"

	// 浏览器 -> 服务端
	MsgTypeEvent  MessageType = "event"  // 句柄回调
	MsgTypeIntent MessageType = "intent" // 用户操作
	MsgTypePing   MessageType = "ping"
)

// Target 句柄类型
const (
	TargetMedia = "media"
	TargetEmbed = "embed"
)

// 句柄命令
const (
	OpMount     = "mount"
	OpBootstrap = "bootstrap"
	OpPlay      = "play"
	OpPause     = "pause"
	OpSeek      = "seek"
	OpVolume    = "volume"
	OpMuted     = "muted"
	OpCue       = "cue"
	OpVisible   = "visible"
	OpDestroy   = "destroy"
)

// 句柄事件
const (
	EvReady      = "ready"
	EvTimeUpdate = "timeupdate"
	EvEnded      = "ended"
	EvError      = "error"
	EvRejected   = "rejected"
	EvState      = "state"
	EvFailed     = "failed"
)

// Message is the single envelope used in both directions.
type Message struct {
	Type      MessageType     `json:"type"`
	Target    string          `json:"target,omitempty"`
	Handle    string          `json:"handle,omitempty"`
	Op        string          `json:"op,omitempty"`
	ID        string          `json:"id,omitempty"` // 意图请求编号，结果原样带回
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// CommandData 命令参数
type CommandData struct {
	Src     string   `json:"src,omitempty"`
	VideoID string   `json:"videoId,omitempty"`
	Seconds *float64 `json:"seconds,omitempty"`
	Volume  *float64 `json:"volume,omitempty"` // media: 0..1, embed: 0..100
	Muted   *bool    `json:"muted,omitempty"`
	Visible *bool    `json:"visible,omitempty"`
}

// EventData 事件参数
type EventData struct {
	Duration float64 `json:"duration,omitempty"`
	Position float64 `json:"position,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	State    string  `json:"state,omitempty"`
}

// ResultData 意图执行结果
type ResultData struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

func encode(msg *Message) ([]byte, error) {
	msg.Timestamp = time.Now().UnixMilli()
	return json.Marshal(msg)
}

func mustRaw(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

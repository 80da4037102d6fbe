package types

import "time"

// FlowEventKind 流规则事件类型
type FlowEventKind string

const (
	FlowCreated   FlowEventKind = "created"
	FlowFailed    FlowEventKind = "failed"
	FlowDestroyed FlowEventKind = "destroyed"
	FlowFlushed   FlowEventKind = "flushed"
)

// FlowEvent 控制面产生的流规则事件，推送给REPL之外的观察者（websocket等）
type FlowEvent struct {
	Kind      FlowEventKind `json:"kind"`
	Port      uint16        `json:"port"`
	FlowID    uint32        `json:"flow_id,omitempty"`
	Count     int           `json:"count,omitempty"`
	Command   string        `json:"command,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// FlowObserver 事件回调，在控制面goroutine上同步调用，不能阻塞
type FlowObserver func(FlowEvent)

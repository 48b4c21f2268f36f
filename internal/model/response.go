package model

import (
	"encoding/json"
	"time"
)

// GenerateEvent 生成过程中推送给前端的单个事件
type GenerateEvent struct {
	Type      string          `json:"type"` // status, progress, duplicate, result, error
	Message   string          `json:"message,omitempty"`
	Count     int             `json:"count,omitempty"`
	Partial   bool            `json:"partial,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Cases     []TestCase      `json:"cases,omitempty"`
	RecordID  int64           `json:"record_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// GenerateResult 会话的终态产物
type GenerateResult struct {
	Cases    []TestCase `json:"cases"`
	RecordID int64      `json:"record_id"`
	Status   string     `json:"status"` // completed / erred
	Message  string     `json:"message,omitempty"`
}

type RecordResponse struct {
	RecordID    int64      `json:"record_id"`
	Requirement string     `json:"requirement"`
	Cases       []TestCase `json:"cases"`
	Count       int        `json:"count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

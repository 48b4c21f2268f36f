package model

import (
	"encoding/json"
	"time"
)

// TestCase 规范化后的测试用例，固定八个字段
// 这是解析核心对外的唯一用例形态，任何多余或缺失字段都视为非法
type TestCase struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	TestModule     string   `json:"test_module"`
	Preconditions  []string `json:"preconditions"`
	Steps          []string `json:"steps"`
	TestInput      string   `json:"test_input"`
	ExpectedResult string   `json:"expected_result"`
	Priority       string   `json:"priority"`
}

// GenerationRecord 一次生成的持久化记录
// 以需求文本为重复检测的键，追加模式下在既有记录上合并
type GenerationRecord struct {
	ID          int64      `json:"id"`
	Requirement string     `json:"requirement"`
	Cases       []TestCase `json:"cases"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GenerationRequest 发往外部生成引擎的一次请求参数
type GenerationRequest struct {
	Requirement string // 需求文本
	TargetCount int    // 本轮目标用例数
	StartID     int    // 用例编号起始值（追加模式下接续既有编号）
	Force       bool   // 强制重新生成，跳过重复检测
}

// DuplicateInfo 重复内容控制条件，等待用户二选一决策
// Payload 为标记载荷原文，未能解析时为 nil（空引用哨兵）
type DuplicateInfo struct {
	Payload  json.RawMessage `json:"payload"`
	RecordID int64           `json:"record_id"`
	Resolved bool            `json:"resolved"`
}

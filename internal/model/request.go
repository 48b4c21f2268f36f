package model

type GenerateRequest struct {
	Requirement   string `json:"requirement" binding:"required"`
	ExpectedCount int    `json:"expected_count"`
	Append        bool   `json:"append"` // 追加模式：在既有结果集上继续生成
	Force         bool   `json:"force"`  // 强制重新生成，跳过重复检测
	Slot          string `json:"slot"`   // 请求槽位，同一槽位同时只有一个活动会话
}

type DuplicateDecisionRequest struct {
	Slot string `json:"slot" binding:"required"`
}

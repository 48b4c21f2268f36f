package storage

import (
	"aitest-backend/internal/model"
)

// Storage 生成记录的键值持久化。
// 核心解析逻辑不直接接触存储，全部通过这个接口注入。
type Storage interface {
	// 记录管理
	SaveRecord(record *model.GenerationRecord) error
	GetRecord(recordID int64) (*model.GenerationRecord, error)
	UpdateRecord(record *model.GenerationRecord) error
	DeleteRecord(recordID int64) error
	ListRecords() ([]*model.GenerationRecord, error)

	// 重复检测与追加模式都按需求文本找最近一条记录
	FindLatestByRequirement(requirement string) (*model.GenerationRecord, error)

	// 存储管理
	Init() error
	Close() error
	Backup() error
}

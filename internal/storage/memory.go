package storage

import (
	"sync"
	"time"

	"aitest-backend/internal/model"
)

type MemoryStorage struct {
	records map[int64]*model.GenerationRecord
	nextID  int64
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[int64]*model.GenerationRecord),
		nextID:  1,
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) SaveRecord(record *model.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == 0 {
		record.ID = m.nextID
		m.nextID++
	} else if record.ID >= m.nextID {
		m.nextID = record.ID + 1
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	m.records[record.ID] = record
	return nil
}

func (m *MemoryStorage) GetRecord(recordID int64) (*model.GenerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[recordID]
	if !exists {
		return nil, ErrRecordNotFound
	}

	return record, nil
}

func (m *MemoryStorage) UpdateRecord(record *model.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[record.ID]; !exists {
		return ErrRecordNotFound
	}

	record.UpdatedAt = time.Now()
	m.records[record.ID] = record
	return nil
}

func (m *MemoryStorage) DeleteRecord(recordID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[recordID]; !exists {
		return ErrRecordNotFound
	}

	delete(m.records, recordID)
	return nil
}

func (m *MemoryStorage) ListRecords() ([]*model.GenerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*model.GenerationRecord, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record)
	}

	return records, nil
}

func (m *MemoryStorage) FindLatestByRequirement(requirement string) (*model.GenerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *model.GenerationRecord
	for _, record := range m.records {
		if record.Requirement != requirement {
			continue
		}
		if latest == nil || record.CreatedAt.After(latest.CreatedAt) {
			latest = record
		}
	}
	if latest == nil {
		return nil, ErrRecordNotFound
	}

	return latest, nil
}

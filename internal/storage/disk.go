package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"aitest-backend/internal/model"
	"aitest-backend/pkg/logger"
)

type DiskStorage struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[int64]*model.GenerationRecord
	cacheSize int
	nextID    int64
}

type RecordIndex struct {
	ID          int64     `json:"id"`
	Requirement string    `json:"requirement"`
	CaseCount   int       `json:"case_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	return &DiskStorage{
		dataDir:   dataDir,
		cache:     make(map[int64]*model.GenerationRecord),
		cacheSize: cacheSize,
		nextID:    1,
	}
}

func (d *DiskStorage) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadRecords(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Info("Disk storage initialized successfully")
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "records"),
		filepath.Join(d.dataDir, "backup"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

func (d *DiskStorage) loadRecords() error {
	indexPath := filepath.Join(d.dataDir, "records.json")

	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		return d.saveRecordIndex([]*RecordIndex{})
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return err
	}

	var indexes []*RecordIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return err
	}

	for _, index := range indexes {
		if index.ID >= d.nextID {
			d.nextID = index.ID + 1
		}

		if len(d.cache) >= d.cacheSize {
			continue
		}

		record, err := d.loadRecordFromFile(index.ID)
		if err != nil {
			logger.Errorf("Failed to load record %d: %v", index.ID, err)
			continue
		}

		d.cache[index.ID] = record
	}

	return nil
}

func (d *DiskStorage) loadRecordFromFile(recordID int64) (*model.GenerationRecord, error) {
	recordPath := filepath.Join(d.dataDir, "records", strconv.FormatInt(recordID, 10)+".json")

	data, err := os.ReadFile(recordPath)
	if err != nil {
		return nil, err
	}

	var record model.GenerationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}

	return &record, nil
}

func (d *DiskStorage) saveRecordIndex(indexes []*RecordIndex) error {
	indexPath := filepath.Join(d.dataDir, "records.json")
	tempPath := indexPath + ".tmp"

	data, err := json.MarshalIndent(indexes, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, indexPath)
}

func (d *DiskStorage) saveRecordToFile(record *model.GenerationRecord) error {
	recordPath := filepath.Join(d.dataDir, "records", strconv.FormatInt(record.ID, 10)+".json")
	tempPath := recordPath + ".tmp"

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, recordPath)
}

func (d *DiskStorage) rebuildIndex() error {
	records, err := d.listAll()
	if err != nil {
		return err
	}

	indexes := make([]*RecordIndex, 0, len(records))
	for _, record := range records {
		indexes = append(indexes, &RecordIndex{
			ID:          record.ID,
			Requirement: record.Requirement,
			CaseCount:   len(record.Cases),
			CreatedAt:   record.CreatedAt,
			UpdatedAt:   record.UpdatedAt,
		})
	}

	return d.saveRecordIndex(indexes)
}

func (d *DiskStorage) SaveRecord(record *model.GenerationRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if record.ID == 0 {
		record.ID = d.nextID
		d.nextID++
	} else if record.ID >= d.nextID {
		d.nextID = record.ID + 1
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	if err := d.saveRecordToFile(record); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.putCache(record)
	return d.rebuildIndex()
}

func (d *DiskStorage) GetRecord(recordID int64) (*model.GenerationRecord, error) {
	d.mu.RLock()
	if record, exists := d.cache[recordID]; exists {
		d.mu.RUnlock()
		return record, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	record, err := d.loadRecordFromFile(recordID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.putCache(record)
	return record, nil
}

func (d *DiskStorage) UpdateRecord(record *model.GenerationRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	recordPath := filepath.Join(d.dataDir, "records", strconv.FormatInt(record.ID, 10)+".json")
	if _, err := os.Stat(recordPath); os.IsNotExist(err) {
		return ErrRecordNotFound
	}

	record.UpdatedAt = time.Now()
	if err := d.saveRecordToFile(record); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.putCache(record)
	return d.rebuildIndex()
}

func (d *DiskStorage) DeleteRecord(recordID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	recordPath := filepath.Join(d.dataDir, "records", strconv.FormatInt(recordID, 10)+".json")
	if _, err := os.Stat(recordPath); os.IsNotExist(err) {
		return ErrRecordNotFound
	}

	if err := os.Remove(recordPath); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	delete(d.cache, recordID)
	return d.rebuildIndex()
}

func (d *DiskStorage) ListRecords() ([]*model.GenerationRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.listAll()
}

func (d *DiskStorage) FindLatestByRequirement(requirement string) (*model.GenerationRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	records, err := d.listAll()
	if err != nil {
		return nil, err
	}

	var latest *model.GenerationRecord
	for _, record := range records {
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

// listAll 全量读盘，按创建时间排序；调用方负责加锁
func (d *DiskStorage) listAll() ([]*model.GenerationRecord, error) {
	recordsDir := filepath.Join(d.dataDir, "records")
	entries, err := os.ReadDir(recordsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	records := make([]*model.GenerationRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		recordID, err := strconv.ParseInt(entry.Name()[:len(entry.Name())-len(".json")], 10, 64)
		if err != nil {
			continue
		}

		if record, exists := d.cache[recordID]; exists {
			records = append(records, record)
			continue
		}

		record, err := d.loadRecordFromFile(recordID)
		if err != nil {
			logger.Errorf("Failed to load record %d: %v", recordID, err)
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

func (d *DiskStorage) putCache(record *model.GenerationRecord) {
	if len(d.cache) >= d.cacheSize {
		for id := range d.cache {
			delete(d.cache, id)
			break
		}
	}
	d.cache[record.ID] = record
}

func (d *DiskStorage) Close() error {
	return d.Backup()
}

func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	indexPath := filepath.Join(d.dataDir, "records.json")
	data, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	backupPath := filepath.Join(d.dataDir, "backup",
		fmt.Sprintf("records_%s.json", time.Now().Format("20060102_150405")))

	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	logger.Infof("Storage backup created: %s", backupPath)
	return nil
}

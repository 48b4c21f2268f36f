package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStorageCRUD(t *testing.T) {
	dir := t.TempDir()
	store := NewDiskStorage(dir, 10)
	require.NoError(t, store.Init())

	rec := sampleRecord("需求A")
	require.NoError(t, store.SaveRecord(rec))
	assert.NotZero(t, rec.ID)

	recordPath := filepath.Join(dir, "records", "1.json")
	_, err := os.Stat(recordPath)
	require.NoError(t, err, "记录文件未落盘")

	got, err := store.GetRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "需求A", got.Requirement)
	require.Len(t, got.Cases, 1)
	assert.Equal(t, "TC-001", got.Cases[0].ID)

	require.NoError(t, store.DeleteRecord(rec.ID))
	_, err = store.GetRecord(rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestDiskStorageReload(t *testing.T) {
	dir := t.TempDir()

	store := NewDiskStorage(dir, 10)
	require.NoError(t, store.Init())
	rec := sampleRecord("重启后仍在")
	require.NoError(t, store.SaveRecord(rec))

	// 新实例从磁盘重建索引
	reopened := NewDiskStorage(dir, 10)
	require.NoError(t, reopened.Init())

	got, err := reopened.GetRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "重启后仍在", got.Requirement)

	// ID 继续递增，不会复用
	another := sampleRecord("新记录")
	require.NoError(t, reopened.SaveRecord(another))
	assert.Greater(t, another.ID, rec.ID)
}

func TestDiskStorageFindLatestByRequirement(t *testing.T) {
	dir := t.TempDir()
	store := NewDiskStorage(dir, 10)
	require.NoError(t, store.Init())

	first := sampleRecord("同一需求")
	require.NoError(t, store.SaveRecord(first))

	second := sampleRecord("同一需求")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, store.SaveRecord(second))

	got, err := store.FindLatestByRequirement("同一需求")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestDiskStorageBackup(t *testing.T) {
	dir := t.TempDir()
	store := NewDiskStorage(dir, 10)
	require.NoError(t, store.Init())
	require.NoError(t, store.SaveRecord(sampleRecord("需求A")))

	require.NoError(t, store.Backup())

	entries, err := os.ReadDir(filepath.Join(dir, "backup"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestDiskStorageSmallCacheStillServes(t *testing.T) {
	dir := t.TempDir()
	store := NewDiskStorage(dir, 1)
	require.NoError(t, store.Init())

	a := sampleRecord("需求A")
	b := sampleRecord("需求B")
	require.NoError(t, store.SaveRecord(a))
	require.NoError(t, store.SaveRecord(b))

	// 缓存只有一条，另一条从磁盘读回
	gotA, err := store.GetRecord(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "需求A", gotA.Requirement)

	gotB, err := store.GetRecord(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "需求B", gotB.Requirement)
}

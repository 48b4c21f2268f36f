package storage

import (
	"testing"
	"time"

	"aitest-backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(requirement string) *model.GenerationRecord {
	return &model.GenerationRecord{
		Requirement: requirement,
		Cases: []model.TestCase{
			{
				ID:             "TC-001",
				Description:    "登录成功",
				TestModule:     "登录",
				Preconditions:  []string{"已注册"},
				Steps:          []string{"输入账号", "点击登录"},
				TestInput:      "user/pass",
				ExpectedResult: "进入首页",
				Priority:       "P0",
			},
		},
	}
}

func TestMemoryStorageCRUD(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Init())

	rec := sampleRecord("需求A")
	require.NoError(t, store.SaveRecord(rec))
	assert.NotZero(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := store.GetRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "需求A", got.Requirement)

	got.Cases = append(got.Cases, model.TestCase{ID: "TC-002", Priority: "P1"})
	require.NoError(t, store.UpdateRecord(got))

	got, err = store.GetRecord(rec.ID)
	require.NoError(t, err)
	assert.Len(t, got.Cases, 2)

	require.NoError(t, store.DeleteRecord(rec.ID))
	_, err = store.GetRecord(rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStorageNotFound(t *testing.T) {
	store := NewMemoryStorage()

	_, err := store.GetRecord(99)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	assert.ErrorIs(t, store.UpdateRecord(&model.GenerationRecord{ID: 99}), ErrRecordNotFound)
	assert.ErrorIs(t, store.DeleteRecord(99), ErrRecordNotFound)

	_, err = store.FindLatestByRequirement("不存在的需求")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStorageFindLatestByRequirement(t *testing.T) {
	store := NewMemoryStorage()

	old := sampleRecord("同一需求")
	old.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.SaveRecord(old))

	newer := sampleRecord("同一需求")
	require.NoError(t, store.SaveRecord(newer))

	other := sampleRecord("另一需求")
	require.NoError(t, store.SaveRecord(other))

	got, err := store.FindLatestByRequirement("同一需求")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
}

func TestMemoryStorageListRecords(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.SaveRecord(sampleRecord("需求A")))
	require.NoError(t, store.SaveRecord(sampleRecord("需求B")))

	records, err := store.ListRecords()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

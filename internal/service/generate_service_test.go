package service

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"aitest-backend/internal/config"
	"aitest-backend/internal/model"
	"aitest-backend/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator 每次调用消耗一条脚本流，并记下请求参数
type scriptedGenerator struct {
	streams []*scriptedStream
	calls   []model.GenerationRequest
}

func (g *scriptedGenerator) GenerateStream(ctx context.Context, req model.GenerationRequest) (ChunkStream, error) {
	g.calls = append(g.calls, req)
	if len(g.streams) == 0 {
		return nil, errors.New("脚本流已耗尽")
	}
	s := g.streams[0]
	g.streams = g.streams[1:]
	return s, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Generation: config.GenerationConfig{
			DefaultCount:    20,
			BatchSize:       25,
			ExtractInterval: time.Millisecond,
		},
		Storage: config.StorageConfig{Type: "memory"},
	}
}

func drainEvents(t *testing.T, events <-chan model.GenerateEvent, errChan <-chan error) ([]model.GenerateEvent, error) {
	t.Helper()
	var got []model.GenerateEvent
	for ev := range events {
		got = append(got, ev)
	}
	return got, <-errChan
}

func findEvent(events []model.GenerateEvent, typ string) *model.GenerateEvent {
	for i := range events {
		if events[i].Type == typ {
			return &events[i]
		}
	}
	return nil
}

func TestStreamGenerateProducesResult(t *testing.T) {
	gen := &scriptedGenerator{streams: []*scriptedStream{
		{chunks: []string{
			"@@STATUS@@:正在生成\n",
			"[" + fullCaseJSON + "]",
		}},
	}}
	svc := NewGenerateService(testConfig(), gen)

	events, errChan := svc.StreamGenerate(context.Background(), model.GenerateRequest{
		Requirement:   "用户登录功能",
		ExpectedCount: 5,
	})
	got, err := drainEvents(t, events, errChan)
	require.NoError(t, err)

	status := findEvent(got, "status")
	require.NotNil(t, status)
	assert.Equal(t, "正在生成", status.Message)

	result := findEvent(got, "result")
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Count)
	require.Len(t, result.Cases, 1)
	assert.NotZero(t, result.RecordID)

	rec, err := svc.GetRecord(result.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "用户登录功能", rec.Requirement)
	assert.Len(t, rec.Cases, 1)

	require.Len(t, gen.calls, 1)
	assert.Equal(t, 5, gen.calls[0].TargetCount)
	assert.Equal(t, 1, gen.calls[0].StartID)
}

func TestStreamGenerateRejectsInvalidCount(t *testing.T) {
	svc := NewGenerateService(testConfig(), &scriptedGenerator{})

	events, errChan := svc.StreamGenerate(context.Background(), model.GenerateRequest{
		Requirement:   "需求",
		ExpectedCount: 0,
	})
	got, err := drainEvents(t, events, errChan)

	assert.Empty(t, got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "预期用例数")
}

func TestStreamGenerateDuplicateDetection(t *testing.T) {
	gen := &scriptedGenerator{streams: []*scriptedStream{
		{chunks: []string{"[" + fullCaseJSON + "]"}},
	}}
	svc := NewGenerateService(testConfig(), gen)

	req := model.GenerateRequest{Requirement: "用户登录功能", ExpectedCount: 5}

	events, errChan := svc.StreamGenerate(context.Background(), req)
	got, err := drainEvents(t, events, errChan)
	require.NoError(t, err)
	first := findEvent(got, "result")
	require.NotNil(t, first)

	// 同一需求再次请求：不调用生成引擎，回放重复标记
	events, errChan = svc.StreamGenerate(context.Background(), req)
	got, err = drainEvents(t, events, errChan)
	require.NoError(t, err)

	dup := findEvent(got, "duplicate")
	require.NotNil(t, dup)
	assert.JSONEq(t, `{"id": `+toJSONNumber(first.RecordID)+`}`, string(dup.Payload))
	assert.Nil(t, findEvent(got, "result"))
	assert.Len(t, gen.calls, 1)
}

func TestCancelDuplicateAdoptsHistory(t *testing.T) {
	gen := &scriptedGenerator{streams: []*scriptedStream{
		{chunks: []string{"[" + fullCaseJSON + "]"}},
	}}
	svc := NewGenerateService(testConfig(), gen)

	req := model.GenerateRequest{Requirement: "用户登录功能", ExpectedCount: 5}

	events, errChan := svc.StreamGenerate(context.Background(), req)
	got, err := drainEvents(t, events, errChan)
	require.NoError(t, err)
	firstID := findEvent(got, "result").RecordID

	events, errChan = svc.StreamGenerate(context.Background(), req)
	_, err = drainEvents(t, events, errChan)
	require.NoError(t, err)

	result, err := svc.CancelDuplicate("default")
	require.NoError(t, err)
	require.Len(t, result.Cases, 1)
	assert.Equal(t, "TC-001", result.Cases[0].ID)
	assert.Equal(t, firstID, result.RecordID)
	assert.Equal(t, "completed", result.Status)

	// 决策消费后槽位清空
	_, err = svc.CancelDuplicate("default")
	assert.ErrorIs(t, err, ErrNoPendingDuplicate)
}

func TestConfirmDuplicateRegenerates(t *testing.T) {
	gen := &scriptedGenerator{streams: []*scriptedStream{
		{chunks: []string{"[" + fullCaseJSON + "]"}},
		{chunks: []string{`[{"id": "TC-001", "description": "重新生成的用例", "test_module": "登录",
"preconditions": [], "steps": ["步骤"], "test_input": "",
"expected_result": "成功", "priority": "P1"}]`}},
	}}
	svc := NewGenerateService(testConfig(), gen)

	req := model.GenerateRequest{Requirement: "用户登录功能", ExpectedCount: 5}

	events, errChan := svc.StreamGenerate(context.Background(), req)
	got, err := drainEvents(t, events, errChan)
	require.NoError(t, err)
	firstID := findEvent(got, "result").RecordID

	events, errChan = svc.StreamGenerate(context.Background(), req)
	_, err = drainEvents(t, events, errChan)
	require.NoError(t, err)

	events, errChan, err = svc.ConfirmDuplicate(context.Background(), "default")
	require.NoError(t, err)
	got, err = drainEvents(t, events, errChan)
	require.NoError(t, err)

	result := findEvent(got, "result")
	require.NotNil(t, result)
	assert.Equal(t, "重新生成的用例", result.Cases[0].Description)
	// 强制重新生成覆盖同需求的最新记录，不产生新记录
	assert.Equal(t, firstID, result.RecordID)

	require.Len(t, gen.calls, 2)
	assert.True(t, gen.calls[1].Force)

	rec, err := svc.GetRecord(firstID)
	require.NoError(t, err)
	assert.Equal(t, "重新生成的用例", rec.Cases[0].Description)
}

func TestStreamGenerateAppend(t *testing.T) {
	gen := &scriptedGenerator{streams: []*scriptedStream{
		{chunks: []string{`[{"id": 3, "description": "第三条"}]`}},
	}}
	svc := NewGenerateService(testConfig(), gen)

	existing := parser.NormalizeCases([]any{
		map[string]any{"id": 1, "description": "一"},
		map[string]any{"id": 2, "description": "二"},
	})
	seed := &model.GenerationRecord{Requirement: "用户登录功能", Cases: existing}
	require.NoError(t, svc.Store().SaveRecord(seed))

	events, errChan := svc.StreamGenerate(context.Background(), model.GenerateRequest{
		Requirement:   "用户登录功能",
		ExpectedCount: 10,
		Append:        true,
	})
	got, err := drainEvents(t, events, errChan)
	require.NoError(t, err)

	result := findEvent(got, "result")
	require.NotNil(t, result)
	assert.Equal(t, 3, result.Count)
	assert.Equal(t, seed.ID, result.RecordID)

	// 追加模式按既有数量续传编号和目标总数
	require.Len(t, gen.calls, 1)
	assert.Equal(t, 10, gen.calls[0].TargetCount)
	assert.Equal(t, 3, gen.calls[0].StartID)

	rec, err := svc.GetRecord(seed.ID)
	require.NoError(t, err)
	assert.Len(t, rec.Cases, 3)
}

func TestStreamGenerateErrorLine(t *testing.T) {
	gen := &scriptedGenerator{streams: []*scriptedStream{
		{chunks: []string{"Error: API quota exceeded\n"}},
	}}
	svc := NewGenerateService(testConfig(), gen)

	events, errChan := svc.StreamGenerate(context.Background(), model.GenerateRequest{
		Requirement:   "需求",
		ExpectedCount: 5,
	})
	got, err := drainEvents(t, events, errChan)

	assert.Nil(t, findEvent(got, "result"))
	require.Error(t, err)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "API quota exceeded", perr.Message)
}

func toJSONNumber(v int64) string {
	return strconv.FormatInt(v, 10)
}

// 客户端断连后事件通道没有消费者，推送不能把发送方卡死
func TestEventSinkDropsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &eventSink{ctx: ctx, events: make(chan model.GenerateEvent)}
	done := make(chan struct{})
	go func() {
		sink.Forward(parser.Signal{Kind: parser.SignalStatus, Text: "正在生成"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward 在上下文取消后仍然阻塞")
	}
}

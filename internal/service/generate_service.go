package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"aitest-backend/internal/config"
	"aitest-backend/internal/model"
	"aitest-backend/internal/parser"
	"aitest-backend/internal/storage"
	"aitest-backend/pkg/logger"
)

// GenerateService 管理请求槽位与会话生命周期。
// 一个槽位同时只有一个活动会话；新请求会顶掉槽位里
// 还在等待决策的 DuplicatePending 会话。
type GenerateService struct {
	store     storage.Storage
	generator Generator
	cfg       *config.Config

	mu    sync.Mutex
	slots map[string]*slotEntry
}

type slotEntry struct {
	session *GenerationSession
	req     model.GenerateRequest
	record  *model.GenerationRecord // 追加模式下被合并的既有记录
	cancel  context.CancelFunc
}

func NewGenerateService(cfg *config.Config, generator Generator) *GenerateService {
	var store storage.Storage

	if cfg.Storage.Type == "disk" {
		store = storage.NewDiskStorage(cfg.Storage.DataDir, cfg.Storage.CacheSize)
	} else {
		store = storage.NewMemoryStorage()
	}

	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize storage: %v", err)
		store = storage.NewMemoryStorage()
		store.Init()
	}

	return &GenerateService{
		store:     store,
		generator: generator,
		cfg:       cfg,
		slots:     make(map[string]*slotEntry),
	}
}

// eventSink 把控制面信号转成前端事件，同时照常进日志。
// 客户端断开后没人再消费事件通道，推送受上下文保护以免卡死
type eventSink struct {
	ctx    context.Context
	events chan<- model.GenerateEvent
}

func (s *eventSink) Forward(sig parser.Signal) {
	loggerSink{}.Forward(sig)

	ev := model.GenerateEvent{Timestamp: time.Now().Unix()}
	switch sig.Kind {
	case parser.SignalStatus:
		ev.Type = "status"
		ev.Message = sig.Text
	case parser.SignalDiagnostic, parser.SignalQualityMetric:
		ev.Type = "status"
		ev.Message = sig.Kind.String()
		ev.Payload = sig.Payload
	case parser.SignalErrorLine:
		// 错误走 errChan，这里不重复推送
		return
	default:
		return
	}

	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// StreamGenerate 发起一轮生成并以事件流返回过程与结果。
// 重复检测命中时以带内 @@DUPLICATE@@ 标记回放给会话，
// 与生成引擎在流里发标记走同一条解析路径。
func (s *GenerateService) StreamGenerate(ctx context.Context, req model.GenerateRequest) (<-chan model.GenerateEvent, <-chan error) {
	events := make(chan model.GenerateEvent, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errChan)

		slot := req.Slot
		if slot == "" {
			slot = "default"
		}

		if req.ExpectedCount <= 0 {
			errChan <- fmt.Errorf("预期用例数必须为大于等于 1 的整数")
			return
		}

		s.supersede(slot)

		var existing []model.TestCase
		var existingRecord *model.GenerationRecord
		if req.Append {
			if rec, err := s.store.FindLatestByRequirement(req.Requirement); err == nil {
				existingRecord = rec
				existing = rec.Cases
			}
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		emit := func(ev model.GenerateEvent) {
			select {
			case events <- ev:
			case <-runCtx.Done():
			}
		}

		stream, err := s.openStream(runCtx, req, len(existing))
		if err != nil {
			errChan <- err
			return
		}

		session := NewGenerationSession(SessionOptions{
			AppendMode:    req.Append,
			Existing:      existing,
			ExpectedCount: req.ExpectedCount,
			Increment:     s.cfg.Generation.BatchSize,
			ExtractEvery:  s.cfg.Generation.ExtractInterval,
			Sink:          &eventSink{ctx: runCtx, events: events},
			OnProgress: func(count int, partial bool) {
				emit(model.GenerateEvent{
					Type:      "progress",
					Count:     count,
					Partial:   partial,
					Timestamp: time.Now().Unix(),
				})
			},
		})

		s.register(slot, &slotEntry{
			session: session,
			req:     req,
			record:  existingRecord,
			cancel:  cancel,
		})

		if err := session.Run(runCtx, stream); err != nil {
			s.unregister(slot, session)
			errChan <- err
			return
		}

		switch session.State() {
		case StateDuplicatePending:
			// 槽位保留，等待 confirm / cancel 决策
			logger.Infof("会话 %s 命中重复检测，等待用户决策", session.ID())
			dup := session.Duplicate()
			emit(model.GenerateEvent{
				Type:      "duplicate",
				Payload:   dup.Payload,
				Timestamp: time.Now().Unix(),
			})
		case StateCompleted:
			recordID, err := s.persist(req, existingRecord, session.Result())
			if err != nil {
				logger.Errorf("Failed to persist generation result: %v", err)
			}
			s.unregister(slot, session)
			emit(model.GenerateEvent{
				Type:      "result",
				Cases:     session.Result(),
				Count:     len(session.Result()),
				Partial:   session.Partial(),
				RecordID:  recordID,
				Timestamp: time.Now().Unix(),
			})
		}
	}()

	return events, errChan
}

// ConfirmDuplicate 重复决策：强制重新生成。
// 丢弃标记，以同样的数量策略重启会话。
func (s *GenerateService) ConfirmDuplicate(ctx context.Context, slot string) (<-chan model.GenerateEvent, <-chan error, error) {
	entry, err := s.takePending(slot)
	if err != nil {
		return nil, nil, err
	}

	req := entry.req
	req.Force = true
	events, errChan := s.StreamGenerate(ctx, req)
	return events, errChan, nil
}

// CancelDuplicate 重复决策：取用历史结果。
// 按标记载荷里的记录 ID 取出历史结果集并作为会话产物。
func (s *GenerateService) CancelDuplicate(slot string) (*model.GenerateResult, error) {
	entry, err := s.takePending(slot)
	if err != nil {
		return nil, err
	}

	dup := entry.session.Duplicate()
	if dup == nil || !dup.Resolved || dup.RecordID == 0 {
		return nil, ErrDuplicateUnresolved
	}

	rec, err := s.store.GetRecord(dup.RecordID)
	if err != nil {
		return nil, fmt.Errorf("历史记录 %d 读取失败: %w", dup.RecordID, err)
	}
	if err := parser.ValidateCases(rec.Cases); err != nil {
		return nil, fmt.Errorf("历史记录 %d 校验未通过: %w", dup.RecordID, err)
	}

	entry.session.AdoptResult(rec.Cases)
	return &model.GenerateResult{
		Cases:    rec.Cases,
		RecordID: rec.ID,
		Status:   StateCompleted.String(),
	}, nil
}

func (s *GenerateService) GetRecord(recordID int64) (*model.GenerationRecord, error) {
	return s.store.GetRecord(recordID)
}

func (s *GenerateService) Store() storage.Storage {
	return s.store
}

// openStream 决定喂给会话的流：重复检测命中时回放标记，否则调用生成引擎
func (s *GenerateService) openStream(ctx context.Context, req model.GenerateRequest, existingCount int) (ChunkStream, error) {
	if !req.Force && !req.Append {
		if rec, err := s.store.FindLatestByRequirement(req.Requirement); err == nil && len(rec.Cases) > 0 {
			return newMarkerStream(fmt.Sprintf(`@@DUPLICATE@@:{"id": %d}`, rec.ID)), nil
		}
	}

	target := req.ExpectedCount
	if req.Append {
		target = NextTargetCount(existingCount, req.ExpectedCount, s.cfg.Generation.BatchSize)
	}

	return s.generator.GenerateStream(ctx, model.GenerationRequest{
		Requirement: req.Requirement,
		TargetCount: target,
		StartID:     existingCount + 1,
		Force:       req.Force,
	})
}

func (s *GenerateService) persist(req model.GenerateRequest, existingRecord *model.GenerationRecord, cases []model.TestCase) (int64, error) {
	if req.Append && existingRecord != nil {
		existingRecord.Cases = cases
		if err := s.store.UpdateRecord(existingRecord); err != nil {
			return 0, err
		}
		return existingRecord.ID, nil
	}

	if req.Force {
		if rec, err := s.store.FindLatestByRequirement(req.Requirement); err == nil {
			rec.Cases = cases
			if err := s.store.UpdateRecord(rec); err != nil {
				return 0, err
			}
			return rec.ID, nil
		}
	}

	rec := &model.GenerationRecord{
		Requirement: req.Requirement,
		Cases:       cases,
	}
	if err := s.store.SaveRecord(rec); err != nil {
		return 0, err
	}
	return rec.ID, nil
}

func (s *GenerateService) register(slot string, entry *slotEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = entry
}

func (s *GenerateService) unregister(slot string, session *GenerationSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.slots[slot]; ok && entry.session == session {
		delete(s.slots, slot)
	}
}

// supersede 新请求顶掉槽位里等待决策的会话：取消其读取并移除
func (s *GenerateService) supersede(slot string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.slots[slot]; ok {
		entry.cancel()
		delete(s.slots, slot)
	}
}

func (s *GenerateService) takePending(slot string) (*slotEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot == "" {
		slot = "default"
	}
	entry, ok := s.slots[slot]
	if !ok || entry.session.State() != StateDuplicatePending {
		return nil, ErrNoPendingDuplicate
	}
	delete(s.slots, slot)
	return entry, nil
}

// markerStream 把固定文本作为一条分片流回放，用于服务器侧重复检测命中
type markerStream struct {
	chunks []string
	pos    int
}

func newMarkerStream(chunks ...string) *markerStream {
	return &markerStream{chunks: chunks}
}

func (m *markerStream) Recv() (string, error) {
	if m.pos >= len(m.chunks) {
		return "", io.EOF
	}
	c := m.chunks[m.pos]
	m.pos++
	return c, nil
}

func (m *markerStream) Close() error {
	return nil
}

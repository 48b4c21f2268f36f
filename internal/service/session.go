package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"aitest-backend/internal/model"
	"aitest-backend/internal/parser"
	"aitest-backend/pkg/logger"

	"github.com/google/uuid"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateStreaming
	StateDuplicatePending
	StateErred
	StateCompleted
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDuplicatePending:
		return "duplicate_pending"
	case StateErred:
		return "erred"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// ChunkStream 生成引擎返回的分片文本流，io.EOF 表示正常结束
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

// Generator 外部生成引擎
type Generator interface {
	GenerateStream(ctx context.Context, req model.GenerationRequest) (ChunkStream, error)
}

// SignalSink 控制面信号的转发目标。
// Status / Diagnostic / QualityMetric 只做转发，不影响控制流。
type SignalSink interface {
	Forward(sig parser.Signal)
}

// loggerSink 默认信号落点：全部进日志
type loggerSink struct{}

func (loggerSink) Forward(sig parser.Signal) {
	switch sig.Kind {
	case parser.SignalStatus:
		logger.Infof("生成进度: %s", sig.Text)
	case parser.SignalDiagnostic:
		logger.Debugf("GEN_DIAG: %s", string(sig.Payload))
	case parser.SignalQualityMetric:
		logger.Infof("GEN_QM: %s", string(sig.Payload))
	case parser.SignalErrorLine:
		logger.Errorf("生成引擎错误: %s", sig.Text)
	}
}

// 追加生成每轮固定步进 25 条
const batchStep = 25

// NextTargetCount 续传时下一轮请求的目标总数。
// 未达预期则朝预期推进，已达预期则按增量继续；
// 只用于给生成引擎定参数，不影响解析本身。
func NextTargetCount(current, expected, increment int) int {
	if current < expected {
		return min(current+batchStep, expected)
	}
	return min(current+batchStep, current+increment)
}

// SessionOptions 一次解析会话的参数
type SessionOptions struct {
	AppendMode    bool
	Existing      []model.TestCase // 追加模式下既有的结果集
	ExpectedCount int
	Increment     int
	ExtractEvery  time.Duration // 周期性重解析的最小间隔
	Sink          SignalSink
	OnProgress    func(count int, partial bool)
}

// GenerationSession 流式会话控制器。
// 状态机：Idle → Streaming → {DuplicatePending | Erred | Completed}。
// 单线程协作式：逐个分片同步处理，一个会话内不存在并发分片。
type GenerationSession struct {
	id      string
	demux   *parser.Demuxer
	content strings.Builder

	appendMode    bool
	existing      []model.TestCase
	expectedCount int
	increment     int

	sink       SignalSink
	onProgress func(count int, partial bool)

	extractEvery time.Duration
	lastExtract  time.Time
	lastCount    int

	state   SessionState
	err     error
	result  []model.TestCase
	partial bool
	dup     *model.DuplicateInfo
}

func NewGenerationSession(opts SessionOptions) *GenerationSession {
	if opts.ExtractEvery <= 0 {
		opts.ExtractEvery = 500 * time.Millisecond
	}
	if opts.Increment <= 0 {
		opts.Increment = batchStep
	}
	if opts.Sink == nil {
		opts.Sink = loggerSink{}
	}
	return &GenerationSession{
		id:            uuid.New().String(),
		demux:         parser.NewDemuxer(),
		appendMode:    opts.AppendMode,
		existing:      opts.Existing,
		expectedCount: opts.ExpectedCount,
		increment:     opts.Increment,
		sink:          opts.Sink,
		onProgress:    opts.OnProgress,
		extractEvery:  opts.ExtractEvery,
		state:         StateIdle,
		result:        opts.Existing,
	}
}

// Run 消费整条流直到终态。返回错误时会话处于 Erred，
// 进入重复决策分支时返回 nil 且状态为 DuplicatePending。
// 上层取消 ctx 会立即停止读取并丢弃后续分片。
func (s *GenerationSession) Run(ctx context.Context, stream ChunkStream) error {
	s.state = StateStreaming
	defer stream.Close()
	logger.Debugf("会话 %s 开始消费生成流", s.id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return s.finish()
			}
			// 传输错误：按原样作为会话终态错误
			s.state = StateErred
			s.err = err
			return err
		}

		signals, text := s.demux.Feed(chunk)
		if err := s.routeSignals(signals); err != nil {
			return err
		}

		if s.demux.DuplicateActive() {
			// 标记一旦开始，数据面提取对本条流剩余部分全部停止，
			// 继续读取只为凑齐标记载荷
			if payload, ok := s.demux.DuplicatePayload(); ok {
				s.enterDuplicatePending(payload)
				return nil
			}
			continue
		}

		if text != "" {
			s.content.WriteString(text)
			s.maybeExtract()
		}
	}
}

func (s *GenerationSession) routeSignals(signals []parser.Signal) error {
	for _, sig := range signals {
		switch sig.Kind {
		case parser.SignalDuplicate:
			// 载荷还在分离器里累积，决策入口在 DuplicateActive 分支
		case parser.SignalErrorLine:
			s.sink.Forward(sig)
			s.state = StateErred
			s.err = &ProtocolError{Message: sig.Text}
			return s.err
		default:
			s.sink.Forward(sig)
		}
	}
	return nil
}

// maybeExtract 节流的周期性重解析。
// Extract 是累积内容的纯函数，跳过或重复都无害，所以只节流不加锁。
func (s *GenerationSession) maybeExtract() {
	if time.Since(s.lastExtract) < s.extractEvery {
		return
	}
	s.lastExtract = time.Now()

	res := parser.Extract(s.content.String())
	if len(res.Cases) > s.lastCount {
		s.lastCount = len(res.Cases)
	}
	if s.onProgress != nil {
		s.onProgress(s.lastCount, res.Status != parser.ExtractComplete)
	}
}

// finish 流正常结束：残留缓冲收尾，全量提取一次，规范化、校验、合并
func (s *GenerationSession) finish() error {
	signals, text := s.demux.Flush()
	if err := s.routeSignals(signals); err != nil {
		return err
	}
	if text != "" {
		s.content.WriteString(text)
	}

	if s.demux.DuplicateActive() {
		// 到流结束载荷仍未解析成功时用空引用上报，不静默丢弃
		payload, ok := s.demux.DuplicatePayload()
		if !ok {
			payload = nil
		}
		s.enterDuplicatePending(payload)
		return nil
	}

	full := s.content.String()
	if strings.TrimSpace(full) == "" {
		return s.fail(ErrEmptyResult)
	}

	res := parser.Extract(full)
	if len(res.Cases) == 0 {
		return s.fail(&SchemaMismatchError{Shape: res.Reason})
	}

	cases := parser.NormalizeCases(res.Cases)
	if len(cases) == 0 {
		return s.fail(&SchemaMismatchError{Shape: "数组内没有对象条目"})
	}
	if err := parser.ValidateCases(cases); err != nil {
		return s.fail(&SchemaMismatchError{Shape: "字段校验未通过", Err: err})
	}

	if s.appendMode {
		merged := make([]model.TestCase, 0, len(s.existing)+len(cases))
		merged = append(merged, s.existing...)
		merged = append(merged, cases...)
		if err := parser.ValidateCases(merged); err != nil {
			return s.fail(&MergeError{Err: err})
		}
		s.result = merged
	} else {
		s.result = cases
	}

	s.partial = res.Status == parser.ExtractPartial
	s.state = StateCompleted
	return nil
}

// fail 进入 Erred 终态；结果集保持请求前的样子
func (s *GenerationSession) fail(err error) error {
	s.state = StateErred
	s.err = err
	s.result = s.existing
	return err
}

func (s *GenerationSession) enterDuplicatePending(payload json.RawMessage) {
	info := &model.DuplicateInfo{Payload: payload, Resolved: payload != nil}
	if payload != nil {
		var ref struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(payload, &ref) == nil {
			info.RecordID = ref.ID
		}
	}
	s.dup = info
	s.state = StateDuplicatePending
}

// AdoptResult 采用历史结果集作为本会话产物（重复决策选择取用历史）
func (s *GenerationSession) AdoptResult(cases []model.TestCase) {
	s.result = cases
	s.state = StateCompleted
}

// ID 会话标识，只用于日志关联
func (s *GenerationSession) ID() string {
	return s.id
}

func (s *GenerationSession) State() SessionState {
	return s.state
}

func (s *GenerationSession) Err() error {
	return s.err
}

// Result 当前结果集；Completed 之前是请求前的既有集合
func (s *GenerationSession) Result() []model.TestCase {
	return s.result
}

// Partial 终态结果是否来自截断抢救而非完整解析
func (s *GenerationSession) Partial() bool {
	return s.partial
}

func (s *GenerationSession) Duplicate() *model.DuplicateInfo {
	return s.dup
}

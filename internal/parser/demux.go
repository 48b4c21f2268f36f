package parser

import (
	"encoding/json"
	"strings"
)

// 流内控制标记字面量。分片边界是任意的，可能正好落在标记中间，
// 因此缓冲区尾部凡是某个标记的前缀都必须保留，等待后续分片。
const (
	tagStatus    = "@@STATUS@@:"
	tagDiag      = "GEN_DIAG:"
	tagQM        = "GEN_QM:"
	tagDuplicate = "@@DUPLICATE@@"
	tagError     = "Error:"
)

type SignalKind int

const (
	SignalStatus SignalKind = iota
	SignalDiagnostic
	SignalQualityMetric
	SignalDuplicate
	SignalErrorLine
)

func (k SignalKind) String() string {
	switch k {
	case SignalStatus:
		return "status"
	case SignalDiagnostic:
		return "diagnostic"
	case SignalQualityMetric:
		return "quality_metric"
	case SignalDuplicate:
		return "duplicate"
	case SignalErrorLine:
		return "error"
	}
	return "unknown"
}

// Signal 从数据流里分离出来的控制面信号，按到达顺序产出
type Signal struct {
	Kind    SignalKind
	Text    string          // Status / ErrorLine 的文本
	Payload json.RawMessage // Diagnostic / QualityMetric 的 JSON
}

// Demuxer 控制面分离器：把不断增长的缓冲区拆成控制信号和纯内容。
// 一旦识别出 @@DUPLICATE@@ 标记，本条流余下的所有字节都归入标记载荷，
// 不再产出任何内容——这是会话暂停等待用户决策的前提。
type Demuxer struct {
	buf     string
	started bool // 是否已消费过任何字节（用于判定缓冲区起点是否为行首）
	prev    byte // 最近一个被消费掉的字节

	fatal bool // 已出现 Error: 行，停止一切后续解析

	dupActive  bool
	dupDone    bool
	dupBuf     strings.Builder
	dupPayload json.RawMessage
}

func NewDemuxer() *Demuxer {
	return &Demuxer{}
}

// Feed 追加一个到达分片，返回其中完整的控制信号和可下发的内容。
// 疑似被截断的标记会留在缓冲区里，既不会当成内容，也不会丢失。
func (d *Demuxer) Feed(chunk string) ([]Signal, string) {
	if d.fatal {
		return nil, ""
	}
	if d.dupActive {
		d.dupBuf.WriteString(chunk)
		d.tryResolveDuplicate()
		return nil, ""
	}
	d.buf += chunk
	return d.drain(false)
}

// Flush 在流结束时调用：尾部不再可能有后续分片，
// 未终止的标记按流结束处理，其余残留全部作为内容下发。
func (d *Demuxer) Flush() ([]Signal, string) {
	if d.dupActive {
		d.tryResolveDuplicate()
		return nil, ""
	}
	return d.drain(true)
}

// DuplicateActive 报告是否已进入重复标记载荷收集状态
func (d *Demuxer) DuplicateActive() bool {
	return d.dupActive
}

// DuplicatePayload 返回已解析成功的标记载荷；尚未凑齐完整 JSON 时 ok 为 false
func (d *Demuxer) DuplicatePayload() (json.RawMessage, bool) {
	return d.dupPayload, d.dupDone
}

func (d *Demuxer) drain(final bool) ([]Signal, string) {
	var signals []Signal
	var content strings.Builder

	for d.buf != "" {
		idx, tag := d.earliestTag()
		if idx == -1 {
			keep := len(d.buf)
			if !final {
				keep = d.partialTagStart()
			}
			d.emit(&content, d.buf[:keep])
			d.buf = d.buf[keep:]
			break
		}

		d.emit(&content, d.buf[:idx])
		rest := d.buf[idx:]

		if tag == tagDuplicate {
			d.buf = ""
			d.dupActive = true
			d.dupBuf.WriteString(rest[len(tagDuplicate):])
			d.tryResolveDuplicate()
			signals = append(signals, Signal{Kind: SignalDuplicate})
			break
		}

		body := rest[len(tag):]
		nl := strings.IndexByte(body, '\n')
		if nl == -1 {
			if !final {
				// 标记还没等到换行终止符，整段保留
				d.buf = rest
				break
			}
			nl = len(body)
			d.buf = ""
		} else {
			d.buf = body[nl+1:]
			d.prev = '\n'
			d.started = true
		}

		line := strings.TrimRight(body[:nl], "\r")
		sig := signalFor(tag, line)
		signals = append(signals, sig)
		if sig.Kind == SignalErrorLine {
			d.fatal = true
			d.buf = ""
			break
		}
	}

	return signals, content.String()
}

func signalFor(tag, line string) Signal {
	switch tag {
	case tagStatus:
		return Signal{Kind: SignalStatus, Text: line}
	case tagDiag:
		return Signal{Kind: SignalDiagnostic, Payload: json.RawMessage(strings.TrimSpace(line))}
	case tagQM:
		return Signal{Kind: SignalQualityMetric, Payload: json.RawMessage(strings.TrimSpace(line))}
	}
	return Signal{Kind: SignalErrorLine, Text: strings.TrimSpace(line)}
}

// earliestTag 找出缓冲区中最早出现的完整标记起点。
// Error: 只有位于行首才算控制信号，JSON 字符串值里出现的 "Error:" 不受影响，
// 因为数组内容在更早的标记判定中已按内容下发。
func (d *Demuxer) earliestTag() (int, string) {
	best := -1
	tag := ""
	for _, t := range []string{tagStatus, tagDiag, tagQM, tagDuplicate} {
		if i := strings.Index(d.buf, t); i != -1 && (best == -1 || i < best) {
			best, tag = i, t
		}
	}

	from := 0
	for {
		i := strings.Index(d.buf[from:], tagError)
		if i == -1 {
			break
		}
		i += from
		if d.lineStartAt(i) {
			if best == -1 || i < best {
				best, tag = i, tagError
			}
			break
		}
		from = i + 1
	}

	return best, tag
}

// partialTagStart 在缓冲区尾部做固定标记集上的前缀匹配：
// 返回需要保留的尾部起点，该尾部是某个标记的真前缀；没有则返回缓冲区长度。
func (d *Demuxer) partialTagStart() int {
	n := len(d.buf)
	lo := n - len(tagDuplicate) + 1
	if lo < 0 {
		lo = 0
	}
	for i := lo; i < n; i++ {
		suffix := d.buf[i:]
		for _, t := range []string{tagStatus, tagDiag, tagQM, tagDuplicate} {
			if len(suffix) < len(t) && strings.HasPrefix(t, suffix) {
				return i
			}
		}
		if len(suffix) < len(tagError) && strings.HasPrefix(tagError, suffix) && d.lineStartAt(i) {
			return i
		}
	}
	return n
}

func (d *Demuxer) lineStartAt(i int) bool {
	if i > 0 {
		return d.buf[i-1] == '\n'
	}
	return !d.started || d.prev == '\n'
}

func (d *Demuxer) emit(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	b.WriteString(s)
	d.prev = s[len(s)-1]
	d.started = true
}

// tryResolveDuplicate 尝试把累积的标记载荷解析成一个完整 JSON 值。
// 载荷允许带一个前导冒号；解析不成功不是错误，继续等后续字节。
func (d *Demuxer) tryResolveDuplicate() {
	if d.dupDone {
		return
	}
	p := strings.TrimSpace(d.dupBuf.String())
	p = strings.TrimPrefix(p, ":")
	p = strings.TrimSpace(p)
	if p == "" {
		return
	}
	dec := json.NewDecoder(strings.NewReader(p))
	var raw json.RawMessage
	if dec.Decode(&raw) == nil {
		d.dupPayload = raw
		d.dupDone = true
	}
}

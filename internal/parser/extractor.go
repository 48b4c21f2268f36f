package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ExtractStatus 提取结果的三态：完整、部分（截断后抢救）、失败。
// 流式过程中数组没闭合是常态，用显式状态表达而不是抛错。
type ExtractStatus int

const (
	ExtractComplete ExtractStatus = iota
	ExtractPartial
	ExtractFailed
)

type ExtractResult struct {
	Cases  []any
	Status ExtractStatus
	Reason string
}

var (
	fenceRe         = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// Extract 在累积内容里找出所有顶层数组，并逐个取出其中已闭合的顶层对象。
// 支持多个先后拼接的数组（分批生成往往每批输出一个数组）。
// 单个对象畸形只跳过该对象，不影响其余。
// 是内容的纯函数，多次重复调用结果一致，因此调用方只做节流不加锁。
func Extract(content string) ExtractResult {
	cleaned := cleanContent(content)
	if cleaned == "" {
		return ExtractResult{Status: ExtractFailed, Reason: "内容为空"}
	}

	cases, closed := extractFromArrays(cleaned)
	if len(cases) > 0 {
		if closed {
			return ExtractResult{Cases: cases, Status: ExtractComplete}
		}
		return ExtractResult{Cases: cases, Status: ExtractPartial, Reason: "尾部数组未闭合"}
	}

	// 没扫到任何完整对象，退回整篇解析一次
	if cases, ok := parseWhole(cleaned); ok {
		return ExtractResult{Cases: cases, Status: ExtractComplete}
	}

	// 抢救：流在对象中间被截断时，把最后一个顶层数组在最近的 } 处重新闭合
	if cases, ok := salvage(cleaned); ok {
		return ExtractResult{Cases: cases, Status: ExtractPartial, Reason: "截断后抢救恢复"}
	}

	return ExtractResult{Status: ExtractFailed, Reason: "未找到可解析的JSON结构"}
}

// cleanContent 预处理：优先取 Markdown 代码块内容，去 BOM，去首尾空白
func cleanContent(content string) string {
	blocks := fenceRe.FindAllStringSubmatch(content, -1)
	if len(blocks) > 0 {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			parts = append(parts, b[1])
		}
		content = strings.Join(parts, "\n")
	} else {
		content = strings.ReplaceAll(content, "```json", "")
		content = strings.ReplaceAll(content, "```", "")
	}
	content = strings.ReplaceAll(content, "\uFEFF", "")
	return strings.TrimSpace(content)
}

// extractFromArrays 逐个定位顶层数组并取出其中的完整对象。
// closed 表示最后一个数组是否已闭合；顶层对象直接跳过，留给整篇解析兜底。
func extractFromArrays(s string) (cases []any, closed bool) {
	closed = true
	pos := 0
	for pos < len(s) {
		c := s[pos]
		switch c {
		case '[':
			end := MatchBracket(s, pos)
			if end == -1 {
				// 尾部未闭合的数组：里面已经完整的对象照样提取
				cases = append(cases, objectsIn(s[pos+1:])...)
				return cases, false
			}
			cases = append(cases, objectsIn(s[pos+1:end])...)
			pos = end + 1
		case '{':
			end := MatchBracket(s, pos)
			if end == -1 {
				return cases, closed
			}
			pos = end + 1
		default:
			pos++
		}
	}
	return cases, closed
}

// objectsIn 在一个数组片段内逐个提取完整对象，畸形对象跳过
func objectsIn(seg string) []any {
	var out []any
	pos := 0
	for pos < len(seg) {
		if seg[pos] != '{' {
			pos++
			continue
		}
		end := MatchBracket(seg, pos)
		if end == -1 {
			break
		}
		candidate := trailingCommaRe.ReplaceAllString(seg[pos:end+1], "$1")
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			out = append(out, obj)
		}
		pos = end + 1
	}
	return out
}

func parseWhole(s string) ([]any, bool) {
	candidate := trailingCommaRe.ReplaceAllString(s, "$1")
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case []any:
		return t, true
	case map[string]any:
		return []any{t}, true
	}
	return nil, false
}

func salvage(s string) ([]any, bool) {
	start := strings.LastIndexByte(s, '[')
	if start == -1 {
		return nil, false
	}
	lastBrace := strings.LastIndexByte(s, '}')
	if lastBrace <= start {
		return nil, false
	}
	candidate := trailingCommaRe.ReplaceAllString(s[start:lastBrace+1]+"]", "$1")
	var list []any
	if err := json.Unmarshal([]byte(candidate), &list); err != nil {
		return nil, false
	}
	if len(list) == 0 {
		return nil, false
	}
	return list, true
}

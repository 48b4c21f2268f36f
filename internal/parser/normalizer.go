package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"aitest-backend/internal/model"
)

// 各规范字段的别名表，按优先级排列，取第一个有值的别名。
// 模型输出的字段名经常中英混杂，这里覆盖两种语言的常见写法。
var (
	idAliases          = []string{"id", "ID", "case_id", "caseId", "用例编号", "编号", "test_case_id", "testcase_id"}
	descAliases        = []string{"description", "desc", "用例描述", "描述", "name", "title", "标题"}
	moduleAliases      = []string{"test_module", "module", "testModule", "模块", "功能模块", "所属模块"}
	preAliases         = []string{"preconditions", "precondition", "前置条件", "前提条件", "conditions"}
	stepAliases        = []string{"steps", "step", "操作步骤", "步骤", "test_steps", "testSteps"}
	inputAliases       = []string{"test_input", "input", "testInput", "输入", "测试输入", "入参"}
	expectedAliases    = []string{"expected_result", "expected", "expectedResult", "预期结果", "期望结果", "断言"}
	priorityAliases    = []string{"priority", "Priority", "prio", "优先级", "级别"}
	listEntryAliases   = []string{"text", "desc", "step", "name", "内容", "描述", "步骤"}
	canonicalIDPattern = regexp.MustCompile(`^TC-\d{3,}$`)
	bareNumberPattern  = regexp.MustCompile(`^\d+$`)
)

// NormalizeCases 把提取出的原始条目映射为规范用例。
// 非对象条目直接丢弃；缺失字段补空值，保证输出恒为八字段。
func NormalizeCases(raw []any) []model.TestCase {
	cases := make([]model.TestCase, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		cases = append(cases, normalizeOne(obj, i))
	}
	return cases
}

func normalizeOne(obj map[string]any, index int) model.TestCase {
	return model.TestCase{
		ID:             normalizeID(pick(obj, idAliases), index),
		Description:    strings.TrimSpace(stringify(pick(obj, descAliases))),
		TestModule:     strings.TrimSpace(stringify(pick(obj, moduleAliases))),
		Preconditions:  normalizeList(pick(obj, preAliases)),
		Steps:          normalizeList(pick(obj, stepAliases)),
		TestInput:      strings.TrimSpace(stringify(pick(obj, inputAliases))),
		ExpectedResult: strings.TrimSpace(stringify(pick(obj, expectedAliases))),
		Priority:       normalizePriority(stringify(pick(obj, priorityAliases))),
	}
}

// pick 取第一个有非空值的别名；空字符串视同缺失，继续找下一个别名
func pick(obj map[string]any, aliases []string) any {
	for _, k := range aliases {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

// normalizeID 用例编号：符合 TC-### 的原样保留，纯数字补零，
// 其余情况按位置合成（TC-001 起）
func normalizeID(v any, index int) string {
	s := strings.TrimSpace(stringify(v))
	if canonicalIDPattern.MatchString(s) {
		return s
	}
	if bareNumberPattern.MatchString(s) {
		if n, err := strconv.Atoi(s); err == nil {
			return fmt.Sprintf("TC-%03d", n)
		}
	}
	return fmt.Sprintf("TC-%03d", index+1)
}

// normalizeList 列表字段同时接受原生数组和分隔字符串：
// 字符串按换行、全角分号、半角分号依次尝试切分，空项丢弃；
// 数组里的对象条目取常见内容字段
func normalizeList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			var s string
			if m, ok := x.(map[string]any); ok {
				if inner := pick(m, listEntryAliases); inner != nil {
					s = stringify(inner)
				} else {
					s = fmt.Sprintf("%v", m)
				}
			} else {
				s = stringify(x)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return []string{}
		}
		var parts []string
		switch {
		case strings.Contains(s, "\n"):
			parts = strings.Split(s, "\n")
		case strings.Contains(s, "；"):
			parts = strings.Split(s, "；")
		case strings.Contains(s, ";"):
			parts = strings.Split(s, ";")
		default:
			return []string{s}
		}
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		if s := strings.TrimSpace(stringify(v)); s != "" {
			return []string{s}
		}
		return []string{}
	}
}

// normalizePriority 大小写不敏感归一到 P0/P1/P2，中英文高中低分别对应，
// 识别不了的一律降级为 P1
func normalizePriority(raw string) string {
	p := strings.ToUpper(strings.TrimSpace(raw))
	switch p {
	case "P0", "P1", "P2":
		return p
	case "高", "HIGH":
		return "P0"
	case "中", "MEDIUM":
		return "P1"
	case "低", "LOW":
		return "P2"
	}
	return "P1"
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

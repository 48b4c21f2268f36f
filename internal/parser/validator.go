package parser

import (
	"encoding/json"
	"errors"
	"fmt"

	"aitest-backend/internal/model"
)

// 规范用例的字段全集，多一个少一个都不行
var canonicalFields = []string{
	"id",
	"description",
	"test_module",
	"preconditions",
	"steps",
	"test_input",
	"expected_result",
	"priority",
}

var canonicalFieldSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(canonicalFields))
	for _, f := range canonicalFields {
		m[f] = struct{}{}
	}
	return m
}()

// ValidateRaw 严格校验候选结果集：必须是非空数组，
// 每个元素必须是恰好包含八个规范字段的对象。
// 错误信息带上出错元素的序号（从 1 起）和具体字段。
func ValidateRaw(v any) error {
	list, ok := v.([]any)
	if !ok {
		return fmt.Errorf("结果集必须是JSON数组，实际为 %s", describeShape(v))
	}
	if len(list) == 0 {
		return errors.New("结果集为空数组")
	}
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("第 %d 条记录不是JSON对象", i+1)
		}
		for _, f := range canonicalFields {
			if _, ok := obj[f]; !ok {
				return fmt.Errorf("第 %d 条记录缺少字段 %q", i+1, f)
			}
		}
		for k := range obj {
			if _, ok := canonicalFieldSet[k]; !ok {
				return fmt.Errorf("第 %d 条记录包含多余字段 %q", i+1, k)
			}
		}
	}
	return nil
}

// ValidateCases 对规范化后的结果集复核一遍结构。
// 每次合并之后都必须重新调用；校验失败的合并要整体拒绝。
func ValidateCases(cases []model.TestCase) error {
	b, err := json.Marshal(cases)
	if err != nil {
		return fmt.Errorf("结果集序列化失败: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("结果集反序列化失败: %w", err)
	}
	return ValidateRaw(v)
}

func describeShape(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "JSON对象"
	case string:
		return "字符串"
	case float64:
		return "数值"
	case bool:
		return "布尔值"
	}
	return fmt.Sprintf("%T", v)
}

package service

import (
	"errors"
	"fmt"
)

// 解析层的失败一律落到可报告的终态，绝不用编造的占位用例兜底。
// 传输层错误不在此列，按原样向上透传。
var (
	ErrEmptyResult         = errors.New("生成流结束但没有可提取的内容")
	ErrNoPendingDuplicate  = errors.New("当前槽位没有等待决策的重复条件")
	ErrDuplicateUnresolved = errors.New("重复标记载荷未能解析，引用为空")
)

// ProtocolError 流内的 Error: 控制行，文本直接面向用户展示
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// SchemaMismatchError 整批内容解析不出任何有效用例
type SchemaMismatchError struct {
	Shape string // 对实际观测到的形态的描述
	Err   error
}

func (e *SchemaMismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("生成结果不符合用例结构（%s）: %v", e.Shape, e.Err)
	}
	return fmt.Sprintf("生成结果不符合用例结构: %s", e.Shape)
}

func (e *SchemaMismatchError) Unwrap() error {
	return e.Err
}

// MergeError 追加合并后的结果集未通过校验；合并前的结果集原样保留
type MergeError struct {
	Err error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("追加合并被拒绝: %v", e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

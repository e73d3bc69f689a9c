package models

import (
	"encoding/json"
)

// Optional 可能缺失的值：Present(value) 或 Absent
type Optional[T any] struct {
	value   T
	present bool
}

// Present 构造存在的值
func Present[T any](value T) Optional[T] {
	return Optional[T]{value: value, present: true}
}

// Absent 构造缺失的值
func Absent[T any]() Optional[T] {
	return Optional[T]{}
}

// Get 返回值以及是否存在
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.present
}

// IsPresent 是否存在
func (o Optional[T]) IsPresent() bool {
	return o.present
}

// OrElse 缺失时返回默认值
func (o Optional[T]) OrElse(fallback T) T {
	if o.present {
		return o.value
	}
	return fallback
}

// MarshalJSON 缺失时序列化为 null
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.present {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON null 解析为缺失
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Absent[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Present(v)
	return nil
}

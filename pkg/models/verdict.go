package models

import (
	"time"
)

// Verdict 升级检测结论
//
// 未升级时只包含 upgraded 字段，其余字段仅在升级时出现。
type Verdict struct {
	Upgraded                  bool   `json:"upgraded"`
	NewImplementationAddress  string `json:"new_implementation_address,omitempty"`
	NewImplementationBytecode string `json:"new_implementation_bytecode,omitempty"`
	BytecodeChanged           *bool  `json:"bytecode_changed,omitempty"`
}

// NotUpgraded 未升级的结论
func NotUpgraded() *Verdict {
	return &Verdict{Upgraded: false}
}

// Upgraded 已升级的结论
func Upgraded(newImplementation, bytecodeHex string, bytecodeChanged bool) *Verdict {
	return &Verdict{
		Upgraded:                  true,
		NewImplementationAddress:  newImplementation,
		NewImplementationBytecode: bytecodeHex,
		BytecodeChanged:           &bytecodeChanged,
	}
}

// UpgradeReport 升级检测报告，用于结果输出与审计日志
type UpgradeReport struct {
	TransactionHash        string    `json:"transaction_hash"`        // 交易哈希
	Proxy                  string    `json:"proxy"`                   // 代理合约地址
	BlockBefore            uint64    `json:"block_before"`            // 对比的前一区块
	BlockAfter             uint64    `json:"block_after"`             // 交易所在区块
	PreviousImplementation string    `json:"previous_implementation"` // 升级前的实现地址
	CurrentImplementation  string    `json:"current_implementation"`  // 升级后的实现地址
	Node                   string    `json:"node,omitempty"`          // 查询使用的节点
	CheckedAt              time.Time `json:"checked_at"`              // 检测时间
	Verdict                *Verdict  `json:"verdict"`                 // 检测结论
}

// ToKafkaMessage 转换为Kafka消息格式
func (r *UpgradeReport) ToKafkaMessage() map[string]interface{} {
	msg := map[string]interface{}{
		"type":                    "upgrade_report",
		"transaction_hash":        r.TransactionHash,
		"proxy":                   r.Proxy,
		"block_before":            r.BlockBefore,
		"block_after":             r.BlockAfter,
		"previous_implementation": r.PreviousImplementation,
		"current_implementation":  r.CurrentImplementation,
		"checked_at":              r.CheckedAt.Unix(),
		"upgraded":                false,
	}
	if r.Node != "" {
		msg["node"] = r.Node
	}
	if r.Verdict != nil {
		msg["upgraded"] = r.Verdict.Upgraded
		if r.Verdict.Upgraded {
			msg["new_implementation_address"] = r.Verdict.NewImplementationAddress
			if r.Verdict.BytecodeChanged != nil {
				msg["bytecode_changed"] = *r.Verdict.BytecodeChanged
			}
		}
	}
	return msg
}

// Package types 定义 exitgw 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他 exitgw 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// ============================================================================
//                              RouterID - 身份标识
// ============================================================================

// RouterID 覆盖网络参与者的公开身份标识
//
// 固定 32 字节，一旦观测到即不可变。
//
// 外部表示格式：
//   - String(): Base58 编码（用户可读、可分享）
//   - SNodeName(): 服务节点主机名形式 <base58>.snode
type RouterID [32]byte

// EmptyRouterID 空身份标识
var EmptyRouterID RouterID

// ErrInvalidRouterID 无效的身份标识错误
var ErrInvalidRouterID = errors.New("invalid router ID: must be 32-byte Base58")

// String 返回 RouterID 的 Base58 字符串表示
func (id RouterID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回 RouterID 的短字符串表示
//
// 格式：Base58 前 8 个字符，用于日志中的简短标识。
func (id RouterID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// SNodeName 返回服务节点主机名形式（不含末尾的根点）
//
// 示例："5Q2STWvB....snode"
func (id RouterID) SNodeName() string {
	return id.String() + ".snode"
}

// Bytes 返回 RouterID 的字节切片
func (id RouterID) Bytes() []byte {
	return id[:]
}

// IsEmpty 检查 RouterID 是否为空
func (id RouterID) IsEmpty() bool {
	return id == EmptyRouterID
}

// RouterIDFromBytes 从字节切片创建 RouterID
func RouterIDFromBytes(b []byte) (RouterID, error) {
	if len(b) != 32 {
		return EmptyRouterID, ErrInvalidRouterID
	}
	var id RouterID
	copy(id[:], b)
	return id, nil
}

// ParseRouterID 从 Base58 字符串解析 RouterID
func ParseRouterID(s string) (RouterID, error) {
	if s == "" {
		return EmptyRouterID, ErrInvalidRouterID
	}
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyRouterID, ErrInvalidRouterID
	}
	return RouterIDFromBytes(b)
}

// ============================================================================
//                              CircuitID - 电路标识
// ============================================================================

// CircuitID 匿名多跳电路的标识符
//
// 固定 16 字节。电路在其生命周期内只会属于一个身份。
type CircuitID [16]byte

// EmptyCircuitID 空电路标识
var EmptyCircuitID CircuitID

// ErrInvalidCircuitID 无效的电路标识错误
var ErrInvalidCircuitID = errors.New("invalid circuit ID: must be 16 bytes")

// NewCircuitID 生成一个随机电路标识
func NewCircuitID() CircuitID {
	return CircuitID(uuid.New())
}

// String 返回 CircuitID 的十六进制表示
func (c CircuitID) String() string {
	return hex.EncodeToString(c[:])
}

// ShortString 返回 CircuitID 的短字符串表示（前 8 个十六进制字符）
func (c CircuitID) ShortString() string {
	return hex.EncodeToString(c[:4])
}

// IsEmpty 检查 CircuitID 是否为空
func (c CircuitID) IsEmpty() bool {
	return c == EmptyCircuitID
}

// CircuitIDFromBytes 从字节切片创建 CircuitID
func CircuitIDFromBytes(b []byte) (CircuitID, error) {
	if len(b) != 16 {
		return EmptyCircuitID, ErrInvalidCircuitID
	}
	var c CircuitID
	copy(c[:], b)
	return c, nil
}

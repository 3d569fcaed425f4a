package interfaces

import (
	"time"

	"github.com/dep2p/go-exitgw/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
// 电路层能力
// ════════════════════════════════════════════════════════════════════════════

// Circuits 匿名电路传输层能力
//
// 电路的建立、加密与认证在本模块之外完成；这里只消费
// 已建立电路上的非阻塞收发与存活判定。所有方法都不阻塞，
// 拒绝（返回 false）是正常的非致命结果。
type Circuits interface {
	// QueueDownstream 将一段下行流量入队到电路（发往电路另一端）
	//
	// 内部队列有界，满则返回 false。
	QueueDownstream(c types.CircuitID, payload []byte) bool

	// Flush 刷新电路的未决流量，返回是否全部成功
	Flush(c types.CircuitID) bool

	// Expired 判断电路在 now 时刻是否已过期
	Expired(c types.CircuitID, now time.Time) bool

	// LooksDead 判断电路在 now 时刻是否疑似死亡（久无流量）
	LooksDead(c types.CircuitID, now time.Time) bool

	// Stop 终止电路
	Stop(c types.CircuitID)

	// PreviousHopIsRouter 判断电路的上一跳是否为已知的覆盖网络路由器
	//
	// 为真时该电路的所有者被归类为服务节点而不是普通匿名客户端。
	PreviousHopIsRouter(c types.CircuitID, ident types.RouterID) bool
}

// NodeSession 本网关主动向其他服务节点打开的出站会话
type NodeSession interface {
	// QueueUpstream 将一个发往远端节点的包入队（有界，满则拒绝）
	QueueUpstream(pkt []byte) bool

	// Flush 刷新未决流量，返回是否全部成功
	Flush() bool

	// Expired 判断会话在 now 时刻是否已过期
	Expired(now time.Time) bool

	// Stop 终止会话
	Stop()
}

// NodeDialer 打开出站服务节点会话的能力
type NodeDialer interface {
	// Open 打开通往 ident 的出站会话
	//
	// 远端送回的流量通过 deliver 回调交付；deliver 返回 false
	// 表示本地未能接收（按丢包处理，不重试）。
	Open(ident types.RouterID, deliver func(pkt []byte) bool) (NodeSession, error)
}

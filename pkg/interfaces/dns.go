package interfaces

import "github.com/miekg/dns"

// ════════════════════════════════════════════════════════════════════════════
// DNS 拦截能力
// ════════════════════════════════════════════════════════════════════════════

// DNSHook 网关对途经 DNS 查询的拦截与合成能力
//
// 本地解析服务对每个查询先问 ShouldIntercept；为真时调用 Answer
// 取得本地合成的应答，否则转发给上游解析器。
// 两个方法都必须在网关逻辑线程上调用。
type DNSHook interface {
	// ShouldIntercept 判断查询是否必须由网关本地应答
	ShouldIntercept(msg *dns.Msg) bool

	// Answer 合成本地应答；仅在 ShouldIntercept 返回 true 后调用
	Answer(msg *dns.Msg) *dns.Msg
}

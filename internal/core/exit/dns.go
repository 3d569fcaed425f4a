package exit

import (
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/dep2p/go-exitgw/pkg/types"
)

// DNS 拦截器：决定哪些查询必须由网关本地应答，并用分配器
// 与会话分类合成答案。Endpoint 实现 interfaces.DNSHook。

const (
	// snodeSuffix 服务节点主机名的保留后缀（FQDN 形式）
	snodeSuffix = ".snode."

	// ptrSuffix IPv4 反向查询域
	ptrSuffix = ".in-addr.arpa."

	// dnsAnswerTTL 合成应答的 TTL
	dnsAnswerTTL = 300
)

// ShouldIntercept 判断查询是否必须由网关本地应答
//
//   - 没有问题的查询不拦截；
//   - PTR：解出候选地址，落在网关地址区间内才拦截；
//   - A：主机名带服务节点后缀才拦截；
//   - 其余查询类型一律不拦截。
func (e *Endpoint) ShouldIntercept(msg *dns.Msg) bool {
	if len(msg.Question) == 0 {
		return false
	}
	q := msg.Question[0]
	switch q.Qtype {
	case dns.TypePTR:
		ip, ok := decodePTR(q.Name)
		if !ok {
			return false
		}
		return e.ourRange.Contains(ip)
	case dns.TypeA:
		return strings.HasSuffix(strings.ToLower(q.Name), snodeSuffix)
	default:
		return false
	}
}

// Answer 合成本地应答；仅在 ShouldIntercept 为真后调用
//
// 反向查询从不改动网关状态；正向查询可能按需建立映射、
// 把身份归入服务节点集合并打开出站会话。
func (e *Endpoint) Answer(msg *dns.Msg) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetReply(msg)
	if len(msg.Question) == 0 {
		reply.Rcode = dns.RcodeNameError
		return reply
	}
	q := msg.Question[0]
	switch q.Qtype {
	case dns.TypePTR:
		e.answerPTR(q, reply)
	case dns.TypeA:
		e.answerA(q, reply)
	default:
		reply.Rcode = dns.RcodeNameError
	}
	return reply
}

// answerPTR 反向查询：地址 → 身份的文本形式
func (e *Endpoint) answerPTR(q dns.Question, reply *dns.Msg) {
	ip, ok := decodePTR(q.Name)
	if !ok {
		reply.Rcode = dns.RcodeNameError
		return
	}
	if ip == e.alloc.IfAddr() {
		// 网关自己的接口地址：回答网关自己的身份
		reply.Answer = append(reply.Answer, ptrRecord(q.Name, e.ourIdent))
		return
	}
	ident, ok := e.alloc.LookupIdent(ip)
	if ok && e.table.isNode(ident) {
		reply.Answer = append(reply.Answer, ptrRecord(q.Name, ident))
		return
	}
	reply.Rcode = dns.RcodeNameError
}

// answerA 正向查询：按需为服务节点分配地址
func (e *Endpoint) answerA(q dns.Question, reply *dns.Msg) {
	// 后缀匹配不区分大小写，但 Base58 标签区分，只能原样保留
	if !strings.HasSuffix(strings.ToLower(q.Name), snodeSuffix) {
		reply.Rcode = dns.RcodeNameError
		return
	}
	host := q.Name[:len(q.Name)-len(snodeSuffix)]
	ident, err := types.ParseRouterID(host)
	if err != nil {
		reply.Rcode = dns.RcodeNameError
		return
	}
	if !e.table.isNode(ident) {
		// 尚未归类：按需分配、归类并打开出站会话
		ip := e.OpenServiceNodeSession(ident)
		reply.Answer = append(reply.Answer, aRecord(q.Name, ip))
		return
	}
	if ip, ok := e.alloc.LookupIP(ident); ok {
		reply.Answer = append(reply.Answer, aRecord(q.Name, ip))
		return
	}
	// 已归类为服务节点却没有映射：本地不变量被破坏，
	// 按无此记录应答，绝不在这里补一次分配。
	log.Warn("snode classified but unmapped", "ident", ident.ShortString())
	reply.Rcode = dns.RcodeNameError
}

// ptrRecord 构造 PTR 应答记录
func ptrRecord(name string, ident types.RouterID) dns.RR {
	return &dns.PTR{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypePTR,
			Class:  dns.ClassINET,
			Ttl:    dnsAnswerTTL,
		},
		Ptr: dns.Fqdn(ident.SNodeName()),
	}
}

// aRecord 构造 A 应答记录
func aRecord(name string, ip types.VirtualIP) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    dnsAnswerTTL,
		},
		A: ip.NetIP(),
	}
}

// decodePTR 把反向查询名解码为候选地址
//
// "2.0.0.10.in-addr.arpa." → 10.0.0.2
func decodePTR(name string) (types.VirtualIP, bool) {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ptrSuffix) {
		return 0, false
	}
	labels := strings.Split(strings.TrimSuffix(lower, ptrSuffix), ".")
	if len(labels) != 4 {
		return 0, false
	}
	var ip uint32
	// PTR 名里的八位组是倒序的；只接受规范十进制
	// （无符号、无前导零）
	for i := 3; i >= 0; i-- {
		label := labels[i]
		if label == "" || (len(label) > 1 && label[0] == '0') {
			return 0, false
		}
		octet, err := strconv.ParseUint(label, 10, 8)
		if err != nil {
			return 0, false
		}
		ip = ip<<8 | uint32(octet)
	}
	return types.VirtualIP(ip), true
}

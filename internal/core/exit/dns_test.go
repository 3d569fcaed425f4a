package exit

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrQuery(name string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypePTR)
	return m
}

func aQuery(name string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeA)
	return m
}

func TestShouldIntercept(t *testing.T) {
	env := newTestEnv(t, testConfig())

	tests := []struct {
		name string
		msg  *dns.Msg
		want bool
	}{
		{"无问题不拦截", new(dns.Msg), false},
		{"区间内的反向查询", ptrQuery("2.0.0.10.in-addr.arpa."), true},
		{"网关自身地址的反向查询", ptrQuery("1.0.0.10.in-addr.arpa."), true},
		{"区间外的反向查询", ptrQuery("8.8.8.8.in-addr.arpa."), false},
		{"畸形的反向查询名", ptrQuery("foo.in-addr.arpa."), false},
		{"服务节点后缀的正向查询", aQuery(testIdent(1).SNodeName() + "."), true},
		{"大小写混合的后缀", aQuery(testIdent(1).String() + ".SNode."), true},
		{"普通域名的正向查询", aQuery("example.com."), false},
		{"其他查询类型", func() *dns.Msg {
			m := new(dns.Msg)
			m.SetQuestion("2.0.0.10.in-addr.arpa.", dns.TypeAAAA)
			return m
		}(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, env.ep.ShouldIntercept(tt.msg))
		})
	}
}

func TestAnswerPTR(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ep := env.ep

	// 网关自己的接口地址：回答网关自己的身份
	reply := ep.Answer(ptrQuery("1.0.0.10.in-addr.arpa."))
	require.Len(t, reply.Answer, 1)
	ptr, ok := reply.Answer[0].(*dns.PTR)
	require.True(t, ok)
	assert.Equal(t, dns.Fqdn(ep.ourIdent.SNodeName()), ptr.Ptr)

	// 未映射的地址：无此记录
	reply = ep.Answer(ptrQuery("2.0.0.10.in-addr.arpa."))
	assert.Equal(t, dns.RcodeNameError, reply.Rcode)
	assert.Empty(t, reply.Answer)

	// 映射给服务节点的地址可以反查
	snode := testIdent(5)
	ip := ep.OpenServiceNodeSession(snode)
	assert.Equal(t, "10.0.0.2", ip.String())

	reply = ep.Answer(ptrQuery("2.0.0.10.in-addr.arpa."))
	require.Len(t, reply.Answer, 1)
	ptr = reply.Answer[0].(*dns.PTR)
	assert.Equal(t, dns.Fqdn(snode.SNodeName()), ptr.Ptr)

	// 映射给普通出口身份（未归类为服务节点）的地址不可反查
	plain := testIdent(9)
	require.True(t, ep.OpenExit(plain, testCircuit(1), true))
	reply = ep.Answer(ptrQuery("3.0.0.10.in-addr.arpa."))
	assert.Equal(t, dns.RcodeNameError, reply.Rcode)
}

func TestAnswerPTRNeverMutates(t *testing.T) {
	env := newTestEnv(t, testConfig())

	// 反向查询从不建立映射
	_ = env.ep.Answer(ptrQuery("7.0.0.10.in-addr.arpa."))
	_, ok := env.ep.alloc.LookupIdent(mustRange(t, "10.0.0.7/32").Addr)
	assert.False(t, ok)
	assert.Empty(t, env.fd.opened)
}

func TestAnswerAOnDemand(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ep := env.ep
	snode := testIdent(3)
	name := dns.Fqdn(snode.SNodeName())

	// 首次查询：按需分配地址并打开出站会话
	reply := ep.Answer(aQuery(name))
	require.Len(t, reply.Answer, 1)
	a, ok := reply.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", a.A.String())
	assert.Contains(t, env.fd.opened, snode)

	// 重复查询幂等：同一地址，不再开新会话
	reply = ep.Answer(aQuery(name))
	require.Len(t, reply.Answer, 1)
	assert.Equal(t, "10.0.0.2", reply.Answer[0].(*dns.A).A.String())
	assert.Len(t, env.fd.opened, 1)
}

func TestAnswerABadLabel(t *testing.T) {
	env := newTestEnv(t, testConfig())

	reply := env.ep.Answer(aQuery("not-a-router-id.snode."))
	assert.Equal(t, dns.RcodeNameError, reply.Rcode)
	assert.Empty(t, reply.Answer)
}

func TestAnswerAClassifiedButUnmapped(t *testing.T) {
	env := newTestEnv(t, testConfig())
	snode := testIdent(4)

	// 身份被归类为服务节点但没有映射：按无此记录应答，绝不补一次分配
	env.ep.table.markNode(snode)
	reply := env.ep.Answer(aQuery(dns.Fqdn(snode.SNodeName())))
	assert.Equal(t, dns.RcodeNameError, reply.Rcode)
	assert.False(t, env.ep.alloc.HasMapping(snode))
}

func TestDecodePTR(t *testing.T) {
	ip, ok := decodePTR("2.0.0.10.in-addr.arpa.")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", ip.String())

	_, ok = decodePTR("example.com.")
	assert.False(t, ok)

	_, ok = decodePTR("300.0.0.10.in-addr.arpa.")
	assert.False(t, ok)

	_, ok = decodePTR("1.2.3.in-addr.arpa.")
	assert.False(t, ok)

	// 只接受规范十进制：带符号或带前导零的八位组一律拒绝
	_, ok = decodePTR("+2.0.0.10.in-addr.arpa.")
	assert.False(t, ok)

	_, ok = decodePTR("002.0.0.10.in-addr.arpa.")
	assert.False(t, ok)

	ip, ok = decodePTR("0.0.0.10.in-addr.arpa.")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.0", ip.String())
}

package resolver

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHook 可编程的拦截钩子
type fakeHook struct {
	intercept bool
	answer    *dns.Msg
}

func (h *fakeHook) ShouldIntercept(*dns.Msg) bool { return h.intercept }

func (h *fakeHook) Answer(*dns.Msg) *dns.Msg { return h.answer }

// recordWriter 记录写出应答的 dns.ResponseWriter
type recordWriter struct {
	written *dns.Msg
}

func (w *recordWriter) LocalAddr() net.Addr  { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (w *recordWriter) RemoteAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func (w *recordWriter) WriteMsg(m *dns.Msg) error {
	w.written = m
	return nil
}

func (w *recordWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *recordWriter) Close() error                { return nil }
func (w *recordWriter) TsigStatus() error           { return nil }
func (w *recordWriter) TsigTimersOnly(bool)         {}
func (w *recordWriter) Hijack()                     {}

func query(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	return m
}

func TestHandleHooked(t *testing.T) {
	req := query("abc.snode.", dns.TypeA)
	hooked := new(dns.Msg)
	hooked.SetReply(req)

	var marshalled bool
	srv, err := New("127.0.0.1:0", nil, &fakeHook{intercept: true, answer: hooked},
		func(f func()) { marshalled = true; f() })
	require.NoError(t, err)

	w := &recordWriter{}
	srv.handle(w, req)

	// 钩子应答经由 marshal 合成并原样写出
	assert.True(t, marshalled)
	assert.Equal(t, hooked, w.written)
}

func TestHandleNoUpstreams(t *testing.T) {
	srv, err := New("127.0.0.1:0", nil, &fakeHook{}, nil)
	require.NoError(t, err)

	w := &recordWriter{}
	srv.handle(w, query("example.com.", dns.TypeA))

	// 没有可用上游：服务器失败
	require.NotNil(t, w.written)
	assert.Equal(t, dns.RcodeServerFailure, w.written.Rcode)
}

func TestHandleServedFromCache(t *testing.T) {
	srv, err := New("127.0.0.1:0", nil, &fakeHook{}, nil)
	require.NoError(t, err)

	req := query("example.com.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   net.IPv4(93, 184, 216, 34),
	})
	srv.cachePut(req, resp)

	// 缓存命中时不再访问上游，应答带上请求自己的 Id
	req2 := query("example.com.", dns.TypeA)
	req2.Id = 4242
	w := &recordWriter{}
	srv.handle(w, req2)
	require.NotNil(t, w.written)
	assert.Equal(t, uint16(4242), w.written.Id)
	require.Len(t, w.written.Answer, 1)
}

func TestCacheExpiresByTTL(t *testing.T) {
	srv, err := New("127.0.0.1:0", nil, &fakeHook{}, nil)
	require.NoError(t, err)

	req := query("short.example.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: "short.example.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 0},
		A:   net.IPv4(192, 0, 2, 1),
	})
	srv.cachePut(req, resp)

	// TTL 走完的条目不再被复用
	_, ok := srv.cacheGet(req)
	assert.False(t, ok)
	assert.Equal(t, 0, srv.cache.Len())
}

func TestCachePutSkipsFailures(t *testing.T) {
	srv, err := New("127.0.0.1:0", nil, &fakeHook{}, nil)
	require.NoError(t, err)

	req := query("nxdomain.example.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetRcode(req, dns.RcodeNameError)
	srv.cachePut(req, resp)

	_, ok := srv.cacheGet(req)
	assert.False(t, ok)
}

func TestCacheKeyNormalizesCase(t *testing.T) {
	k1, ok := cacheKey(query("Example.COM.", dns.TypeA))
	require.True(t, ok)
	k2, ok := cacheKey(query("example.com.", dns.TypeA))
	require.True(t, ok)
	assert.Equal(t, k1, k2)

	// 名同类型不同的查询不共享缓存
	k3, _ := cacheKey(query("example.com.", dns.TypeAAAA))
	assert.NotEqual(t, k2, k3)
}

func TestStartStop(t *testing.T) {
	srv, err := New("127.0.0.1:0", nil, &fakeHook{}, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Stop())
}

func TestStartBindFailure(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	srv, err := New(pc.LocalAddr().String(), nil, &fakeHook{}, nil)
	require.NoError(t, err)
	assert.Error(t, srv.Start())
}

func TestStopBeforeStart(t *testing.T) {
	srv, err := New("127.0.0.1:0", nil, &fakeHook{}, nil)
	require.NoError(t, err)
	assert.NoError(t, srv.Stop())
}

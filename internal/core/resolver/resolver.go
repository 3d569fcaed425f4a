// Package resolver 提供网关的本地 DNS 解析服务
//
// 每个查询先交给网关的拦截钩子；被拦截的查询在本地合成应答，
// 其余转发给上游解析器并缓存成功的应答。绑定失败会让网关的
// 启动整体失败，不存在半启动状态。
package resolver

import (
	"fmt"
	"net"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"

	"github.com/dep2p/go-exitgw/internal/util/logger"
	pkgif "github.com/dep2p/go-exitgw/pkg/interfaces"
)

var log = logger.Logger("core.resolver")

const (
	// upstreamTimeout 单个上游的往返超时
	upstreamTimeout = 3 * time.Second

	// cacheSize 上游应答缓存容量
	cacheSize = 1024
)

// Server 本地 DNS 解析服务
type Server struct {
	addr      string
	upstreams []string

	hook pkgif.DNSHook

	// marshal 把钩子调用投递到网关逻辑线程同步执行
	marshal func(f func())

	srv    *dns.Server
	client *dns.Client
	cache  *lru.Cache[string, cacheEntry]
}

// cacheEntry 缓存的上游应答，按答案里最小的 TTL 过期
type cacheEntry struct {
	msg     *dns.Msg
	expires time.Time
}

// New 创建解析服务
//
// hook 的两个方法都会经由 marshal 在网关逻辑线程上调用；
// marshal 为 nil 时直接调用（测试用）。
func New(addr string, upstreams []string, hook pkgif.DNSHook, marshal func(f func())) (*Server, error) {
	cache, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Server{
		addr:      addr,
		upstreams: upstreams,
		hook:      hook,
		marshal:   marshal,
		client:    &dns.Client{Net: "udp", Timeout: upstreamTimeout},
		cache:     cache,
	}, nil
}

// Start 绑定并开始服务
//
// 先显式绑定，绑定失败立即返回错误。
func (s *Server) Start() error {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("绑定本地解析地址失败 %s: %w", s.addr, err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handle)
	s.srv = &dns.Server{PacketConn: pc, Handler: mux}

	go func() {
		if err := s.srv.ActivateAndServe(); err != nil {
			log.Error("解析服务退出", "err", err)
		}
	}()

	log.Info("local dns resolver started", "addr", s.addr, "upstreams", s.upstreams)
	return nil
}

// Stop 停止服务
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown()
}

// handle 处理一个查询
func (s *Server) handle(w dns.ResponseWriter, req *dns.Msg) {
	var hooked bool
	s.run(func() { hooked = s.hook.ShouldIntercept(req) })
	if hooked {
		var reply *dns.Msg
		s.run(func() { reply = s.hook.Answer(req) })
		writeReply(w, reply)
		return
	}

	if resp, ok := s.cacheGet(req); ok {
		resp.Id = req.Id
		writeReply(w, resp)
		return
	}

	for _, up := range s.upstreams {
		resp, _, err := s.client.Exchange(req, up)
		if err != nil {
			log.Warn("上游解析失败", "upstream", up, "err", err)
			continue
		}
		s.cachePut(req, resp)
		writeReply(w, resp)
		return
	}

	// 所有上游都失败
	m := new(dns.Msg)
	m.SetRcode(req, dns.RcodeServerFailure)
	writeReply(w, m)
}

// run 经由 marshal 执行 f
func (s *Server) run(f func()) {
	if s.marshal != nil {
		s.marshal(f)
		return
	}
	f()
}

// cacheKey 查询的缓存键：规范化的名字 + 类型
func cacheKey(req *dns.Msg) (string, bool) {
	if len(req.Question) != 1 {
		return "", false
	}
	q := req.Question[0]
	return strings.ToLower(q.Name) + "/" + dns.TypeToString[q.Qtype], true
}

// cacheGet 取缓存的应答副本；过期的条目当场移除
func (s *Server) cacheGet(req *dns.Msg) (*dns.Msg, bool) {
	key, ok := cacheKey(req)
	if !ok {
		return nil, false
	}
	cached, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if !time.Now().Before(cached.expires) {
		s.cache.Remove(key)
		return nil, false
	}
	return cached.msg.Copy(), true
}

// cachePut 只缓存带答案的成功应答，寿命取答案里最小的 TTL
func (s *Server) cachePut(req *dns.Msg, resp *dns.Msg) {
	if resp.Rcode != dns.RcodeSuccess || len(resp.Answer) == 0 {
		return
	}
	key, ok := cacheKey(req)
	if !ok {
		return
	}
	ttl := resp.Answer[0].Header().Ttl
	for _, rr := range resp.Answer[1:] {
		if rr.Header().Ttl < ttl {
			ttl = rr.Header().Ttl
		}
	}
	s.cache.Add(key, cacheEntry{
		msg:     resp.Copy(),
		expires: time.Now().Add(time.Duration(ttl) * time.Second),
	})
}

func writeReply(w dns.ResponseWriter, m *dns.Msg) {
	if m == nil {
		return
	}
	if err := w.WriteMsg(m); err != nil {
		log.Warn("写应答失败", "err", err)
	}
}

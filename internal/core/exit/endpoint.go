// Package exit 实现匿名覆盖网络的出口网关
//
// 网关让经由匿名多跳电路到达的流量访问公网（或充当服务节点的
// 其他覆盖网络参与者），并把回程流量送回正确的电路。核心由
// 五个部分组成：地址分配器、DNS 拦截器、会话与路由表、流量泵
// 和周期性的生命周期控制器，全部运行在单线程 reactor 上。
//
// 电路的建立与加密、路由器间的链路协商、本地接口的真实 I/O
// 都是外部协作者，以 pkg/interfaces 里的能力接口消费。
package exit

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dep2p/go-exitgw/config"
	"github.com/dep2p/go-exitgw/internal/core/resolver"
	"github.com/dep2p/go-exitgw/internal/util/logger"
	pkgif "github.com/dep2p/go-exitgw/pkg/interfaces"
	"github.com/dep2p/go-exitgw/pkg/types"
)

var log = logger.Logger("core.exit")

var (
	// ErrAlreadyStarted 网关已经启动
	ErrAlreadyStarted = errors.New("exit endpoint already started")

	// ErrNoInterface 需要本地接口但没有提供实现
	ErrNoInterface = errors.New("no net interface provided")
)

// Deps 网关消费的外部能力
type Deps struct {
	// Circuits 电路层传输（必需）
	Circuits pkgif.Circuits

	// Dialer 出站服务节点会话拨号器（可为 nil：无法主动开会话）
	Dialer pkgif.NodeDialer

	// NetIf 本地网络接口（type=null 时可为 nil）
	NetIf pkgif.NetInterface

	// Clock 时间源；nil 时使用真实时钟
	Clock clock.Clock
}

// Endpoint 出口网关
//
// 所有状态（分配器、会话表、当选缓存）只在 reactor 的逻辑
// goroutine 上被触碰；唯一的异步边界是 OnInetPacket 的入站
// 队列。启动前（如测试里）在单 goroutine 下直接调用各操作
// 也是安全的。
type Endpoint struct {
	name     string
	ourIdent types.RouterID
	ourRange types.IPRange

	permitExit  bool
	initNetIf   bool
	localDNS    string
	upstreamDNS []string
	ifName      string

	flushEvery time.Duration
	tickEvery  time.Duration

	sessionLifetime  time.Duration
	sessionDeadAfter time.Duration
	sessionQueueSize int

	clk   clock.Clock
	alloc *Allocator
	table *sessionTable

	inbound chan []byte

	circuits pkgif.Circuits
	dialer   pkgif.NodeDialer
	netif    pkgif.NetInterface
	dnssrv   *resolver.Server

	loop    *reactor
	started bool
}

// New 创建出口网关
//
// cfg 必须已通过 Validate；ident 是网关自己的身份。
func New(cfg *config.Config, ident types.RouterID, deps Deps) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Circuits == nil {
		return nil, errors.New("circuits capability is required")
	}
	rng, err := cfg.Range()
	if err != nil {
		return nil, err
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	e := &Endpoint{
		name:             cfg.Name,
		ourIdent:         ident,
		ourRange:         rng,
		permitExit:       cfg.PermitExit,
		initNetIf:        cfg.InitNetIf,
		localDNS:         cfg.LocalDNS,
		upstreamDNS:      cfg.UpstreamDNS,
		ifName:           cfg.IfName,
		flushEvery:       cfg.FlushInterval,
		tickEvery:        cfg.TickInterval,
		sessionLifetime:  cfg.SessionLifetime,
		sessionDeadAfter: cfg.SessionDeadAfter,
		sessionQueueSize: cfg.SessionQueueSize,
		clk:              clk,
		table:            newSessionTable(),
		inbound:          make(chan []byte, cfg.InboundQueueSize),
		circuits:         deps.Circuits,
		dialer:           deps.Dialer,
		netif:            deps.NetIf,
		loop:             newReactor(clk),
	}
	e.alloc = NewAllocator(rng, e.KickOffExit)

	log.Info("exit endpoint created",
		"name", e.name, "range", rng, "permitExit", e.permitExit)
	return e, nil
}

// Name 返回网关实例名
func (e *Endpoint) Name() string { return e.name }

// IfAddr 返回网关自身的接口地址
func (e *Endpoint) IfAddr() types.VirtualIP { return e.alloc.IfAddr() }

// Start 启动网关
//
// 依次启动逻辑循环、本地接口与本地解析服务；任何一步失败都
// 会回滚已启动的部分，网关不会处于半启动状态。
func (e *Endpoint) Start() error {
	if e.started {
		return ErrAlreadyStarted
	}

	// 逻辑循环先于一切外部入口（接口 I/O、解析服务）就绪：
	// 它们经 marshal 投递的调用从此一定在循环上执行
	e.loop.start(e.flushEvery, e.tickEvery, e.Flush, e.Tick)

	if e.initNetIf {
		if e.netif == nil {
			e.loop.stop()
			return ErrNoInterface
		}
		if err := e.netif.Start(e); err != nil {
			e.loop.stop()
			return fmt.Errorf("启动本地接口失败: %w", err)
		}

		upstreams := e.upstreamDNS
		if len(upstreams) == 0 {
			upstreams = []string{config.DefaultUpstreamDNS}
		}
		srv, err := resolver.New(e.localDNS, upstreams, e, e.marshal)
		if err == nil {
			err = srv.Start()
		}
		if err != nil {
			_ = e.netif.Close()
			e.loop.stop()
			return fmt.Errorf("启动本地解析服务失败: %w", err)
		}
		e.dnssrv = srv
	}

	e.started = true
	log.Info("exit endpoint started", "name", e.name, "ifname", e.ifName)
	return nil
}

// Stop 停止网关
func (e *Endpoint) Stop() error {
	var err error
	if e.dnssrv != nil {
		err = multierr.Append(err, e.dnssrv.Stop())
		e.dnssrv = nil
	}
	if e.netif != nil && e.initNetIf {
		err = multierr.Append(err, e.netif.Close())
	}
	if !e.loop.call(e.stopNodeSessions) {
		e.stopNodeSessions()
	}
	e.loop.stop()
	e.started = false
	log.Info("exit endpoint stopped", "name", e.name)
	return err
}

// stopNodeSessions 终止全部出站服务节点会话
func (e *Endpoint) stopNodeSessions() {
	for _, ns := range e.table.nodes {
		ns.link.Stop()
	}
}

// marshal 把外部线程的调用投递到逻辑循环上同步执行
//
// 循环未启动（测试）或已停止（关闭途中）时直接执行。
func (e *Endpoint) marshal(f func()) {
	if !e.loop.call(f) {
		f()
	}
}

// Tick 生命周期控制器，由逻辑循环周期性驱动
//
// 顺序固定：清过期的服务节点会话 → 清过期的出口会话 →
// 重建当选出口表 → 逐会话 tick。
func (e *Endpoint) Tick(now time.Time) {
	e.table.expire(now)
	e.table.rebuildChosen(now)
	e.table.tickSessions(now)
}

// OpenExit 为 (身份, 电路) 建立一条出口会话
//
// 请求公网出口但网关策略不允许时失败且不改动任何状态。
// 成功时分配/复用虚拟地址，电路上一跳是已知路由器的身份会被
// 归类为服务节点，最后登记会话并绑定电路。
// 返回该身份此刻是否持有可用映射。
func (e *Endpoint) OpenExit(ident types.RouterID, circuit types.CircuitID, wantInternet bool) bool {
	if wantInternet && !e.permitExit {
		return false
	}
	now := e.clk.Now()
	ip := e.alloc.GetOrAllocate(ident, now)

	if e.circuits.PreviousHopIsRouter(circuit, ident) {
		// 该电路看起来属于一个服务节点：归类之，
		// 之后不再向它主动打开出站会话
		e.table.markNode(ident)
	}

	s := newExitSession(ident, circuit, ip, !wantInternet, now,
		e.sessionLifetime, e.sessionDeadAfter, e.sessionQueueSize,
		e.circuits, e.writeToIf)
	e.table.addExit(s)
	e.table.byCircuit[circuit] = ident

	log.Info("exit opened", "ident", ident.ShortString(),
		"circuit", circuit.ShortString(), "ip", ip, "internet", wantInternet)
	return e.alloc.HasMapping(ident)
}

// RemoveExit 移除恰好匹配 (身份, 电路) 的那条会话；未命中为空操作
func (e *Endpoint) RemoveExit(s *ExitSession) {
	e.table.removeExit(s)
}

// KickOffExit 把身份踢出网关
//
// 移除身份↔地址的双向映射，并移除该身份名下的全部出口会话
// （不看电路）。引用该身份的路由状态随即变为陈旧，调用方一律
// 按「没有会话」处理。
func (e *Endpoint) KickOffExit(ident types.RouterID) {
	log.Info("kicking ident off exit", "ident", ident.ShortString())
	for _, s := range e.table.exitsFor(ident) {
		s.Stop()
	}
	e.table.removeExitsFor(ident)
	e.alloc.Remove(ident)
}

// OpenServiceNodeSession 为身份打开（或复用）出站服务节点会话
//
// 幂等：分配/复用地址；还没有出站会话时创建一条；调用本身
// 就把身份归类为服务节点。返回映射的地址。
func (e *Endpoint) OpenServiceNodeSession(ident types.RouterID) types.VirtualIP {
	now := e.clk.Now()
	ip := e.alloc.GetOrAllocate(ident, now)
	e.table.markNode(ident)

	if _, ok := e.table.nodeSessionFor(ident); !ok {
		if e.dialer == nil {
			log.Warn("no node dialer, skipping outbound session",
				"ident", ident.ShortString())
			return ip
		}
		link, err := e.dialer.Open(ident, e.deliverNodePacket)
		if err != nil {
			log.Warn("打开出站服务节点会话失败",
				"ident", ident.ShortString(), "err", err)
			return ip
		}
		e.table.addNodeSession(&nodeSession{ident: ident, ip: ip, link: link})
		log.Info("service node session opened",
			"ident", ident.ShortString(), "ip", ip)
	}
	return ip
}

// BindCircuit 记录电路 → 身份的绑定
//
// 电路已绑定（无论绑给谁）时失败且不改动任何状态。
func (e *Endpoint) BindCircuit(ident types.RouterID, circuit types.CircuitID) bool {
	return e.table.bindCircuit(ident, circuit)
}

// UnbindCircuit 无条件移除电路绑定（不存在则为空操作）
func (e *Endpoint) UnbindCircuit(circuit types.CircuitID) {
	e.table.unbindCircuit(circuit)
}

// FindSessionByCircuit 由电路找到对应的出口会话；没有则返回 nil
func (e *Endpoint) FindSessionByCircuit(circuit types.CircuitID) *ExitSession {
	return e.table.findByCircuit(circuit)
}

// HandleCircuitUpstream 电路层送来的上行流量入口
//
// 找到电路对应的会话并写回本地接口；没有会话按丢包处理。
func (e *Endpoint) HandleCircuitUpstream(circuit types.CircuitID, pkt []byte) bool {
	s := e.table.findByCircuit(circuit)
	if s == nil {
		log.Warn("upstream for unknown circuit", "circuit", circuit.ShortString())
		return false
	}
	return s.HandleUpstream(pkt, e.clk.Now())
}

// writeToIf 写一个包到本地接口
func (e *Endpoint) writeToIf(pkt []byte) bool {
	if e.netif == nil {
		return false
	}
	return e.netif.WritePacket(pkt)
}

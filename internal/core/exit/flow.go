package exit

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/dep2p/go-exitgw/pkg/types"
)

// 流量泵：两个独立方向，每个 tick 各自尽力而为地排空一次，
// 任何一步都不阻塞。

// OnInetPacket 本地接口收包回调（interfaces.PacketHandler）
//
// 这是整个网关唯一的异步入口：在 I/O 回调上被调用，只复制
// 入队，解析与路由推迟到逻辑线程的 Flush。队列有界且保序，
// 满则丢弃并计数。
func (e *Endpoint) OnInetPacket(pkt []byte) {
	buf := make([]byte, len(pkt))
	copy(buf, pkt)
	select {
	case e.inbound <- buf:
	default:
		metricInboundQueueFull.Inc()
		log.Warn("inbound queue full, dropping packet", "name", e.name)
	}
}

// Flush 排空入站队列并刷新所有会话
//
// 入站方向：逐包解析目的地址、入队到正确的会话；
// 出站方向：逐会话调用其自身的 Flush，失败只记录。
func (e *Endpoint) Flush() {
	now := e.clk.Now()

drain:
	for {
		select {
		case pkt := <-e.inbound:
			e.routeInbound(pkt, now)
		default:
			break drain
		}
	}

	for ident, list := range e.table.exits {
		for _, s := range list {
			if !s.Flush(now) {
				log.Warn("exit session dropped packets",
					"ident", ident.ShortString(), "circuit", s.circuit.ShortString())
			}
		}
	}
	for ident, ns := range e.table.nodes {
		if !ns.link.Flush() {
			log.Warn("failed to flush snode traffic via outbound session",
				"ident", ident.ShortString())
		}
	}
}

// routeInbound 把一个入站包送进正确的会话
func (e *Endpoint) routeInbound(raw []byte, now time.Time) {
	dst, ok := parseDstIP(raw)
	if !ok {
		metricDroppedUnparsed.Inc()
		log.Debug("dropping unparseable packet", "name", e.name)
		return
	}
	ident, ok := e.alloc.LookupIdent(dst)
	if !ok {
		// 没有对应会话，丢弃（仅诊断，不是错误）
		metricDroppedUnmapped.Inc()
		log.Warn("dropping packet, no session at", "dst", dst)
		return
	}
	e.alloc.MarkActive(dst, now)

	if e.table.isNode(ident) {
		// 优先走网关自己打开的出站服务节点会话；
		// 没有或被拒绝时回退到该身份的当选出口会话。
		if ns, ok := e.table.nodeSessionFor(ident); ok {
			if ns.link.QueueUpstream(raw) {
				metricForwarded.Inc()
				return
			}
		}
	}

	s, ok := e.table.chosenFor(ident)
	if !ok {
		metricDroppedNoEndpoint.Inc()
		log.Warn("dropped inbound traffic, no working endpoints",
			"ident", ident.ShortString())
		return
	}
	if !s.QueueInbound(raw) {
		metricDroppedOverloaded.Inc()
		log.Warn("dropped inbound traffic, overloaded",
			"ident", ident.ShortString())
		return
	}
	metricForwarded.Inc()
}

// deliverNodePacket 出站服务节点会话送回的包
//
// 源地址从身份专属的内部地址改写为网关自己的接口地址，
// 让本地协议栈看到一个一致的对端，然后写出到本地接口。
func (e *Endpoint) deliverNodePacket(pkt []byte) bool {
	out, ok := rewriteSource(pkt, e.alloc.IfAddr())
	if !ok {
		metricDroppedUnparsed.Inc()
		return false
	}
	return e.writeToIf(out)
}

// parseDstIP 惰性解析 IPv4 首部，取目的地址
func parseDstIP(raw []byte) (types.VirtualIP, bool) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv4,
		gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	l := pkt.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return 0, false
	}
	return types.VirtualIPFromNetIP(l.(*layers.IPv4).DstIP)
}

// rewriteSource 把包的源地址改写为 to，并重算校验和
func rewriteSource(raw []byte, to types.VirtualIP) ([]byte, bool) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.Default)
	l := pkt.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return nil, false
	}
	ip4 := l.(*layers.IPv4)
	ip4.SrcIP = to.NetIP()

	// 传输层校验和覆盖伪首部，改写源地址后必须一并重算
	if tl := pkt.Layer(layers.LayerTypeTCP); tl != nil {
		if err := tl.(*layers.TCP).SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, false
		}
	}
	if ul := pkt.Layer(layers.LayerTypeUDP); ul != nil {
		if err := ul.(*layers.UDP).SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, false
		}
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializePacket(buf, opts, pkt); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// Package netif 提供进程内的本地网络接口实现
//
// 真实部署里虚拟网卡 I/O 属于外部能力（见 interfaces.NetInterface）；
// 这里的内存实现供守护进程演示与测试使用：入站包由 Inject 注入，
// 写出的包可以从 Outbound 通道读取。
package netif

import (
	"errors"
	"sync/atomic"

	pkgif "github.com/dep2p/go-exitgw/pkg/interfaces"
)

// ErrClosed 接口已关闭
var ErrClosed = errors.New("netif closed")

// MemIf 内存网络接口
type MemIf struct {
	name    string
	handler atomic.Pointer[pkgif.PacketHandler]
	out     chan []byte
	closed  atomic.Bool
}

// New 创建内存接口
func New(name string) *MemIf {
	return &MemIf{
		name: name,
		out:  make(chan []byte, 256),
	}
}

// Name 返回接口名
func (m *MemIf) Name() string { return m.name }

// Start 登记收包回调
func (m *MemIf) Start(handler pkgif.PacketHandler) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.handler.Store(&handler)
	return nil
}

// Inject 模拟接口收到一个入站包
func (m *MemIf) Inject(pkt []byte) {
	if h := m.handler.Load(); h != nil {
		(*h).OnInetPacket(pkt)
	}
}

// WritePacket 写一个包到"本地协议栈"；缓冲满则拒绝
func (m *MemIf) WritePacket(pkt []byte) bool {
	if m.closed.Load() {
		return false
	}
	buf := make([]byte, len(pkt))
	copy(buf, pkt)
	select {
	case m.out <- buf:
		return true
	default:
		return false
	}
}

// Outbound 返回写出包的读取端
func (m *MemIf) Outbound() <-chan []byte {
	return m.out
}

// Close 关闭接口
func (m *MemIf) Close() error {
	m.closed.Store(true)
	return nil
}

// Package interfaces 定义 exitgw 公共接口
//
// 网关核心只通过这里的能力接口与外部协作者交互：
// 本地网络接口 I/O、电路层传输、DNS 拦截钩子。
// 具体实现（真实虚拟网卡、电路加密传输）不属于本模块。
package interfaces

// ════════════════════════════════════════════════════════════════════════════
// 本地网络接口能力
// ════════════════════════════════════════════════════════════════════════════

// PacketHandler 本地接口收包回调
//
// 由网关实现，在接口的 I/O 回调上被调用。实现方只允许把包
// 复制入队，解析与路由推迟到逻辑线程的 Flush 阶段。
type PacketHandler interface {
	// OnInetPacket 本地接口收到一个 IP 包
	OnInetPacket(pkt []byte)
}

// NetInterface 本地网络接口（虚拟网卡）能力
//
// 所有方法都不阻塞。
type NetInterface interface {
	// Name 返回接口名
	Name() string

	// WritePacket 将一个 IP 包写出到本地接口
	//
	// 非阻塞；内部缓冲已满时返回 false，调用方按普通丢包处理。
	WritePacket(pkt []byte) bool

	// Start 启动接口 I/O，收到的包交给 handler
	Start(handler PacketHandler) error

	// Close 停止接口 I/O
	Close() error
}

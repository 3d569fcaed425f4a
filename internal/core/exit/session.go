package exit

import (
	"time"

	pkgif "github.com/dep2p/go-exitgw/pkg/interfaces"
	"github.com/dep2p/go-exitgw/pkg/types"
)

// ExitSession 一条被授予出口权限的电路在网关侧的状态
//
// 以 (身份, 电路) 为键。同一身份可能并存多条会话（例如重连），
// 入站交付只走每个 tick 选出的那一条（见 chosen 表）。
type ExitSession struct {
	ident    types.RouterID
	circuit  types.CircuitID
	ip       types.VirtualIP
	nodeOnly bool // 只允许访问服务节点，不允许公网出口

	createdAt  time.Time
	lastActive time.Time
	lifetime   time.Duration
	deadAfter  time.Duration

	// 每个 tick 清零的流量计数
	txBytes uint64
	rxBytes uint64

	// 发往电路的下行队列（有界）
	downstream [][]byte
	queueSize  int

	circuits pkgif.Circuits
	writePkt func(pkt []byte) bool // 上行流量写回本地接口
}

func newExitSession(
	ident types.RouterID,
	circuit types.CircuitID,
	ip types.VirtualIP,
	nodeOnly bool,
	now time.Time,
	lifetime, deadAfter time.Duration,
	queueSize int,
	circuits pkgif.Circuits,
	writePkt func(pkt []byte) bool,
) *ExitSession {
	return &ExitSession{
		ident:      ident,
		circuit:    circuit,
		ip:         ip,
		nodeOnly:   nodeOnly,
		createdAt:  now,
		lastActive: now,
		lifetime:   lifetime,
		deadAfter:  deadAfter,
		queueSize:  queueSize,
		circuits:   circuits,
		writePkt:   writePkt,
	}
}

// Ident 返回会话所属身份
func (s *ExitSession) Ident() types.RouterID { return s.ident }

// Circuit 返回会话绑定的电路
func (s *ExitSession) Circuit() types.CircuitID { return s.circuit }

// IP 返回分配给该身份的虚拟地址
func (s *ExitSession) IP() types.VirtualIP { return s.ip }

// CreatedAt 返回会话创建时间
func (s *ExitSession) CreatedAt() time.Time { return s.createdAt }

// NodeOnly 返回会话是否只允许节点间流量
func (s *ExitSession) NodeOnly() bool { return s.nodeOnly }

// QueueInbound 将一个发往该身份的包入队
//
// 队列有界，满则拒绝；拒绝按「过载」计数，不影响会话本身。
func (s *ExitSession) QueueInbound(pkt []byte) bool {
	if len(s.downstream) >= s.queueSize {
		return false
	}
	buf := make([]byte, len(pkt))
	copy(buf, pkt)
	s.downstream = append(s.downstream, buf)
	s.rxBytes += uint64(len(pkt))
	return true
}

// HandleUpstream 电路送来的上行流量：记账后写回本地接口
func (s *ExitSession) HandleUpstream(pkt []byte, now time.Time) bool {
	s.lastActive = now
	s.txBytes += uint64(len(pkt))
	return s.writePkt(pkt)
}

// Flush 把队列中的下行流量推入电路
//
// 返回是否全部成功；失败只记录，不会移除会话。
func (s *ExitSession) Flush(now time.Time) bool {
	ok := true
	for _, pkt := range s.downstream {
		if s.circuits.QueueDownstream(s.circuit, pkt) {
			s.lastActive = now
		} else {
			ok = false
		}
	}
	s.downstream = s.downstream[:0]
	if !s.circuits.Flush(s.circuit) {
		ok = false
	}
	return ok
}

// LooksDead 判断会话在 now 时刻是否疑似死亡
func (s *ExitSession) LooksDead(now time.Time) bool {
	if s.circuits.LooksDead(s.circuit, now) {
		return true
	}
	return now.Sub(s.lastActive) >= s.deadAfter
}

// IsExpired 判断会话在 now 时刻是否已过期
func (s *ExitSession) IsExpired(now time.Time) bool {
	if s.circuits.Expired(s.circuit, now) {
		return true
	}
	return now.Sub(s.createdAt) >= s.lifetime
}

// Tick 清零流量计数；不影响存活判定
func (s *ExitSession) Tick(now time.Time) {
	s.txBytes = 0
	s.rxBytes = 0
}

// Stop 终止会话的电路
func (s *ExitSession) Stop() {
	s.circuits.Stop(s.circuit)
}

// nodeSession 网关主动向服务节点打开的出站会话
//
// 每个身份最多一条；链路本身由电路层提供，这里只记录
// 身份与分配的地址。
type nodeSession struct {
	ident types.RouterID
	ip    types.VirtualIP
	link  pkgif.NodeSession
}

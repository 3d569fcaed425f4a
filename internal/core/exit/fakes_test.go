package exit

import (
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-exitgw/config"
	"github.com/dep2p/go-exitgw/internal/netif"
	pkgif "github.com/dep2p/go-exitgw/pkg/interfaces"
	"github.com/dep2p/go-exitgw/pkg/types"
)

// 创建测试用 RouterID
func testIdent(seed byte) types.RouterID {
	var id types.RouterID
	for i := 0; i < 32; i++ {
		id[i] = byte(i) + seed
	}
	return id
}

// 创建测试用 CircuitID
func testCircuit(seed byte) types.CircuitID {
	var c types.CircuitID
	for i := 0; i < 16; i++ {
		c[i] = byte(i) + seed
	}
	return c
}

// fakeCircuits 电路层能力的测试替身
//
// 下行流量按电路记录在 queued 里；存活与过期由测试直接拨动。
type fakeCircuits struct {
	queued        map[types.CircuitID][][]byte
	dead          map[types.CircuitID]bool
	expired       map[types.CircuitID]bool
	stopped       map[types.CircuitID]bool
	prevHopRouter map[types.CircuitID]bool
	reject        bool
}

func newFakeCircuits() *fakeCircuits {
	return &fakeCircuits{
		queued:        make(map[types.CircuitID][][]byte),
		dead:          make(map[types.CircuitID]bool),
		expired:       make(map[types.CircuitID]bool),
		stopped:       make(map[types.CircuitID]bool),
		prevHopRouter: make(map[types.CircuitID]bool),
	}
}

func (f *fakeCircuits) QueueDownstream(c types.CircuitID, payload []byte) bool {
	if f.reject {
		return false
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	f.queued[c] = append(f.queued[c], buf)
	return true
}

func (f *fakeCircuits) Flush(types.CircuitID) bool { return true }

func (f *fakeCircuits) Expired(c types.CircuitID, _ time.Time) bool { return f.expired[c] }

func (f *fakeCircuits) LooksDead(c types.CircuitID, _ time.Time) bool { return f.dead[c] }

func (f *fakeCircuits) Stop(c types.CircuitID) { f.stopped[c] = true }

func (f *fakeCircuits) PreviousHopIsRouter(c types.CircuitID, _ types.RouterID) bool {
	return f.prevHopRouter[c]
}

// fakeNodeSession 出站服务节点会话的测试替身
type fakeNodeSession struct {
	deliver func(pkt []byte) bool
	queued  [][]byte
	reject  bool
	expired bool
	stopped bool
}

func (f *fakeNodeSession) QueueUpstream(pkt []byte) bool {
	if f.reject {
		return false
	}
	buf := make([]byte, len(pkt))
	copy(buf, pkt)
	f.queued = append(f.queued, buf)
	return true
}

func (f *fakeNodeSession) Flush() bool { return true }

func (f *fakeNodeSession) Expired(time.Time) bool { return f.expired }

func (f *fakeNodeSession) Stop() { f.stopped = true }

// fakeDialer 记录打开过的出站会话
type fakeDialer struct {
	opened map[types.RouterID]*fakeNodeSession
	fail   bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{opened: make(map[types.RouterID]*fakeNodeSession)}
}

func (d *fakeDialer) Open(ident types.RouterID, deliver func(pkt []byte) bool) (pkgif.NodeSession, error) {
	if d.fail {
		return nil, netif.ErrClosed
	}
	ns := &fakeNodeSession{deliver: deliver}
	d.opened[ident] = ns
	return ns, nil
}

// 测试配置：宽松的会话阈值，存活完全由 fakeCircuits 控制
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.IfAddr = "10.0.0.1/24"
	cfg.IfName = "exit0"
	cfg.PermitExit = true
	cfg.SessionLifetime = time.Hour
	cfg.SessionDeadAfter = time.Hour
	return cfg
}

// testEnv 组装好的网关测试环境
type testEnv struct {
	ep   *Endpoint
	fc   *fakeCircuits
	fd   *fakeDialer
	mem  *netif.MemIf
	mock *clock.Mock
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	fc := newFakeCircuits()
	fd := newFakeDialer()
	mem := netif.New(cfg.IfName)
	mock := clock.NewMock()
	ep, err := New(cfg, testIdent(0xE0), Deps{
		Circuits: fc,
		Dialer:   fd,
		NetIf:    mem,
		Clock:    mock,
	})
	require.NoError(t, err)
	return &testEnv{ep: ep, fc: fc, fd: fd, mem: mem, mock: mock}
}

// buildUDPPacket 构造一个带正确校验和的 UDP/IPv4 包
func buildUDPPacket(t *testing.T, src, dst net.IP, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src,
		DstIP:    dst,
	}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

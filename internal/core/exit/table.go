package exit

import (
	"time"

	"github.com/dep2p/go-exitgw/pkg/types"
)

// sessionTable 会话与路由表
//
// 跟踪活跃的出口会话（每个身份可多条）、网关自己打开的
// 服务节点会话（每个身份一条）、电路 → 身份的绑定，
// 以及每个 tick 重建的「当选出口」缓存。
type sessionTable struct {
	// exits 身份 → 出口会话（同一身份可并存多条）
	exits map[types.RouterID][]*ExitSession

	// byCircuit 电路 → 所属身份
	byCircuit map[types.CircuitID]types.RouterID

	// chosen 身份 → 当前入站交付首选的存活会话；纯缓存，从不持久化
	chosen map[types.RouterID]*ExitSession

	// nodes 身份 → 出站服务节点会话
	nodes map[types.RouterID]*nodeSession

	// nodeKeys 被归类为服务节点的身份集合
	nodeKeys map[types.RouterID]struct{}
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		exits:     make(map[types.RouterID][]*ExitSession),
		byCircuit: make(map[types.CircuitID]types.RouterID),
		chosen:    make(map[types.RouterID]*ExitSession),
		nodes:     make(map[types.RouterID]*nodeSession),
		nodeKeys:  make(map[types.RouterID]struct{}),
	}
}

// bindCircuit 记录电路 → 身份的绑定
//
// 电路在生命周期内只会属于一个身份：已绑定（无论绑给谁）
// 则失败且不改动任何状态。
func (t *sessionTable) bindCircuit(ident types.RouterID, circuit types.CircuitID) bool {
	if _, ok := t.byCircuit[circuit]; ok {
		return false
	}
	t.byCircuit[circuit] = ident
	return true
}

// unbindCircuit 无条件移除绑定（不存在则为空操作）
func (t *sessionTable) unbindCircuit(circuit types.CircuitID) {
	delete(t.byCircuit, circuit)
}

// identForCircuit 电路 → 身份
func (t *sessionTable) identForCircuit(circuit types.CircuitID) (types.RouterID, bool) {
	ident, ok := t.byCircuit[circuit]
	return ident, ok
}

// addExit 登记一条出口会话
func (t *sessionTable) addExit(s *ExitSession) {
	t.exits[s.ident] = append(t.exits[s.ident], s)
}

// removeExit 精确移除 (身份, 电路) 匹配的那一条会话；未命中为空操作
func (t *sessionTable) removeExit(s *ExitSession) {
	list := t.exits[s.ident]
	for i, cur := range list {
		if cur.circuit == s.circuit {
			t.exits[s.ident] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.exits[s.ident]) == 0 {
		delete(t.exits, s.ident)
	}
	if t.chosen[s.ident] == s {
		delete(t.chosen, s.ident)
	}
}

// removeExitsFor 移除身份名下的全部出口会话（不看电路）
func (t *sessionTable) removeExitsFor(ident types.RouterID) {
	delete(t.exits, ident)
	delete(t.chosen, ident)
}

// exitsFor 返回身份名下的出口会话
func (t *sessionTable) exitsFor(ident types.RouterID) []*ExitSession {
	return t.exits[ident]
}

// findByCircuit 返回电路对应身份名下与该电路匹配的会话
func (t *sessionTable) findByCircuit(circuit types.CircuitID) *ExitSession {
	ident, ok := t.byCircuit[circuit]
	if !ok {
		return nil
	}
	for _, s := range t.exits[ident] {
		if s.circuit == circuit {
			return s
		}
	}
	return nil
}

// chosenFor 返回身份当前的当选出口会话
func (t *sessionTable) chosenFor(ident types.RouterID) (*ExitSession, bool) {
	s, ok := t.chosen[ident]
	return s, ok
}

// markNode 将身份归入服务节点集合
func (t *sessionTable) markNode(ident types.RouterID) {
	t.nodeKeys[ident] = struct{}{}
}

// isNode 判断身份是否被归类为服务节点
func (t *sessionTable) isNode(ident types.RouterID) bool {
	_, ok := t.nodeKeys[ident]
	return ok
}

// nodeSessionFor 返回身份的出站服务节点会话
func (t *sessionTable) nodeSessionFor(ident types.RouterID) (*nodeSession, bool) {
	ns, ok := t.nodes[ident]
	return ns, ok
}

// addNodeSession 登记一条出站服务节点会话
func (t *sessionTable) addNodeSession(ns *nodeSession) {
	t.nodes[ns.ident] = ns
}

// expire 清理过期会话
//
// 先清服务节点会话，再清出口会话，与生命周期控制器的
// 约定顺序一致。
func (t *sessionTable) expire(now time.Time) {
	for ident, ns := range t.nodes {
		if ns.link.Expired(now) {
			ns.link.Stop()
			delete(t.nodes, ident)
			log.Info("service node session expired", "ident", ident.ShortString())
		}
	}
	for ident, list := range t.exits {
		kept := list[:0]
		for _, s := range list {
			if s.IsExpired(now) {
				log.Info("exit session expired",
					"ident", ident.ShortString(), "circuit", s.circuit.ShortString())
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(t.exits, ident)
		} else {
			t.exits[ident] = kept
		}
	}
}

// rebuildChosen 重建当选出口表
//
// 每个 tick 清空重建：某身份还没有条目时，第一条当前存活的
// 会话入选；已有条目时，只有严格更新且当前存活的候选才会
// 替换它。没有存活会话的身份没有条目，发往它的入站流量丢弃。
func (t *sessionTable) rebuildChosen(now time.Time) {
	clear(t.chosen)
	for ident, list := range t.exits {
		for _, s := range list {
			if cur, ok := t.chosen[ident]; ok {
				if cur.createdAt.Before(s.createdAt) && !s.LooksDead(now) {
					t.chosen[ident] = s
				}
			} else if !s.LooksDead(now) {
				t.chosen[ident] = s
			}
		}
	}
}

// tickSessions 逐会话 tick（清零流量计数）
func (t *sessionTable) tickSessions(now time.Time) {
	for _, list := range t.exits {
		for _, s := range list {
			s.Tick(now)
		}
	}
}

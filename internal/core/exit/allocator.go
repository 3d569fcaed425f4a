package exit

import (
	"time"

	"github.com/dep2p/go-exitgw/pkg/types"
)

// evictFunc 池耗尽时的驱逐回调
//
// 必须把该身份的全部会话终止并调用 Allocator.Remove 移除映射，
// 之后被腾出的地址才会被复用。
type evictFunc func(ident types.RouterID)

// Allocator 地址分配器
//
// 维护身份 ↔ 虚拟 IP 的双向映射。两侧永远在同一个逻辑步骤里
// 一起更新（insert / Remove 是仅有的变更入口），双射不变量
// 由构造保证，不依赖调用方自觉。
//
// 活跃时间表只用于挑选驱逐对象，不是会话存活的权威依据。
type Allocator struct {
	rng     types.IPRange
	next    types.VirtualIP
	highest types.VirtualIP

	byIdent  map[types.RouterID]types.VirtualIP
	byIP     map[types.VirtualIP]types.RouterID
	activity map[types.VirtualIP]time.Time

	onEvict evictFunc
}

// NewAllocator 创建地址分配器
//
// rng.Addr 是网关自身的接口地址，保留不分配；可分配区间为
// (rng.Addr, rng.HighestAddr()]。
func NewAllocator(rng types.IPRange, onEvict evictFunc) *Allocator {
	return &Allocator{
		rng:      rng,
		next:     rng.Addr,
		highest:  rng.HighestAddr(),
		byIdent:  make(map[types.RouterID]types.VirtualIP),
		byIP:     make(map[types.VirtualIP]types.RouterID),
		activity: make(map[types.VirtualIP]time.Time),
		onEvict:  onEvict,
	}
}

// IfAddr 返回网关自身的接口地址
func (a *Allocator) IfAddr() types.VirtualIP {
	return a.rng.Addr
}

// Range 返回配置的地址区间
func (a *Allocator) Range() types.IPRange {
	return a.rng
}

// GetOrAllocate 返回身份对应的虚拟 IP，必要时分配
//
// 已有映射时只刷新活跃时间；没有映射时顺序取下一个地址，
// 池耗尽则驱逐活跃时间最早的身份并复用其地址。
// 返回前总是将地址标记为活跃。
func (a *Allocator) GetOrAllocate(ident types.RouterID, now time.Time) types.VirtualIP {
	ip, ok := a.byIdent[ident]
	if !ok {
		ip = a.allocate(now)
		a.insert(ident, ip)
		log.Info("mapped ident", "ident", ident.ShortString(), "ip", ip)
	}
	a.MarkActive(ip, now)
	return ip
}

// allocate 取得一个可用地址
func (a *Allocator) allocate(now time.Time) types.VirtualIP {
	if a.next < a.highest {
		a.next++
		return a.next
	}

	// 池耗尽：找活跃时间最早的地址
	var victim types.VirtualIP
	var min time.Time
	first := true
	for ip, ts := range a.activity {
		if first || ts.Before(min) {
			victim = ip
			min = ts
			first = false
		}
	}
	if ident, ok := a.byIP[victim]; ok {
		// 地址仍有归属：回调负责终止会话并移除映射。
		// 没有归属的地址是先前被释放的，直接复用。
		if a.onEvict != nil {
			a.onEvict(ident)
		}
	}
	return victim
}

// insert 双向映射的唯一写入口
func (a *Allocator) insert(ident types.RouterID, ip types.VirtualIP) {
	a.byIdent[ident] = ip
	a.byIP[ip] = ident
}

// Remove 移除身份的双向映射
//
// 活跃时间记录保留：被释放的地址带着最老的时间戳，下一次池
// 耗尽时最先被复用，而不必驱逐仍然存活的身份。
func (a *Allocator) Remove(ident types.RouterID) {
	ip, ok := a.byIdent[ident]
	if !ok {
		return
	}
	delete(a.byIdent, ident)
	delete(a.byIP, ip)
}

// MarkActive 刷新地址的活跃时间
func (a *Allocator) MarkActive(ip types.VirtualIP, now time.Time) {
	a.activity[ip] = now
}

// LookupIP 身份 → 地址
func (a *Allocator) LookupIP(ident types.RouterID) (types.VirtualIP, bool) {
	ip, ok := a.byIdent[ident]
	return ip, ok
}

// LookupIdent 地址 → 身份
func (a *Allocator) LookupIdent(ip types.VirtualIP) (types.RouterID, bool) {
	ident, ok := a.byIP[ip]
	return ident, ok
}

// HasMapping 判断身份是否已有映射
func (a *Allocator) HasMapping(ident types.RouterID) bool {
	_, ok := a.byIdent[ident]
	return ok
}

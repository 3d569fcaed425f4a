package types

import (
	"errors"
	"fmt"
	"net"
)

// ============================================================================
//                              VirtualIP - 虚拟地址
// ============================================================================

// VirtualIP 代表某个身份的本地 IPv4 地址（主机字节序）
//
// 地址从网关配置的连续区间里分配，只在本机有意义。
type VirtualIP uint32

// NetIP 转换为 net.IP（4 字节形式）
func (ip VirtualIP) NetIP() net.IP {
	return net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip)).To4()
}

// String 返回点分十进制表示
func (ip VirtualIP) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

// VirtualIPFromNetIP 从 net.IP 转换，仅接受 IPv4
func VirtualIPFromNetIP(ip net.IP) (VirtualIP, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return VirtualIP(uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])), true
}

// ============================================================================
//                              IPRange - 地址区间
// ============================================================================

// ErrInvalidRange 无效的地址区间错误
var ErrInvalidRange = errors.New("invalid address range: must be an IPv4 CIDR")

// IPRange 网关的可分配地址区间
//
// Addr 是网关自身的接口地址（保留，永不分配给对端），
// 区间上界为 Addr | ^Mask。
type IPRange struct {
	Addr VirtualIP
	Mask VirtualIP
}

// ParseIPRange 解析 CIDR 表示（如 "10.0.0.1/24"）
//
// 保留 CIDR 中给出的主机地址作为接口地址，而不是网络地址。
func ParseIPRange(cidr string) (IPRange, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return IPRange{}, fmt.Errorf("%w: %s", ErrInvalidRange, cidr)
	}
	addr, ok := VirtualIPFromNetIP(ip)
	if !ok {
		return IPRange{}, fmt.Errorf("%w: %s", ErrInvalidRange, cidr)
	}
	m := ipnet.Mask
	if len(m) != 4 {
		return IPRange{}, fmt.Errorf("%w: %s", ErrInvalidRange, cidr)
	}
	mask := VirtualIP(uint32(m[0])<<24 | uint32(m[1])<<16 | uint32(m[2])<<8 | uint32(m[3]))
	return IPRange{Addr: addr, Mask: mask}, nil
}

// Contains 判断 ip 是否落在本区间内
func (r IPRange) Contains(ip VirtualIP) bool {
	return (r.Addr & r.Mask) == (ip & r.Mask)
}

// HighestAddr 返回区间上界（接口地址按位或上反转的掩码）
func (r IPRange) HighestAddr() VirtualIP {
	return r.Addr | ^r.Mask
}

// Size 返回可分配地址数量（不含接口地址自身）
func (r IPRange) Size() int {
	return int(r.HighestAddr() - r.Addr)
}

// String 返回 "addr-highest" 形式
func (r IPRange) String() string {
	return r.Addr.String() + "-" + r.HighestAddr().String()
}

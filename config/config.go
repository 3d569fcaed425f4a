// Package config 提供 exitgw 的统一配置管理
//
// 除结构化字段外，还提供字符串键值选项表面 Apply，
// 便于从 ini 风格的节点配置逐项喂入：
//
//	cfg := config.DefaultConfig()
//	cfg.Apply("exit", "true")
//	cfg.Apply("ifaddr", "10.0.0.1/24")
//	err := cfg.Validate()
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dep2p/go-exitgw/internal/util/logger"
	"github.com/dep2p/go-exitgw/pkg/types"
)

var log = logger.Logger("config")

// 默认值
const (
	// DefaultLocalDNS 本地解析器默认绑定地址
	DefaultLocalDNS = "127.0.0.1:53"

	// DefaultUpstreamDNS 未配置上游时使用的解析器
	DefaultUpstreamDNS = "8.8.8.8:53"

	// DefaultFlushInterval 流量泵的排空间隔
	DefaultFlushInterval = 100 * time.Millisecond

	// DefaultTickInterval 生命周期控制器的 tick 间隔
	DefaultTickInterval = time.Second

	// DefaultInboundQueueSize 入站包队列容量
	DefaultInboundQueueSize = 1024

	// DefaultSessionQueueSize 每条出口会话的下行队列容量
	DefaultSessionQueueSize = 32

	// DefaultSessionLifetime 出口会话寿命上限
	DefaultSessionLifetime = 10 * time.Minute

	// DefaultSessionDeadAfter 会话多久无流量后视为疑似死亡
	DefaultSessionDeadAfter = time.Minute
)

// ErrUnknownOption 未识别的配置键
var ErrUnknownOption = errors.New("unknown option")

// Config 出口网关配置
type Config struct {
	// Name 网关实例名（用于日志）
	Name string `json:"name"`

	// InitNetIf 是否初始化本地网络接口（type=null 关闭）
	InitNetIf bool `json:"init_netif"`

	// PermitExit 是否允许公网出口
	PermitExit bool `json:"permit_exit"`

	// IfAddr CIDR 表示的接口地址，决定可分配区间
	IfAddr string `json:"ifaddr"`

	// IfName 本地接口名
	IfName string `json:"ifname"`

	// LocalDNS 本地解析器绑定地址
	LocalDNS string `json:"local_dns"`

	// UpstreamDNS 上游解析器列表（可重复追加）
	UpstreamDNS []string `json:"upstream_dns"`

	// ExitWhitelist / ExitBlacklist 为出口策略预留，接受但不生效
	ExitWhitelist []string `json:"exit_whitelist"`
	ExitBlacklist []string `json:"exit_blacklist"`

	// FlushInterval 流量泵排空间隔
	FlushInterval time.Duration `json:"flush_interval"`

	// TickInterval 生命周期 tick 间隔
	TickInterval time.Duration `json:"tick_interval"`

	// InboundQueueSize 入站包队列容量
	InboundQueueSize int `json:"inbound_queue_size"`

	// SessionQueueSize 每条出口会话的下行队列容量
	SessionQueueSize int `json:"session_queue_size"`

	// SessionLifetime 出口会话寿命上限
	SessionLifetime time.Duration `json:"session_lifetime"`

	// SessionDeadAfter 会话疑似死亡的静默阈值
	SessionDeadAfter time.Duration `json:"session_dead_after"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Name:             "exit",
		InitNetIf:        true,
		PermitExit:       false,
		LocalDNS:         DefaultLocalDNS,
		FlushInterval:    DefaultFlushInterval,
		TickInterval:     DefaultTickInterval,
		InboundQueueSize: DefaultInboundQueueSize,
		SessionQueueSize: DefaultSessionQueueSize,
		SessionLifetime:  DefaultSessionLifetime,
		SessionDeadAfter: DefaultSessionDeadAfter,
	}
}

// Apply 应用一个字符串键值选项
//
// 未识别的键返回 ErrUnknownOption，
// 调用方可以选择忽略（节点配置里可能混有其他子系统的键）。
func (c *Config) Apply(key, value string) error {
	switch key {
	case "type":
		if value == "null" {
			c.InitNetIf = false
		}
	case "exit":
		c.PermitExit = isTruthy(value)
	case "local-dns":
		c.LocalDNS = withDefaultPort(value)
		log.Info("local dns set", "addr", c.LocalDNS)
	case "upstream-dns":
		addr := withDefaultPort(value)
		c.UpstreamDNS = append(c.UpstreamDNS, addr)
		log.Info("adding upstream dns", "addr", addr)
	case "ifaddr":
		if !strings.Contains(value, "/") {
			return fmt.Errorf("ifaddr is not a cidr: %s", value)
		}
		if _, err := types.ParseIPRange(value); err != nil {
			return err
		}
		c.IfAddr = value
	case "ifname":
		c.IfName = value
	case "exit-whitelist":
		c.ExitWhitelist = append(c.ExitWhitelist, value)
	case "exit-blacklist":
		c.ExitBlacklist = append(c.ExitBlacklist, value)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOption, key)
	}
	return nil
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	// type=null 只是不碰本地接口，地址区间照常分配
	if c.IfAddr == "" {
		return errors.New("ifaddr is required")
	}
	rng, err := types.ParseIPRange(c.IfAddr)
	if err != nil {
		return err
	}
	if rng.Size() < 1 {
		return fmt.Errorf("ifaddr range has no allocatable address: %s", c.IfAddr)
	}
	if c.FlushInterval <= 0 || c.TickInterval <= 0 {
		return errors.New("flush and tick intervals must be positive")
	}
	if c.InboundQueueSize <= 0 || c.SessionQueueSize <= 0 {
		return errors.New("queue sizes must be positive")
	}
	return nil
}

// Range 返回解析后的地址区间；必须先 Validate
func (c *Config) Range() (types.IPRange, error) {
	return types.ParseIPRange(c.IfAddr)
}

// isTruthy 解析布尔选项值
func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true
	}
	return false
}

// withDefaultPort 为 address[:port] 形式补全默认 DNS 端口
func withDefaultPort(v string) string {
	if _, _, err := net.SplitHostPort(v); err == nil {
		return v
	}
	return net.JoinHostPort(v, "53")
}

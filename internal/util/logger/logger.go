// Package logger 提供 exitgw 的统一日志系统
//
// 基于标准库 log/slog，支持：
//   - 按子系统配置日志级别
//   - 环境变量配置（EXITGW_LOG_LEVEL, EXITGW_LOG_FORMAT）
//   - 结构化日志
//
// 使用示例:
//
//	var log = logger.Logger("core.exit")
//
//	log.Info("exit opened", "ident", id.ShortString(), "ip", ip)
//	log.Warn("dropping packet", "dst", dst)
//
// 环境变量配置:
//
//	# 所有子系统 info，core.exit 子系统 debug
//	EXITGW_LOG_LEVEL=core.exit=debug,info
//
//	# JSON 格式输出
//	EXITGW_LOG_FORMAT=json
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	// loggers 缓存各子系统的 Logger
	loggers sync.Map // map[string]*slog.Logger

	// output 全局日志输出目标，默认 stderr
	output   io.Writer = os.Stderr
	outputMu sync.RWMutex

	configOnce  sync.Once
	configCache *config
)

// config 日志配置（从环境变量解析一次）
type config struct {
	defaultLevel    slog.Level
	subsystemLevels map[string]slog.Level
	json            bool
}

// Logger 获取指定子系统的 Logger
//
// 同一子系统多次调用返回相同实例。级别由 EXITGW_LOG_LEVEL 决定，
// 格式: 子系统=级别,子系统=级别,默认级别。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := configFromEnv()
	level := cfg.defaultLevel
	if lv, ok := cfg.subsystemLevels[subsystem]; ok {
		level = lv
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.json {
		h = slog.NewJSONHandler(&dynamicWriter{}, opts)
	} else {
		h = slog.NewTextHandler(&dynamicWriter{}, opts)
	}
	l := slog.New(h).With("subsystem", subsystem)

	actual, _ := loggers.LoadOrStore(subsystem, l)
	return actual.(*slog.Logger)
}

// Discard 返回一个丢弃所有日志的 Logger
//
// 主要用于测试，避免日志输出干扰测试结果。
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// SetOutput 设置全局日志输出目标
//
// 已创建的 Logger 的输出会跟随切换。
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}

// configFromEnv 从环境变量解析配置（只解析一次）
func configFromEnv() *config {
	configOnce.Do(func() {
		cfg := &config{
			defaultLevel:    slog.LevelInfo,
			subsystemLevels: make(map[string]slog.Level),
		}
		if s := os.Getenv("EXITGW_LOG_LEVEL"); s != "" {
			for _, part := range strings.Split(s, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				if k, v, found := strings.Cut(part, "="); found {
					if level, ok := parseLevel(strings.TrimSpace(v)); ok {
						cfg.subsystemLevels[strings.TrimSpace(k)] = level
					}
				} else if level, ok := parseLevel(part); ok {
					cfg.defaultLevel = level
				}
			}
		}
		cfg.json = strings.EqualFold(os.Getenv("EXITGW_LOG_FORMAT"), "json")
		configCache = cfg
	})
	return configCache
}

// parseLevel 解析日志级别名称
func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// dynamicWriter 每次写入时查找当前的全局输出目标，
// 使 SetOutput 对已创建的 Logger 也生效。
type dynamicWriter struct{}

func (dynamicWriter) Write(p []byte) (int, error) {
	outputMu.RLock()
	w := output
	outputMu.RUnlock()
	return w.Write(p)
}

// discardHandler 丢弃所有记录
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

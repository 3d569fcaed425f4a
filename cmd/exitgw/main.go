// Package main 提供 exitgw 命令行入口
//
// 以独立进程运行出口网关。电路层传输在真实部署里由承载本模块的
// 路由进程注入；独立运行时使用丢弃一切的占位实现，便于验证
// 配置、本地接口与 DNS 解析路径。
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-exitgw/config"
	"github.com/dep2p/go-exitgw/internal/core/exit"
	"github.com/dep2p/go-exitgw/internal/netif"
	"github.com/dep2p/go-exitgw/internal/util/logger"
	pkgif "github.com/dep2p/go-exitgw/pkg/interfaces"
	"github.com/dep2p/go-exitgw/pkg/types"
)

var log = logger.Logger("cmd.exitgw")

// optionList 可重复的 key=value 选项
type optionList []string

func (o *optionList) String() string { return strings.Join(*o, ",") }

func (o *optionList) Set(v string) error {
	*o = append(*o, v)
	return nil
}

var (
	ifaddr   = flag.String("ifaddr", "10.0.0.1/24", "接口地址（CIDR，决定可分配区间）")
	ifname   = flag.String("ifname", "exit0", "本地接口名")
	permit   = flag.Bool("exit", false, "允许公网出口")
	localDNS = flag.String("local-dns", config.DefaultLocalDNS, "本地解析器绑定地址")
	opts     optionList
)

func main() {
	flag.Var(&opts, "opt", "附加选项，key=value 形式，可重复")
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.IfAddr = *ifaddr
	cfg.IfName = *ifname
	cfg.PermitExit = *permit
	cfg.LocalDNS = *localDNS
	for _, kv := range opts {
		k, v, _ := strings.Cut(kv, "=")
		if err := cfg.Apply(k, v); err != nil {
			fmt.Fprintf(os.Stderr, "无效选项 %q: %v\n", kv, err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置无效: %v\n", err)
		os.Exit(1)
	}

	var ident types.RouterID
	if _, err := rand.Read(ident[:]); err != nil {
		fmt.Fprintf(os.Stderr, "生成身份失败: %v\n", err)
		os.Exit(1)
	}
	log.Info("gateway identity", "ident", ident.ShortString())

	app := fx.New(
		fx.Supply(cfg, ident),
		fx.Provide(
			func() pkgif.Circuits { return nullCircuits{} },
			func() pkgif.NetInterface { return netif.New(cfg.IfName) },
		),
		exit.Module(),
		fx.NopLogger,
	)
	app.Run()
}

// nullCircuits 丢弃一切的电路层占位实现
type nullCircuits struct{}

func (nullCircuits) QueueDownstream(types.CircuitID, []byte) bool { return false }

func (nullCircuits) Flush(types.CircuitID) bool { return true }

func (nullCircuits) Expired(types.CircuitID, time.Time) bool { return false }

func (nullCircuits) LooksDead(types.CircuitID, time.Time) bool { return true }

func (nullCircuits) Stop(types.CircuitID) {}

func (nullCircuits) PreviousHopIsRouter(types.CircuitID, types.RouterID) bool { return false }

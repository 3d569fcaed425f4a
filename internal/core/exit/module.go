package exit

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-exitgw/config"
	pkgif "github.com/dep2p/go-exitgw/pkg/interfaces"
	"github.com/dep2p/go-exitgw/pkg/types"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Cfg   *config.Config
	Ident types.RouterID

	// 必需依赖（基于接口）
	Circuits pkgif.Circuits

	// 可选依赖
	Dialer pkgif.NodeDialer   `optional:"true"`
	NetIf  pkgif.NetInterface `optional:"true"`
	Clock  clock.Clock        `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Endpoint *Endpoint
}

// ProvideEndpoint 提供出口网关
func ProvideEndpoint(input ModuleInput) (ModuleOutput, error) {
	ep, err := New(input.Cfg, input.Ident, Deps{
		Circuits: input.Circuits,
		Dialer:   input.Dialer,
		NetIf:    input.NetIf,
		Clock:    input.Clock,
	})
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{Endpoint: ep}, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("exit",
		fx.Provide(ProvideEndpoint),
		fx.Invoke(registerLifecycle),
	)
}

// lifecycleInput Lifecycle 注册输入
type lifecycleInput struct {
	fx.In

	LC       fx.Lifecycle
	Endpoint *Endpoint
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return input.Endpoint.Start()
		},
		OnStop: func(_ context.Context) error {
			return input.Endpoint.Stop()
		},
	})
}

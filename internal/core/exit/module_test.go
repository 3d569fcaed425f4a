package exit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-exitgw/config"
	pkgif "github.com/dep2p/go-exitgw/pkg/interfaces"
	"github.com/dep2p/go-exitgw/pkg/types"
)

func TestModuleLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.InitNetIf = false

	var ep *Endpoint
	app := fxtest.New(t,
		fx.Supply(cfg, testIdent(0xE0)),
		fx.Provide(func() pkgif.Circuits { return newFakeCircuits() }),
		Module(),
		fx.Populate(&ep),
		fx.NopLogger,
	)

	app.RequireStart()
	require.NotNil(t, ep)
	assert.Equal(t, cfg.Name, ep.Name())
	app.RequireStop()
}

func TestModuleRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig() // 没有 ifaddr

	app := fx.New(
		fx.Supply(cfg, types.RouterID{}),
		fx.Provide(func() pkgif.Circuits { return newFakeCircuits() }),
		Module(),
		fx.NopLogger,
	)
	assert.Error(t, app.Err())
}

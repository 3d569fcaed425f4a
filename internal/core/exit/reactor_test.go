package exit

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactorTimers(t *testing.T) {
	r := newReactor(clock.New())
	var flushes, ticks atomic.Int64
	r.start(2*time.Millisecond, 5*time.Millisecond,
		func() { flushes.Add(1) },
		func(time.Time) { ticks.Add(1) })

	require.Eventually(t, func() bool {
		return flushes.Load() > 0 && ticks.Load() > 0
	}, time.Second, time.Millisecond)
	r.stop()
}

func TestReactorCall(t *testing.T) {
	r := newReactor(clock.New())

	// 未启动时拒绝投递
	assert.False(t, r.call(func() { t.Fatal("must not run") }))

	r.start(time.Hour, time.Hour, func() {}, func(time.Time) {})
	ran := false
	assert.True(t, r.call(func() { ran = true }))
	assert.True(t, ran)

	r.stop()
	r.stop() // 重复停止为空操作
	assert.False(t, r.call(func() { t.Fatal("must not run") }))
}

package exit

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// reactor 单线程执行器
//
// 网关全部状态只在 reactor 的 goroutine 上被触碰：定时的
// Flush/Tick 与外部投递的任务在同一个 select 里串行执行，
// 因此核心状态不需要任何锁。
type reactor struct {
	clk  clock.Clock
	jobs chan func()
	quit chan struct{}
	done chan struct{}

	// running 先于循环 goroutine 置位：start 返回后 call 一定
	// 走循环，外部入口不会再落回自己的线程
	running atomic.Bool
}

func newReactor(clk clock.Clock) *reactor {
	return &reactor{
		clk:  clk,
		jobs: make(chan func(), 64),
	}
}

// start 启动事件循环
func (r *reactor) start(flushEvery, tickEvery time.Duration, flush func(), tick func(now time.Time)) {
	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	r.running.Store(true)
	go r.run(flushEvery, tickEvery, flush, tick)
}

// run 事件循环体
func (r *reactor) run(flushEvery, tickEvery time.Duration, flush func(), tick func(now time.Time)) {
	defer close(r.done)

	flushT := r.clk.Ticker(flushEvery)
	defer flushT.Stop()
	tickT := r.clk.Ticker(tickEvery)
	defer tickT.Stop()

	for {
		select {
		case <-r.quit:
			return
		case job := <-r.jobs:
			job()
		case <-flushT.C:
			flush()
		case now := <-tickT.C:
			tick(now)
		}
	}
}

// call 在循环上同步执行 f
//
// 循环未启动或已停止时返回 false 且 f 不会被执行。
// 只允许从循环外调用。
func (r *reactor) call(f func()) bool {
	if !r.running.Load() {
		return false
	}
	fin := make(chan struct{})
	select {
	case r.jobs <- func() { f(); close(fin) }:
	case <-r.quit:
		return false
	}
	select {
	case <-fin:
		return true
	case <-r.done:
		return false
	}
}

// stop 停止循环并等待退出；未启动或重复停止为空操作
func (r *reactor) stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	close(r.quit)
	<-r.done
}

package exit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 流量泵计数器
//
// 丢包按原因区分，区分只为诊断用途，对行为没有影响。
var (
	metricForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exitgw",
		Subsystem: "flow",
		Name:      "inbound_forwarded_total",
		Help:      "入站包成功入队到会话的数量",
	})

	metricInboundQueueFull = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exitgw",
		Subsystem: "flow",
		Name:      "inbound_queue_full_total",
		Help:      "入站队列已满而丢弃的包数量",
	})

	metricDroppedUnparsed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exitgw",
		Subsystem: "flow",
		Name:      "dropped_unparsed_total",
		Help:      "无法按 IPv4 解析而丢弃的包数量",
	})

	metricDroppedUnmapped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exitgw",
		Subsystem: "flow",
		Name:      "dropped_unmapped_total",
		Help:      "目的地址没有对应身份而丢弃的包数量",
	})

	metricDroppedNoEndpoint = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exitgw",
		Subsystem: "flow",
		Name:      "dropped_no_endpoint_total",
		Help:      "身份没有存活的当选会话而丢弃的包数量",
	})

	metricDroppedOverloaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "exitgw",
		Subsystem: "flow",
		Name:      "dropped_overloaded_total",
		Help:      "会话内部队列已满而丢弃的包数量",
	})
)

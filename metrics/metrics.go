// Package metrics registers the prometheus instruments shared by the
// multiplexer. Readings are served by the optional metrics HTTP endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ConnectsTotal counts successful TCP connection establishments,
	// initial connects included.
	ConnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seamux_tcp_connects_total",
		Help: "Number of successful TCP connects, including reconnects.",
	}, []string{"iface"})

	// ReconnectsTotal counts recoveries performed by the persist-mode
	// reconnect coordinator.
	ReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seamux_tcp_reconnects_total",
		Help: "Number of reconnect recoveries in persist mode.",
	}, []string{"iface"})

	// BytesRead counts payload bytes received per interface.
	BytesRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seamux_tcp_read_bytes_total",
		Help: "Bytes read from TCP peers.",
	}, []string{"iface"})

	// BytesWritten counts payload bytes sent per interface.
	BytesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seamux_tcp_written_bytes_total",
		Help: "Bytes written to TCP peers.",
	}, []string{"iface"})

	// SenblksDropped counts sentences shed by full queues. Senblks discarded
	// by a queue flush are not counted.
	SenblksDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seamux_queue_dropped_senblks_total",
		Help: "Sentences dropped due to queue overflow.",
	}, []string{"queue"})

	// AcceptedConns counts connections accepted by server interfaces.
	AcceptedConns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seamux_tcp_accepted_connections_total",
		Help: "Connections accepted by TCP server interfaces.",
	}, []string{"iface"})
)

func init() {
	prometheus.MustRegister(ConnectsTotal, ReconnectsTotal, BytesRead, BytesWritten, SenblksDropped, AcceptedConns)
}

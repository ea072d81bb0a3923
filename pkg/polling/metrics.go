package polling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onramp_status_polls_total",
		Help: "Swap status polls by result.",
	}, []string{"result"})

	terminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onramp_flow_terminal_total",
		Help: "Flows reaching a terminal stage, by stage.",
	}, []string{"stage"})
)

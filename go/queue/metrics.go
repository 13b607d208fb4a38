package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var brokerSends = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mtflow_broker_sends_total",
	Help: "counter of messages sent to the external broker, by queue",
}, []string{"queue"})

var brokerReceives = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mtflow_broker_receives_total",
	Help: "counter of messages received from the external broker, by queue",
}, []string{"queue"})

var brokerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mtflow_broker_errors_total",
	Help: "counter of failed broker HTTP requests, by method",
}, []string{"method"})

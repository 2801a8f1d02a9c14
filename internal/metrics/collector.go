// SPDX-License-Identifier: MPL-2.0

// Package metrics exposes Prometheus metrics for scheduler command
// execution and job polling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Command results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// Wait kinds and outcomes.
const (
	WaitDone    = "done"
	WaitRunning = "running"

	OutcomeReached  = "reached"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

// Collector records metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	statusPolls     *prometheus.CounterVec
	waits           *prometheus.CounterVec
	openSchedulers  *prometheus.GaugeVec
}

// NewCollector creates a collector registered with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchsh_commands_total",
				Help: "Scheduler commands run, by adaptor and result",
			},
			[]string{"adaptor", "result"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchsh_command_duration_seconds",
				Help:    "Wall time of scheduler commands",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"adaptor"},
		),
		statusPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchsh_status_polls_total",
				Help: "Job status queries issued while waiting",
			},
			[]string{"adaptor", "wait"},
		),
		waits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchsh_waits_total",
				Help: "Completed waits, by kind and outcome",
			},
			[]string{"adaptor", "wait", "outcome"},
		),
		openSchedulers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "batchsh_open_schedulers",
				Help: "Scheduler facades currently open",
			},
			[]string{"adaptor"},
		),
	}
	reg.MustRegister(c.commands, c.commandDuration, c.statusPolls, c.waits, c.openSchedulers)
	return c
}

// ObserveCommand records one command run.
func (c *Collector) ObserveCommand(adaptor, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(adaptor, result).Inc()
	c.commandDuration.WithLabelValues(adaptor).Observe(d.Seconds())
}

// IncStatusPoll records one status query.
func (c *Collector) IncStatusPoll(adaptor, wait string) {
	if c == nil {
		return
	}
	c.statusPolls.WithLabelValues(adaptor, wait).Inc()
}

// ObserveWait records the outcome of a wait.
func (c *Collector) ObserveWait(adaptor, wait, outcome string) {
	if c == nil {
		return
	}
	c.waits.WithLabelValues(adaptor, wait, outcome).Inc()
}

// SchedulerOpened increments the open scheduler gauge.
func (c *Collector) SchedulerOpened(adaptor string) {
	if c == nil {
		return
	}
	c.openSchedulers.WithLabelValues(adaptor).Inc()
}

// SchedulerClosed decrements the open scheduler gauge.
func (c *Collector) SchedulerClosed(adaptor string) {
	if c == nil {
		return
	}
	c.openSchedulers.WithLabelValues(adaptor).Dec()
}

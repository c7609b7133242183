// Copyright 2016--2022 Lightbits Labs Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// you may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import "github.com/prometheus/client_golang/prometheus"

type AppMetrics struct {
	// TCPServingStatus show if the TCP server is running or stopped
	TCPServingStatus *prometheus.GaugeVec
	// AdminQueues shows how many admin queues are currently open
	AdminQueues *prometheus.GaugeVec
	// CommandsTotal counts admin commands per opcode name.
	CommandsTotal *prometheus.CounterVec
	// CompletionsTotal counts completions per status name.
	CompletionsTotal *prometheus.CounterVec
	// LogPageBytesTotal counts discovery log page bytes sent to hosts.
	LogPageBytesTotal *prometheus.CounterVec
	// TargetCount shows how many targets the discovery log currently exposes.
	TargetCount *prometheus.GaugeVec
	// TargetsGeneration shows the current discovery log generation counter.
	TargetsGeneration *prometheus.GaugeVec
	// AdminQueueOutcomesTotal counts terminated admin queues per outcome.
	AdminQueueOutcomesTotal *prometheus.CounterVec

	// ReloadTargetsDurationSeconds time it took to rebuild the targets registry upon change.
	ReloadTargetsDurationSeconds *prometheus.HistogramVec
}

var Metrics AppMetrics

func init() {
	Metrics.TCPServingStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "discovery_tcp_server_serving_states",
			Help: "Shows rather TCP server is currently serving or not serving",
		},
		[]string{"id"},
	)
	Metrics.AdminQueues = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "discovery_admin_queues_total",
			Help: "Number of admin queues open.",
		},
		[]string{"id"},
	)
	Metrics.CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_admin_commands_total",
			Help: "Number of admin commands processed per opcode.",
		},
		[]string{"id", "opcode"},
	)
	Metrics.CompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_completions_total",
			Help: "Number of completions sent per status.",
		},
		[]string{"id", "status"},
	)
	Metrics.LogPageBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_log_page_bytes_total",
			Help: "Number of discovery log page bytes sent.",
		},
		[]string{"id"},
	)
	Metrics.TargetCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "discovery_targets_total",
			Help: "Number of targets in the discovery log.",
		},
		[]string{"id"},
	)
	Metrics.TargetsGeneration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "discovery_targets_generation",
			Help: "Generation counter of the discovery log.",
		},
		[]string{"id"},
	)
	Metrics.AdminQueueOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_admin_queue_outcomes_total",
			Help: "Number of terminated admin queues per outcome.",
		},
		[]string{"id", "outcome"},
	)
	Metrics.ReloadTargetsDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "discovery",
			Name:      "reload_targets_duration_seconds",
			Help:      "Time it took to reload the targets registry upon change.",
		},
		[]string{"id"},
	)

	// Metrics have to be registered to be exposed:
	prometheus.MustRegister(Metrics.TCPServingStatus)
	prometheus.MustRegister(Metrics.AdminQueues)
	prometheus.MustRegister(Metrics.CommandsTotal)
	prometheus.MustRegister(Metrics.CompletionsTotal)
	prometheus.MustRegister(Metrics.LogPageBytesTotal)
	prometheus.MustRegister(Metrics.TargetCount)
	prometheus.MustRegister(Metrics.TargetsGeneration)
	prometheus.MustRegister(Metrics.AdminQueueOutcomesTotal)

	prometheus.MustRegister(Metrics.ReloadTargetsDurationSeconds)
}

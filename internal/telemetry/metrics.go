/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics for the stream server.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveStreams counts currently served HTTP audio streams per endpoint.
	ActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamserver_active_streams",
		Help: "Number of active audio streams by endpoint.",
	}, []string{"endpoint"})

	// StreamBytes counts encoded bytes delivered to players per endpoint.
	StreamBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamserver_stream_bytes_total",
		Help: "Encoded audio bytes written to players by endpoint.",
	}, []string{"endpoint"})

	// FlowPCMBytes counts raw PCM bytes produced by flow streams.
	FlowPCMBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamserver_flow_pcm_bytes_total",
		Help: "Raw PCM bytes produced by queue flow streams.",
	})

	// JobSubscribers tracks subscriber counts of multi-client stream jobs.
	JobSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamserver_job_subscribers",
		Help: "Subscribed players per multi-client stream job.",
	}, []string{"queue_id"})

	// TranscoderStarts counts launched transcoder processes per codec.
	TranscoderStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamserver_transcoder_starts_total",
		Help: "Transcoder child processes launched by output codec.",
	}, []string{"codec"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracer emits one span per engine state transition, named engine.<phase>.
// Until a host calls otel.SetTracerProvider (cmd/agentcore wires a stdout
// exporter when run with --trace), Start returns a no-op span, so package tests never
// need a configured exporter.
var tracer = otel.Tracer("github.com/kadirpekel/agentcore/pkg/engine")

var (
	iterationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "engine",
			Name:      "iterations_total",
			Help:      "Engine loop iterations, labeled by the phase reached at iteration end.",
		},
		[]string{"phase"},
	)
	iterationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentcore",
			Subsystem: "engine",
			Name:      "iteration_seconds",
			Help:      "Wall time of one engine loop iteration, from RECALL through tool dispatch or finalize.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"phase"},
	)
)

func init() {
	prometheus.MustRegister(iterationsTotal, iterationSeconds)
}

// startSpan opens an engine.<phase> span named after the runner's current
// Phase and carrying the same session and iteration identifiers the
// matching Event already carries, so a trace backend and the Event stream
// correlate on the same fields.
func (r *runner) startSpan(ctx context.Context) (context.Context, trace.Span) {
	phase := string(r.state.Phase)
	return tracer.Start(ctx, "engine."+phase, trace.WithAttributes(
		attribute.String("session_id", r.state.SessionID),
		attribute.Int("iteration", r.state.Iteration),
		attribute.String("phase", phase),
	))
}

// traced runs fn with a freshly started engine.<phase> span in scope,
// ending it when fn returns. r.state.Phase must already reflect the
// transition being entered.
func (r *runner) traced(ctx context.Context, fn func(context.Context)) {
	ctx, span := r.startSpan(ctx)
	defer span.End()
	fn(ctx)
}

// observeIteration records one completed loop iteration's outcome phase and
// duration for agentcore_engine_iterations_total/iteration_seconds.
func observeIteration(phase string, start time.Time) {
	iterationsTotal.WithLabelValues(phase).Inc()
	iterationSeconds.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/replica-harvester/internal/progress"
)

const replicaAddr = "http://10.0.0.1:8080"

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		attempt(runID, 503, "retryable"),
		attempt(runID, 200, "success"),
		{RunID: runID, TS: now, Stage: progress.StageItemDelivered, Item: "abc", Attempt: 2},
		{RunID: runID, TS: now, Stage: progress.StageItemFatal, Item: "def", Attempt: 1},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.attempts.WithLabelValues(replicaAddr, "5xx", "retryable")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.attempts.WithLabelValues(replicaAddr, "2xx", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("delivered")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("fatal")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.items.WithLabelValues("exhausted")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.attemptDuration, "harvester_attempt_duration_seconds"))

	done := []progress.Event{{RunID: runID, TS: now, Stage: progress.StageRunDone, Dur: 3 * time.Second}}
	require.NoError(t, sink.Consume(context.Background(), done))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "harvester_run_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWritesDebugLines(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{attempt(runID, 404, "retryable")}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("progress event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, replicaAddr, fields["replica"])
	require.Equal(t, int64(404), fields["status"])
	require.Equal(t, "retryable", fields["outcome"])
}

func attempt(runID [16]byte, code int, outcome string) progress.Event {
	return progress.Event{
		RunID:       runID,
		TS:          time.Now(),
		Stage:       progress.StageAttemptDone,
		Replica:     replicaAddr,
		Item:        "abc",
		Attempt:     1,
		StatusCode:  code,
		StatusClass: progress.ClassifyStatus(code),
		Outcome:     outcome,
		Dur:         20 * time.Millisecond,
	}
}

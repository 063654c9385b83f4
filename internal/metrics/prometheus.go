package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP arena_uptime_seconds Time since the gateway started\n")
	sb.WriteString("# TYPE arena_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("arena_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	sb.WriteString("# HELP arena_streams_started_total Streams opened by model key\n")
	sb.WriteString("# TYPE arena_streams_started_total counter\n")
	for _, key := range sortedKeys(snap.StreamsStarted) {
		sb.WriteString(fmt.Sprintf("arena_streams_started_total{model_key=\"%s\"} %d\n", key, snap.StreamsStarted[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP arena_streams_completed_total Streams that reached a complete event\n")
	sb.WriteString("# TYPE arena_streams_completed_total counter\n")
	for _, key := range sortedKeys(snap.StreamsCompleted) {
		sb.WriteString(fmt.Sprintf("arena_streams_completed_total{model_key=\"%s\"} %d\n", key, snap.StreamsCompleted[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP arena_streams_failed_total Streams that ended in an error event\n")
	sb.WriteString("# TYPE arena_streams_failed_total counter\n")
	for _, key := range sortedKeys(snap.StreamsFailed) {
		sb.WriteString(fmt.Sprintf("arena_streams_failed_total{model_key=\"%s\"} %d\n", key, snap.StreamsFailed[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP arena_active_streams Currently open streaming connections\n")
	sb.WriteString("# TYPE arena_active_streams gauge\n")
	sb.WriteString(fmt.Sprintf("arena_active_streams %d\n", snap.ActiveStreams))
	sb.WriteString("\n")

	sb.WriteString("# HELP arena_sessions_created_total Streaming sessions issued by init\n")
	sb.WriteString("# TYPE arena_sessions_created_total counter\n")
	sb.WriteString(fmt.Sprintf("arena_sessions_created_total %d\n", snap.SessionsCreated))
	sb.WriteString("\n")

	sb.WriteString("# HELP arena_sessions_denied_total Consume misses (missing, expired, or replayed)\n")
	sb.WriteString("# TYPE arena_sessions_denied_total counter\n")
	sb.WriteString(fmt.Sprintf("arena_sessions_denied_total %d\n", snap.SessionsDenied))
	sb.WriteString("\n")

	sb.WriteString("# HELP arena_chunks_emitted_total Chunk events written by kind\n")
	sb.WriteString("# TYPE arena_chunks_emitted_total counter\n")
	for _, kind := range sortedKeys(snap.ChunksEmitted) {
		sb.WriteString(fmt.Sprintf("arena_chunks_emitted_total{kind=\"%s\"} %d\n", kind, snap.ChunksEmitted[kind]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP arena_tokens_total Token usage split by direction\n")
	sb.WriteString("# TYPE arena_tokens_total counter\n")
	sb.WriteString(fmt.Sprintf("arena_tokens_total{direction=\"prompt\"} %d\n", snap.TotalPromptTokens))
	sb.WriteString(fmt.Sprintf("arena_tokens_total{direction=\"completion\"} %d\n", snap.TotalCompletionTokens))
	sb.WriteString("\n")

	sb.WriteString("# HELP arena_tokens_by_model_total Token usage by model\n")
	sb.WriteString("# TYPE arena_tokens_by_model_total counter\n")
	for _, model := range sortedKeys(snap.TokensByModel) {
		sb.WriteString(fmt.Sprintf("arena_tokens_by_model_total{model=\"%s\"} %d\n", model, snap.TokensByModel[model]))
	}

	return sb.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

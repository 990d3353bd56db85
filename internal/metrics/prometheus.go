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

	sb.WriteString("# HELP xagent_uptime_seconds Time since the agent started\n")
	sb.WriteString("# TYPE xagent_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("xagent_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	sb.WriteString("# HELP xagent_api_calls_total Total upstream API calls by endpoint\n")
	sb.WriteString("# TYPE xagent_api_calls_total counter\n")
	for _, endpoint := range sortedKeys(snap.APICalls) {
		sb.WriteString(fmt.Sprintf("xagent_api_calls_total{endpoint=%q} %d\n", endpoint, snap.APICalls[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP xagent_api_errors_total Total upstream API errors by endpoint\n")
	sb.WriteString("# TYPE xagent_api_errors_total counter\n")
	for _, endpoint := range sortedKeys(snap.APIErrors) {
		sb.WriteString(fmt.Sprintf("xagent_api_errors_total{endpoint=%q} %d\n", endpoint, snap.APIErrors[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP xagent_api_call_duration_ms_total Total API call duration in milliseconds\n")
	sb.WriteString("# TYPE xagent_api_call_duration_ms_total counter\n")
	for _, endpoint := range sortedKeys(snap.APICallsDur) {
		sb.WriteString(fmt.Sprintf("xagent_api_call_duration_ms_total{endpoint=%q} %d\n", endpoint, snap.APICallsDur[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP xagent_actions_total Completed actions by kind\n")
	sb.WriteString("# TYPE xagent_actions_total counter\n")
	for _, kind := range sortedKeys(snap.Actions) {
		sb.WriteString(fmt.Sprintf("xagent_actions_total{kind=%q} %d\n", kind, snap.Actions[kind]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP xagent_actions_denied_total Actions declined by reason\n")
	sb.WriteString("# TYPE xagent_actions_denied_total counter\n")
	for _, reason := range sortedKeys(snap.ActionsDenied) {
		sb.WriteString(fmt.Sprintf("xagent_actions_denied_total{reason=%q} %d\n", reason, snap.ActionsDenied[reason]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP xagent_rate_limit_hits_total Total rate limit refusals observed\n")
	sb.WriteString("# TYPE xagent_rate_limit_hits_total counter\n")
	sb.WriteString(fmt.Sprintf("xagent_rate_limit_hits_total %d\n", snap.RateLimitHits))
	sb.WriteString("\n")

	sb.WriteString("# HELP xagent_rate_limit_waits_total Sleeps taken for window resets\n")
	sb.WriteString("# TYPE xagent_rate_limit_waits_total counter\n")
	sb.WriteString(fmt.Sprintf("xagent_rate_limit_waits_total %d\n", snap.RateLimitWaits))
	sb.WriteString("\n")

	sb.WriteString("# HELP xagent_settlements_total Posts settled against engagement metrics\n")
	sb.WriteString("# TYPE xagent_settlements_total counter\n")
	sb.WriteString(fmt.Sprintf("xagent_settlements_total %d\n", snap.Settlements))
	sb.WriteString("\n")

	sb.WriteString("# HELP xagent_reward_sum Cumulative reward over all settlements\n")
	sb.WriteString("# TYPE xagent_reward_sum counter\n")
	sb.WriteString(fmt.Sprintf("xagent_reward_sum %g\n", snap.RewardSum))
	sb.WriteString("\n")

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package push

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"llmtrace/internal/models"
	"llmtrace/internal/storage"
)

const defaultTimeout = 5 * time.Second

// GatewaySink pushes per-call metrics to a Prometheus pushgateway. It is a
// fire-and-forget edge: the tracker logs and drops any error it returns, and
// the HTTP timeout bounds how long a dispatch can hold up finalization.
type GatewaySink struct {
	url    string
	client *http.Client
}

// NewGatewaySink builds a sink for the given pushgateway base URL.
func NewGatewaySink(url string) *GatewaySink {
	return &GatewaySink{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// Name identifies the sink in tracker failure logs.
func (s *GatewaySink) Name() string { return "pushgateway" }

// Record pushes one finalized record. Each push uses a private registry so
// calls from concurrent trackers never share collector state, and a
// per-record timestamp grouping so the gateway keeps every call.
func (s *GatewaySink) Record(rec models.TelemetryRecord, _ storage.Payload) error {
	reg := prometheus.NewRegistry()

	usage := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_usage_total",
		Help: "Total AI agent calls.",
	}, []string{"agent_name", "operation", "model", "success", "user"})

	duration := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_duration_ms_total",
		Help: "Total AI agent call duration in milliseconds.",
	}, []string{"agent_name", "user"})

	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_tokens_total",
		Help: "Total tokens consumed by AI agent calls.",
	}, []string{"agent_name", "model", "user"})

	inputTokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_input_tokens_total",
		Help: "Input tokens consumed by AI agent calls.",
	}, []string{"agent_name", "model", "user"})

	outputTokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_output_tokens_total",
		Help: "Output tokens produced by AI agent calls.",
	}, []string{"agent_name", "model", "user"})

	cost := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_agent_cost_usd_total",
		Help: "Cost in USD of AI agent calls.",
	}, []string{"agent_name", "model", "user"})

	reg.MustRegister(usage, duration, tokens, inputTokens, outputTokens, cost)

	usage.WithLabelValues(rec.AgentName, rec.Operation, rec.Model,
		strconv.FormatBool(rec.Success), rec.UserID).Add(1)
	duration.WithLabelValues(rec.AgentName, rec.UserID).Add(float64(rec.DurationMs))
	tokens.WithLabelValues(rec.AgentName, rec.Model, rec.UserID).Add(float64(rec.Tokens.Total))
	inputTokens.WithLabelValues(rec.AgentName, rec.Model, rec.UserID).Add(float64(rec.Tokens.Input))
	outputTokens.WithLabelValues(rec.AgentName, rec.Model, rec.UserID).Add(float64(rec.Tokens.Output))
	cost.WithLabelValues(rec.AgentName, rec.Model, rec.UserID).Add(rec.CostUSD)

	err := push.New(s.url, "ai_agents").
		Gatherer(reg).
		Grouping("agent", rec.AgentName).
		Grouping("session_id", rec.SessionID).
		Grouping("user_id", rec.UserID).
		Grouping("timestamp", strconv.FormatInt(rec.Timestamp.UnixMilli(), 10)).
		Client(s.client).
		Add()
	if err != nil {
		return fmt.Errorf("push metrics for %s/%s: %w", rec.AgentName, rec.Operation, err)
	}
	return nil
}

package plan

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for plan creation and the LLM agents.
type Metrics struct {
	PlansTotal      prometheus.Counter
	PlanDuration    prometheus.Histogram
	PlanRisk        prometheus.Histogram
	PlanTasks       prometheus.Histogram
	StagesTotal     *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	LLMCallsTotal   *prometheus.CounterVec
	LLMTokensIn     prometheus.Counter
	LLMTokensOut    prometheus.Counter
	LLMDuration     prometheus.Histogram
	ToolCallsTotal  *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	ToolOutputBytes *prometheus.HistogramVec
}

// NewMetrics registers and returns plan metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PlansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "haven_plans_total",
			Help: "Total plans created.",
		}),
		PlanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "haven_plan_duration_seconds",
			Help:    "Duration of plan creation in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		PlanRisk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "haven_plan_risk",
			Help:    "Risk score of created plans.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 0.1 .. 1.0
		}),
		PlanTasks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "haven_plan_tasks",
			Help:    "Tasks per created plan.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
		StagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haven_plan_stages_total",
			Help: "Plan stage executions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "haven_plan_stage_duration_seconds",
			Help:    "Duration of plan stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"stage"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haven_llm_calls_total",
			Help: "Total LLM provider calls by agent.",
		}, []string{"agent"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "haven_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "haven_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "haven_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haven_tool_calls_total",
			Help: "Total tool executions by tool name and status.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "haven_tool_duration_seconds",
			Help:    "Duration of tool executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}, []string{"tool"}),
		ToolOutputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "haven_tool_output_bytes",
			Help:    "Size of tool output in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B .. ~1MB
		}, []string{"tool"}),
	}

	reg.MustRegister(
		m.PlansTotal,
		m.PlanDuration,
		m.PlanRisk,
		m.PlanTasks,
		m.StagesTotal,
		m.StageDuration,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.ToolCallsTotal,
		m.ToolDuration,
		m.ToolOutputBytes,
	)

	return m
}

// Hooks returns orchestrator Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnStage: func(stage, outcome string, seconds float64) {
			m.StagesTotal.WithLabelValues(stage, outcome).Inc()
			m.StageDuration.WithLabelValues(stage).Observe(seconds)
		},
		OnComplete: func(risk float64, tasks int, seconds float64) {
			m.PlansTotal.Inc()
			m.PlanDuration.Observe(seconds)
			m.PlanRisk.Observe(risk)
			m.PlanTasks.Observe(float64(tasks))
		},
	}
}

// AgentHooks returns AgentHooks that update the LLM and tool metrics.
func (m *Metrics) AgentHooks() AgentHooks {
	return AgentHooks{
		OnLLMCall: func(agent string, inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.WithLabelValues(agent).Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnToolCall: func(name string, duration float64, outputBytes int, isError bool) {
			status := "success"
			if isError {
				status = "error"
			}
			m.ToolCallsTotal.WithLabelValues(name, status).Inc()
			m.ToolDuration.WithLabelValues(name).Observe(duration)
			m.ToolOutputBytes.WithLabelValues(name).Observe(float64(outputBytes))
		},
	}
}

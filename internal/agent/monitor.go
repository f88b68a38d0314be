package agent

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quillagent/quill/pkg/models"
)

const activityCap = 100

// Monitor tracks runtime counters and a bounded activity log, and
// mirrors the counters into Prometheus metrics. Each Monitor owns its
// own registry so tests can construct monitors freely.
type Monitor struct {
	mu sync.Mutex

	state       models.AgentState
	currentTask string
	startedAt   time.Time

	conversationCount int64
	messageCount      int64
	toolCallCount     int64
	inputTokens       int64
	outputTokens      int64

	activity []models.ActivityEntry

	registry         *prometheus.Registry
	busyGauge        prometheus.Gauge
	conversationsCtr prometheus.Counter
	messagesCtr      prometheus.Counter
	toolCallsCtr     prometheus.Counter
	tokensCtr        *prometheus.CounterVec
}

// NewMonitor creates an idle monitor with a fresh metrics registry.
func NewMonitor() *Monitor {
	m := &Monitor{
		state:     models.StateIdle,
		startedAt: time.Now(),
		registry:  prometheus.NewRegistry(),
		busyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quill_agent_busy",
			Help: "1 while the agent is processing a task, 0 when idle.",
		}),
		conversationsCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_conversations_total",
			Help: "Conversation turns handled.",
		}),
		messagesCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_messages_total",
			Help: "Messages appended across all conversations.",
		}),
		toolCallsCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_tool_calls_total",
			Help: "Tool invocations dispatched by the conversation loop.",
		}),
		tokensCtr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_llm_tokens_total",
			Help: "LLM tokens consumed, by direction.",
		}, []string{"direction"}),
	}

	m.registry.MustRegister(m.busyGauge, m.conversationsCtr, m.messagesCtr, m.toolCallsCtr, m.tokensCtr)
	return m
}

// Registry exposes the metrics registry for the /metrics handler.
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// SetBusy marks the agent busy on the named task.
func (m *Monitor) SetBusy(task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = models.StateBusy
	m.currentTask = task
	m.busyGauge.Set(1)
	m.appendActivity("busy", task)
}

// SetIdle marks the agent idle.
func (m *Monitor) SetIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = models.StateIdle
	m.currentTask = ""
	m.busyGauge.Set(0)
	m.appendActivity("idle", "")
}

// RecordConversation counts one handled conversation turn.
func (m *Monitor) RecordConversation(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversationCount++
	m.conversationsCtr.Inc()
	m.appendActivity("conversation", conversationID)
}

// RecordMessages counts n appended messages.
func (m *Monitor) RecordMessages(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageCount += int64(n)
	m.messagesCtr.Add(float64(n))
}

// RecordToolCall counts one tool invocation.
func (m *Monitor) RecordToolCall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCallCount++
	m.toolCallsCtr.Inc()
	m.appendActivity("tool_call", name)
}

// RecordTokens accumulates token usage from a model response.
func (m *Monitor) RecordTokens(input, output int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputTokens += int64(input)
	m.outputTokens += int64(output)
	m.tokensCtr.WithLabelValues("input").Add(float64(input))
	m.tokensCtr.WithLabelValues("output").Add(float64(output))
}

// Status returns a point-in-time snapshot.
func (m *Monitor) Status() models.AgentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	activity := make([]models.ActivityEntry, len(m.activity))
	copy(activity, m.activity)

	return models.AgentStatus{
		State:             m.state,
		CurrentTask:       m.currentTask,
		StartedAt:         m.startedAt,
		Uptime:            time.Since(m.startedAt),
		ConversationCount: m.conversationCount,
		MessageCount:      m.messageCount,
		ToolCallCount:     m.toolCallCount,
		InputTokens:       m.inputTokens,
		OutputTokens:      m.outputTokens,
		Activity:          activity,
	}
}

// appendActivity trims the ring to its cap. Caller holds m.mu.
func (m *Monitor) appendActivity(event, detail string) {
	m.activity = append(m.activity, models.ActivityEntry{
		Timestamp: time.Now(),
		Event:     event,
		Detail:    detail,
	})
	if len(m.activity) > activityCap {
		m.activity = m.activity[len(m.activity)-activityCap:]
	}
}

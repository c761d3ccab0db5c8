package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/llm"
	"github.com/aether-os/aether/pkg/perf"
	"github.com/aether-os/aether/pkg/provision"
)

// taskQueueCap bounds pending task submissions per agent; beyond it,
// submissions are rejected rather than buffered without limit.
const taskQueueCap = 16

type queuedTask struct {
	name string
	fn   func(ctx context.Context) error
}

// BaseAgent carries the behavior shared by every role: context requests,
// doctrinal procedure timing, messaging, escalation, the inbox, and a
// single-worker FIFO task queue. At most one task runs per agent at a time.
type BaseAgent struct {
	profile *ems.AgentProfile
	runtime Runtime
	llm     *llm.Client
	logger  *slog.Logger

	mu       sync.Mutex
	window   *provision.AgentContext
	handlers map[string]Handler
	queue    chan queuedTask
	running  bool
	cancel   context.CancelFunc
	done     sync.WaitGroup
}

// NewBaseAgent creates an agent over the kernel runtime. llmClient may be nil;
// role controllers then degrade to deterministic outputs.
func NewBaseAgent(profile *ems.AgentProfile, runtime Runtime, llmClient *llm.Client) *BaseAgent {
	return &BaseAgent{
		profile:  profile,
		runtime:  runtime,
		llm:      llmClient,
		logger:   slog.With("component", "agent", "agent", profile.AgentID),
		handlers: make(map[string]Handler),
	}
}

// ID returns the agent identifier.
func (a *BaseAgent) ID() string { return a.profile.AgentID }

// Profile returns the agent's access profile.
func (a *BaseAgent) Profile() *ems.AgentProfile { return a.profile }

// Runtime returns the kernel capability bundle.
func (a *BaseAgent) Runtime() Runtime { return a.runtime }

// LLM returns the generation client, nil when none is configured.
func (a *BaseAgent) LLM() *llm.Client { return a.llm }

// RequestContext builds and caches a context window for the task. maxTokens 0
// uses the default budget.
func (a *BaseAgent) RequestContext(ctx context.Context, task string, maxTokens int) (*provision.AgentContext, error) {
	if maxTokens <= 0 {
		maxTokens = config.DefaultTokenBudget
	}
	window, err := a.runtime.BuildContext(ctx, a.profile.AgentID, task, maxTokens)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.window = window
	a.mu.Unlock()
	return window, nil
}

// Window returns the most recently requested context window, nil before the
// first request.
func (a *BaseAgent) Window() *provision.AgentContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window
}

// ExecuteDoctrinalProcedure runs fn under timing instrumentation. Elapsed time
// beyond the auto-flag threshold raises a TIMING_CONSTRAINT flag, as does
// cancellation mid-procedure; timing anomalies never turn into errors, fn's
// own result is returned unchanged.
func (a *BaseAgent) ExecuteDoctrinalProcedure(ctx context.Context, name string, expectedHours float64, fn func(ctx context.Context) error) error {
	cycleID := a.runtime.CurrentCycleID()
	phase := a.runtime.CurrentPhase()
	started := a.runtime.Now()

	err := fn(ctx)

	finished := a.runtime.Now()
	elapsedHours := finished.Sub(started).Hours()
	cancelled := errors.Is(err, context.Canceled) || ctx.Err() != nil

	if _, flagErr := a.runtime.Detector().ProcedureCompleted(
		cycleID, phase, a.profile.AgentID, name, expectedHours, elapsedHours, cancelled,
	); flagErr != nil {
		a.logger.Warn("Procedure timing flag failed", "procedure", name, "error", flagErr)
	}

	a.runtime.RecordTaskExecution(perf.TaskExecutionMetric{
		TaskName:      name,
		AgentID:       a.profile.AgentID,
		CycleID:       cycleID,
		StartTime:     started,
		EndTime:       finished,
		ExpectedHours: expectedHours,
		ActualHours:   elapsedHours,
		Success:       err == nil,
		Errors:        errStrings(err),
	})

	a.logger.Info("Doctrinal procedure completed",
		"procedure", name, "expected_hours", expectedHours,
		"elapsed_hours", fmt.Sprintf("%.2f", elapsedHours), "success", err == nil)
	return err
}

func errStrings(err error) []string {
	if err == nil {
		return nil
	}
	return []string{err.Error()}
}

// SendMessage sends a typed payload to another agent and waits for the reply
// envelope.
func (a *BaseAgent) SendMessage(ctx context.Context, to, messageType string, payload map[string]any) (Reply, error) {
	return a.runtime.SendAgentMessage(ctx, a.profile.AgentID, to, messageType, payload)
}

// EscalateToHuman routes a decision to the operator and returns the answer.
func (a *BaseAgent) EscalateToHuman(reason string, payload map[string]any) map[string]any {
	a.logger.Warn("Escalating to human operator", "reason", reason)
	return a.runtime.EscalateToHuman(a.profile.AgentID, reason, payload)
}

// FlagInformationGap records that required information was missing from a
// workflow.
func (a *BaseAgent) FlagInformationGap(workflow string, category ems.InformationCategory, reason string) {
	if _, err := a.runtime.Detector().InformationGap(
		a.runtime.CurrentCycleID(), a.runtime.CurrentPhase(),
		a.profile.AgentID, workflow, category, reason,
	); err != nil {
		a.logger.Warn("Information gap flag failed", "workflow", workflow, "error", err)
	}
}

// RegisterHandler installs the handler for one inbound message type.
func (a *BaseAgent) RegisterHandler(messageType string, handler Handler) {
	a.mu.Lock()
	a.handlers[messageType] = handler
	a.mu.Unlock()
}

// HandleMessage dispatches an inbound message to its registered handler.
// Unknown types get an error envelope, never a dropped message.
func (a *BaseAgent) HandleMessage(ctx context.Context, msg Message) Reply {
	a.mu.Lock()
	handler, ok := a.handlers[msg.Type]
	a.mu.Unlock()
	if !ok {
		return ErrReply(fmt.Sprintf("%s: %q", ErrUnhandledMessage, msg.Type))
	}
	return handler(ctx, msg)
}

// trackResponse scores a generated response against the current context
// window. Tracking failures are logged, never propagated.
func (a *BaseAgent) trackResponse(ctx context.Context, response string) {
	window := a.Window()
	if window == nil {
		return
	}
	if _, err := a.runtime.TrackContextUsage(ctx, window, response); err != nil {
		a.logger.Warn("Context usage tracking failed", "error", err)
	}
}

// Start launches the single task worker. Submissions before Start are
// rejected.
func (a *BaseAgent) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.queue = make(chan queuedTask, taskQueueCap)
	a.cancel = cancel
	a.running = true
	a.done.Add(1)
	go a.work(ctx)
}

// Stop cancels the in-flight task, drains nothing further, and waits for the
// worker to exit.
func (a *BaseAgent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.cancel()
	close(a.queue)
	a.mu.Unlock()
	a.done.Wait()
}

// Submit enqueues a task for the worker. Tasks run one at a time in FIFO
// order; a full queue rejects with ErrQueueFull.
func (a *BaseAgent) Submit(name string, fn func(ctx context.Context) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return ErrNotRunning
	}
	select {
	case a.queue <- queuedTask{name: name, fn: fn}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

func (a *BaseAgent) work(ctx context.Context) {
	defer a.done.Done()
	for task := range a.queue {
		if ctx.Err() != nil {
			return
		}
		if err := task.fn(ctx); err != nil {
			a.logger.Error("Agent task failed", "task", task.name, "error", err)
		}
	}
}

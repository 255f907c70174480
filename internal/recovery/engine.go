// Package recovery implements the disaster recovery plan engine. Plans are
// registered statically from the config file; each carries trigger
// predicates over the health state, an ordered list of remediation steps
// and a contact list. The scheduler evaluates the engine after every
// health sweep; when a trigger fires, contacts are notified by ascending
// priority rank and the matching plan's steps then run in order with
// per-step timeout and retries.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/health"
)

// Step result statuses.
const (
	StepCompleted      = "completed"
	StepFailed         = "failed"
	StepSkipped        = "skipped"
	StepManualRequired = "manual_required"
)

// defaultCooldown applies when a plan does not set cooldown_minutes. It
// stops a persistently unhealthy probe from re-firing the same plan on
// every sweep.
const defaultCooldown = 15 * time.Minute

// historyLimit bounds the in-memory execution history exposed by the API.
const historyLimit = 50

// Notifier delivers plan notifications to a single contact. Implemented by
// the notification service.
type Notifier interface {
	NotifyContact(ctx context.Context, contact config.Contact, subject, body string) error
}

// StepResult records the outcome of one step within an execution.
type StepResult struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Mode     string        `json:"mode"`
	Status   string        `json:"status"`
	Attempts int           `json:"attempts"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Execution is the record of one plan run. FailedSteps counts automatic
// steps whose final attempt failed: a step that succeeds on a retry is a
// completed step, and manual steps appear in neither tally.
type Execution struct {
	Plan           string       `json:"plan"`
	Trigger        string       `json:"trigger"`
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        time.Time    `json:"ended_at"`
	Steps          []StepResult `json:"steps"`
	CompletedSteps int          `json:"completed_steps"`
	FailedSteps    int          `json:"failed_steps"`
	SkippedSteps   int          `json:"skipped_steps"`
	Success        bool         `json:"success"`
	Notified       []string     `json:"notified,omitempty"`
}

// Engine evaluates and executes recovery plans.
type Engine struct {
	plans    []config.Plan
	executor Executor
	notifier Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	lastRun map[string]time.Time
	history []Execution // most recent first
}

// priorityRank orders plans for evaluation. Unknown priorities sort last.
var priorityRank = map[string]int{
	"critical": 0,
	"high":     1,
	"medium":   2,
	"low":      3,
}

func NewEngine(plans []config.Plan, notifier Notifier, logger *zap.Logger) *Engine {
	ordered := make([]config.Plan, len(plans))
	copy(ordered, plans)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, ok := priorityRank[ordered[i].Priority]
		if !ok {
			ri = len(priorityRank)
		}
		rj, ok := priorityRank[ordered[j].Priority]
		if !ok {
			rj = len(priorityRank)
		}
		return ri < rj
	})

	return &Engine{
		plans:    ordered,
		notifier: notifier,
		logger:   logger.Named("recovery"),
		lastRun:  make(map[string]time.Time),
	}
}

// LastRun returns when the named plan last started, if it ever ran.
func (e *Engine) LastRun(name string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.lastRun[name]
	return at, ok
}

// ShouldTrigger reports whether any of the plan's trigger predicates match
// the given health state, and which one matched first.
func ShouldTrigger(plan config.Plan, checks map[string]health.Check) (bool, string) {
	for _, trigger := range plan.Triggers {
		if matchTrigger(trigger, checks) {
			return true, trigger
		}
	}
	return false, ""
}

// matchTrigger evaluates a single predicate name. "any_unhealthy" matches
// when any probe is unhealthy; otherwise the name is "<service>_<status>"
// split at the last underscore, matched against that probe's latest check.
func matchTrigger(trigger string, checks map[string]health.Check) bool {
	if trigger == "any_unhealthy" {
		for _, c := range checks {
			if c.Status == health.StatusUnhealthy {
				return true
			}
		}
		return false
	}

	idx := strings.LastIndex(trigger, "_")
	if idx <= 0 {
		return false
	}
	service, status := trigger[:idx], trigger[idx+1:]

	check, ok := checks[service]
	if !ok {
		return false
	}
	switch status {
	case health.StatusUnhealthy:
		return check.Status == health.StatusUnhealthy
	case health.StatusDegraded:
		// A degraded trigger also fires on unhealthy; worse state always
		// satisfies a weaker predicate.
		return check.Status == health.StatusDegraded || check.Status == health.StatusUnhealthy
	default:
		return false
	}
}

// Evaluate checks every enabled plan against the health state, in priority
// order, and executes the first plan whose triggers match and whose
// cooldown has elapsed. At most one plan runs per evaluation; overlapping
// remediations tend to fight each other.
func (e *Engine) Evaluate(ctx context.Context, checks map[string]health.Check) *Execution {
	for _, plan := range e.plans {
		if !plan.Enabled {
			continue
		}
		fired, trigger := ShouldTrigger(plan, checks)
		if !fired {
			continue
		}
		if !e.claimRun(plan) {
			e.logger.Debug("plan in cooldown", zap.String("plan", plan.Name), zap.String("trigger", trigger))
			continue
		}

		e.logger.Warn("recovery plan triggered",
			zap.String("plan", plan.Name),
			zap.String("trigger", trigger),
			zap.String("priority", plan.Priority))

		exec := e.Execute(ctx, plan, trigger)
		return exec
	}
	return nil
}

// claimRun records a run start if the plan's cooldown has elapsed.
func (e *Engine) claimRun(plan config.Plan) bool {
	cooldown := defaultCooldown
	if plan.CooldownMinutes > 0 {
		cooldown = time.Duration(plan.CooldownMinutes) * time.Minute
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastRun[plan.Name]; ok && time.Since(last) < cooldown {
		return false
	}
	e.lastRun[plan.Name] = time.Now()
	return true
}

// Execute runs a plan. Contacts are notified first, lowest priority rank
// first, so the people on call know remediation is starting; then the
// steps run in declared order. Automatic steps run their command with the
// step timeout and up to Retries additional attempts; manual steps are
// recorded as requiring operator action. A step whose dependencies did not
// all succeed is skipped. A summary goes to the same contacts at the end.
func (e *Engine) Execute(ctx context.Context, plan config.Plan, trigger string) *Execution {
	exec := &Execution{
		Plan:      plan.Name,
		Trigger:   trigger,
		StartedAt: time.Now(),
	}

	exec.Notified = e.notifyContacts(ctx, plan,
		fmt.Sprintf("Recovery plan %q triggered", plan.Name),
		fmt.Sprintf("Plan %q was triggered by %q and is starting %d steps.\nRTO %d min, RPO %d min.",
			plan.Name, trigger, len(plan.Steps), plan.RTOMinutes, plan.RPOMinutes))

	// Dependency satisfaction per step ID. Manual steps count as satisfied
	// because the engine cannot observe the operator completing them; the
	// run log carries the required-action notice instead.
	satisfied := make(map[string]bool, len(plan.Steps))

	for _, step := range plan.Steps {
		if blocked, dep := e.blockedOn(step, satisfied); blocked {
			exec.Steps = append(exec.Steps, StepResult{
				ID:     step.ID,
				Name:   step.Name,
				Mode:   step.Mode,
				Status: StepSkipped,
				Error:  fmt.Sprintf("dependency %q did not succeed", dep),
			})
			exec.SkippedSteps++
			continue
		}

		if step.Mode == "manual" {
			exec.Steps = append(exec.Steps, StepResult{
				ID:     step.ID,
				Name:   step.Name,
				Mode:   step.Mode,
				Status: StepManualRequired,
				Output: step.Description,
			})
			satisfied[step.ID] = true
			e.logger.Warn("manual step requires operator action",
				zap.String("plan", plan.Name),
				zap.String("step", step.Name))
			continue
		}

		result := e.runStep(ctx, plan.Name, step)
		exec.Steps = append(exec.Steps, result)
		switch result.Status {
		case StepCompleted:
			exec.CompletedSteps++
			satisfied[step.ID] = true
		case StepFailed:
			exec.FailedSteps++
		}
	}

	exec.Success = exec.FailedSteps == 0
	exec.EndedAt = time.Now()

	outcome := "succeeded"
	if !exec.Success {
		outcome = "FAILED"
	}
	e.notifyContacts(ctx, plan,
		fmt.Sprintf("Recovery plan %q %s", plan.Name, outcome),
		fmt.Sprintf("Plan %q finished.\nSteps: %d completed, %d failed, %d skipped.",
			plan.Name, exec.CompletedSteps, exec.FailedSteps, exec.SkippedSteps))

	e.mu.Lock()
	e.history = append([]Execution{*exec}, e.history...)
	if len(e.history) > historyLimit {
		e.history = e.history[:historyLimit]
	}
	e.mu.Unlock()

	e.logger.Info("recovery plan finished",
		zap.String("plan", plan.Name),
		zap.Bool("success", exec.Success),
		zap.Int("completed", exec.CompletedSteps),
		zap.Int("failed", exec.FailedSteps),
		zap.Int("skipped", exec.SkippedSteps))
	return exec
}

// blockedOn reports whether a declared dependency of the step has not
// succeeded, and which one.
func (e *Engine) blockedOn(step config.Step, satisfied map[string]bool) (bool, string) {
	for _, dep := range step.DependsOn {
		if !satisfied[dep] {
			return true, dep
		}
	}
	return false, ""
}

// runStep executes one automatic step with retries. The step is failed
// only when the final attempt fails; earlier failures surface as attempt
// counts, never in the failure tally.
func (e *Engine) runStep(ctx context.Context, planName string, step config.Step) StepResult {
	result := StepResult{ID: step.ID, Name: step.Name, Mode: step.Mode}
	start := time.Now()

	var lastErr error
	var lastOutput string
	for attempt := 1; attempt <= step.Retries+1; attempt++ {
		result.Attempts = attempt

		cmdResult, err := e.executor.Run(ctx, step.Command, step.Timeout())
		if cmdResult != nil {
			lastOutput = cmdResult.Output
		}
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err

		e.logger.Warn("step attempt failed",
			zap.String("plan", planName),
			zap.String("step", step.Name),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	result.Output = lastOutput
	result.Duration = time.Since(start)
	if lastErr != nil {
		result.Status = StepFailed
		result.Error = lastErr.Error()
	} else {
		result.Status = StepCompleted
	}
	return result
}

// notifyContacts delivers one message to the plan's contacts in ascending
// priority rank. Delivery failures are logged and do not affect the
// execution outcome.
func (e *Engine) notifyContacts(ctx context.Context, plan config.Plan, subject, body string) []string {
	if e.notifier == nil || len(plan.Contacts) == 0 {
		return nil
	}

	contacts := make([]config.Contact, len(plan.Contacts))
	copy(contacts, plan.Contacts)
	sort.SliceStable(contacts, func(i, j int) bool {
		return contacts[i].Priority < contacts[j].Priority
	})

	var notified []string
	for _, contact := range contacts {
		if err := e.notifier.NotifyContact(ctx, contact, subject, body); err != nil {
			e.logger.Warn("notifying contact",
				zap.String("contact", contact.Name),
				zap.Error(err))
			continue
		}
		notified = append(notified, contact.Name)
	}
	return notified
}

// History returns the most recent executions, newest first.
func (e *Engine) History() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Execution, len(e.history))
	copy(out, e.history)
	return out
}

// Plans returns the registered plans in evaluation order.
func (e *Engine) Plans() []config.Plan {
	out := make([]config.Plan, len(e.plans))
	copy(out, e.plans)
	return out
}

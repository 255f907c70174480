package recovery

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/health"
)

// recordingNotifier captures contact notifications in call order.
type recordingNotifier struct {
	mu      sync.Mutex
	names   []string
	failFor string
}

func (r *recordingNotifier) NotifyContact(_ context.Context, contact config.Contact, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if contact.Name == r.failFor {
		return errors.New("delivery failed")
	}
	r.names = append(r.names, contact.Name)
	return nil
}

func checksWith(service, status string) map[string]health.Check {
	return map[string]health.Check{
		service:  {Service: service, Status: status},
		"backup": {Service: "backup", Status: health.StatusHealthy},
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell commands differ on windows")
	}
}

func TestMatchTrigger(t *testing.T) {
	cases := []struct {
		name    string
		trigger string
		checks  map[string]health.Check
		want    bool
	}{
		{"unhealthy match", "database_unhealthy", checksWith("database", health.StatusUnhealthy), true},
		{"unhealthy no match when healthy", "database_unhealthy", checksWith("database", health.StatusHealthy), false},
		{"unhealthy trigger ignores degraded", "database_unhealthy", checksWith("database", health.StatusDegraded), false},
		{"degraded match", "database_degraded", checksWith("database", health.StatusDegraded), true},
		{"degraded trigger fires on unhealthy", "database_degraded", checksWith("database", health.StatusUnhealthy), true},
		{"unknown service", "cache_unhealthy", checksWith("database", health.StatusUnhealthy), false},
		{"service name with underscore", "destination:offsite_unhealthy", map[string]health.Check{
			"destination:offsite": {Status: health.StatusUnhealthy},
		}, true},
		{"any_unhealthy fires", "any_unhealthy", checksWith("database", health.StatusUnhealthy), true},
		{"any_unhealthy quiet when degraded", "any_unhealthy", checksWith("database", health.StatusDegraded), false},
		{"malformed trigger", "unhealthy", checksWith("database", health.StatusUnhealthy), false},
		{"unknown status word", "database_offline", checksWith("database", health.StatusUnhealthy), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matchTrigger(tc.trigger, tc.checks))
		})
	}
}

func TestShouldTriggerFirstMatchWins(t *testing.T) {
	plan := config.Plan{Triggers: []string{"cache_unhealthy", "database_degraded", "any_unhealthy"}}
	fired, trigger := ShouldTrigger(plan, checksWith("database", health.StatusUnhealthy))
	require.True(t, fired)
	assert.Equal(t, "database_degraded", trigger)
}

func autoStep(id, command string) config.Step {
	return config.Step{ID: id, Name: id, Mode: "automatic", Command: command, TimeoutSeconds: 30}
}

func TestExecuteAllStepsSucceed(t *testing.T) {
	requireShell(t)
	notifier := &recordingNotifier{}
	engine := NewEngine(nil, notifier, zap.NewNop())

	plan := config.Plan{
		Name:     "restart-db",
		Priority: "critical",
		Steps:    []config.Step{autoStep("a", "true"), autoStep("b", "true")},
		Contacts: []config.Contact{
			{Name: "Second", Priority: 2},
			{Name: "First", Priority: 1},
		},
	}

	exec := engine.Execute(context.Background(), plan, "database_unhealthy")

	assert.True(t, exec.Success)
	assert.Equal(t, 2, exec.CompletedSteps)
	assert.Zero(t, exec.FailedSteps)
	// Contacts are reached in ascending priority rank.
	assert.Equal(t, []string{"First", "Second"}, exec.Notified)

	history := engine.History()
	require.Len(t, history, 1)
	assert.Equal(t, "restart-db", history[0].Plan)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	requireShell(t)
	engine := NewEngine(nil, nil, zap.NewNop())

	// Fails on the first attempt, succeeds on the second.
	marker := t.TempDir() + "/ran-once"
	step := autoStep("flaky", "test -f "+marker+" || { touch "+marker+"; exit 1; }")
	step.Retries = 2

	exec := engine.Execute(context.Background(), config.Plan{Name: "p", Steps: []config.Step{step}}, "manual")

	require.Len(t, exec.Steps, 1)
	assert.Equal(t, StepCompleted, exec.Steps[0].Status)
	assert.Equal(t, 2, exec.Steps[0].Attempts)
	assert.True(t, exec.Success)
}

func TestExecuteFailureAfterRetries(t *testing.T) {
	requireShell(t)
	engine := NewEngine(nil, nil, zap.NewNop())

	step := autoStep("down", "exit 1")
	step.Retries = 1

	exec := engine.Execute(context.Background(), config.Plan{Name: "p", Steps: []config.Step{step}}, "manual")

	require.Len(t, exec.Steps, 1)
	assert.Equal(t, StepFailed, exec.Steps[0].Status)
	assert.Equal(t, 2, exec.Steps[0].Attempts)
	assert.False(t, exec.Success)
	assert.Equal(t, 1, exec.FailedSteps)
}

func TestExecuteSkipsDependentsOfFailedSteps(t *testing.T) {
	requireShell(t)
	engine := NewEngine(nil, nil, zap.NewNop())

	broken := autoStep("broken", "exit 1")
	dependent := autoStep("dependent", "true")
	dependent.DependsOn = []string{"broken"}
	transitive := autoStep("transitive", "true")
	transitive.DependsOn = []string{"dependent"}
	independent := autoStep("independent", "true")

	exec := engine.Execute(context.Background(), config.Plan{
		Name:  "p",
		Steps: []config.Step{broken, dependent, transitive, independent},
	}, "manual")

	byID := map[string]StepResult{}
	for _, s := range exec.Steps {
		byID[s.ID] = s
	}
	assert.Equal(t, StepFailed, byID["broken"].Status)
	assert.Equal(t, StepSkipped, byID["dependent"].Status)
	assert.Equal(t, StepSkipped, byID["transitive"].Status)
	assert.Equal(t, StepCompleted, byID["independent"].Status)
	assert.Equal(t, 2, exec.SkippedSteps)
}

func TestExecuteManualSteps(t *testing.T) {
	requireShell(t)
	engine := NewEngine(nil, nil, zap.NewNop())

	manual := config.Step{ID: "page", Name: "Page the DBA", Mode: "manual", Description: "Call the on-call DBA"}
	after := autoStep("after", "true")
	after.DependsOn = []string{"page"}

	exec := engine.Execute(context.Background(), config.Plan{
		Name:  "p",
		Steps: []config.Step{manual, after},
	}, "manual")

	require.Len(t, exec.Steps, 2)
	assert.Equal(t, StepManualRequired, exec.Steps[0].Status)
	assert.Equal(t, "Call the on-call DBA", exec.Steps[0].Output)
	// Manual steps satisfy dependencies and count in neither tally.
	assert.Equal(t, StepCompleted, exec.Steps[1].Status)
	assert.Equal(t, 1, exec.CompletedSteps)
	assert.Zero(t, exec.FailedSteps)
	assert.True(t, exec.Success)
}

// watchfulNotifier records, at each delivery, whether the step's side
// effect already exists.
type watchfulNotifier struct {
	marker    string
	sawMarker []bool
}

func (w *watchfulNotifier) NotifyContact(context.Context, config.Contact, string, string) error {
	_, err := os.Stat(w.marker)
	w.sawMarker = append(w.sawMarker, err == nil)
	return nil
}

func TestExecuteNotifiesContactsBeforeSteps(t *testing.T) {
	requireShell(t)
	marker := t.TempDir() + "/remediated"
	notifier := &watchfulNotifier{marker: marker}
	engine := NewEngine(nil, notifier, zap.NewNop())

	exec := engine.Execute(context.Background(), config.Plan{
		Name:     "p",
		Steps:    []config.Step{autoStep("a", "touch "+marker)},
		Contacts: []config.Contact{{Name: "On-call", Priority: 1}},
	}, "database_unhealthy")

	require.True(t, exec.Success)
	assert.Equal(t, []string{"On-call"}, exec.Notified)

	// First delivery happens before any step ran; the summary afterwards
	// sees the step's side effect.
	require.Len(t, notifier.sawMarker, 2)
	assert.False(t, notifier.sawMarker[0])
	assert.True(t, notifier.sawMarker[1])
}

func TestNotifierFailureDoesNotAffectOutcome(t *testing.T) {
	requireShell(t)
	notifier := &recordingNotifier{failFor: "Broken Pager"}
	engine := NewEngine(nil, notifier, zap.NewNop())

	exec := engine.Execute(context.Background(), config.Plan{
		Name:  "p",
		Steps: []config.Step{autoStep("a", "true")},
		Contacts: []config.Contact{
			{Name: "Broken Pager", Priority: 1},
			{Name: "Working", Priority: 2},
		},
	}, "manual")

	assert.True(t, exec.Success)
	assert.Equal(t, []string{"Working"}, exec.Notified)
}

func TestEvaluatePriorityAndCooldown(t *testing.T) {
	requireShell(t)
	low := config.Plan{
		Name: "low", Priority: "low", Enabled: true,
		Triggers: []string{"any_unhealthy"},
		Steps:    []config.Step{autoStep("a", "true")},
	}
	critical := config.Plan{
		Name: "critical", Priority: "critical", Enabled: true,
		Triggers: []string{"database_unhealthy"},
		Steps:    []config.Step{autoStep("a", "true")},
	}
	disabled := config.Plan{
		Name: "disabled", Priority: "critical", Enabled: false,
		Triggers: []string{"any_unhealthy"},
		Steps:    []config.Step{autoStep("a", "true")},
	}
	engine := NewEngine([]config.Plan{low, critical, disabled}, nil, zap.NewNop())

	checks := checksWith("database", health.StatusUnhealthy)

	// Highest priority plan wins; only one plan runs per evaluation.
	exec := engine.Evaluate(context.Background(), checks)
	require.NotNil(t, exec)
	assert.Equal(t, "critical", exec.Plan)

	// The critical plan is now in cooldown, so the next sweep falls through
	// to the low priority plan.
	exec = engine.Evaluate(context.Background(), checks)
	require.NotNil(t, exec)
	assert.Equal(t, "low", exec.Plan)

	// Both in cooldown: nothing runs.
	assert.Nil(t, engine.Evaluate(context.Background(), checks))

	// Healthy state never triggers anything.
	assert.Nil(t, engine.Evaluate(context.Background(), checksWith("database", health.StatusHealthy)))
}

func TestEvaluateNoMatchingPlan(t *testing.T) {
	engine := NewEngine([]config.Plan{{
		Name: "p", Priority: "high", Enabled: true,
		Triggers: []string{"cache_unhealthy"},
		Steps:    []config.Step{autoStep("a", "true")},
	}}, nil, zap.NewNop())

	assert.Nil(t, engine.Evaluate(context.Background(), checksWith("database", health.StatusUnhealthy)))
}

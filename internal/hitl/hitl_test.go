package hitl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theological-agent/internal/audit"
	"theological-agent/internal/logging"
	"theological-agent/internal/notify"
	"theological-agent/internal/repository"
	"theological-agent/internal/workflow"
)

type synthResumer struct {
	calls atomic.Int32
	seen  chan workflow.WorkflowState
	err   error
}

func (r *synthResumer) Resume(_ context.Context, s workflow.WorkflowState, terminal string) (*workflow.Result, error) {
	r.calls.Add(1)
	if r.seen != nil {
		r.seen <- s
	}
	if r.err != nil {
		return nil, r.err
	}
	next, err := workflow.Apply(s, workflow.Update{
		Outputs: map[workflow.Slot]string{workflow.SlotFinal: "final from " + s.Outputs[workflow.SlotValidation]},
		Steps:   []workflow.StepRecord{{Node: terminal}},
	})
	if err != nil {
		return nil, err
	}
	return &workflow.Result{State: next, Status: workflow.StatusCompleted}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (d *recordingDispatcher) Dispatch(ev notify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func gatedState(t *testing.T) workflow.WorkflowState {
	t.Helper()
	s := workflow.NewState("run-1", workflow.Inputs{Book: "Sl", Chapter: 23, Verses: []int{1, 2, 3}, Modules: []string{"panorama"}})
	s, err := workflow.Apply(s, workflow.Update{
		Outputs: map[workflow.Slot]string{
			workflow.SlotPanorama:     "panorama",
			workflow.SlotIntertextual: "intertextual",
			workflow.SlotValidation:   "validation",
		},
		ModelVersions: map[string]string{"panorama_agent": "flash"},
		RiskLevel:     workflow.RiskHigh,
		Alerts:        []string{"doctrinal drift"},
		Steps:         []workflow.StepRecord{{Node: "panorama_agent"}, {Node: "theological_validator"}},
	})
	require.NoError(t, err)
	return s
}

func newController(store *repository.MemoryStore, r Resumer, d Dispatcher) *Controller {
	return NewController(store, r, audit.NewRecorder(store, logging.Discard()), d, "http://localhost:8080/hitl/", logging.Discard())
}

func TestRouteByRisk(t *testing.T) {
	s := workflow.NewState("r", workflow.Inputs{})
	assert.Equal(t, SynthesisTarget, RouteByRisk(s))
	s.RiskLevel = workflow.RiskMedium
	assert.Equal(t, SynthesisTarget, RouteByRisk(s))
	s.RiskLevel = workflow.RiskHigh
	assert.Equal(t, PauseTarget, RouteByRisk(s))
}

func TestPausePersistsAndNotifies(t *testing.T) {
	store := repository.NewMemoryStore()
	d := &recordingDispatcher{}
	c := newController(store, &synthResumer{}, d)

	paused, err := c.Pause(context.Background(), gatedState(t))
	require.NoError(t, err)
	assert.Equal(t, workflow.HITLPending, paused.HITLStatus)

	review, err := c.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, repository.ReviewPending, review.Status)
	assert.Equal(t, "validation", review.Outputs[workflow.SlotValidation])
	assert.Equal(t, []string{"doctrinal drift"}, review.Alerts)

	require.Len(t, d.events, 1)
	assert.Equal(t, "Sl 23:1-3", d.events[0].Reference)
	assert.Equal(t, "http://localhost:8080/hitl/run-1", d.events[0].ReviewURL)

	_, err = c.Pause(context.Background(), gatedState(t))
	require.NoError(t, err)
	assert.Len(t, d.events, 1, "duplicate pause must not notify again")

	pending, err := c.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestResumeApproved(t *testing.T) {
	store := repository.NewMemoryStore()
	r := &synthResumer{}
	c := newController(store, r, nil)
	_, err := c.Pause(context.Background(), gatedState(t))
	require.NoError(t, err)

	out, err := c.Resume(context.Background(), "run-1", nil, "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, workflow.HITLApproved, out.HITLStatus)
	assert.Equal(t, "final from validation", out.FinalAnalysis())

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Equal(t, "approved", run.HITLStatus)
	assert.Equal(t, "final from validation", run.FinalOutput)
}

func TestResumeEditedReplacesValidation(t *testing.T) {
	store := repository.NewMemoryStore()
	r := &synthResumer{seen: make(chan workflow.WorkflowState, 1)}
	c := newController(store, r, nil)
	_, err := c.Pause(context.Background(), gatedState(t))
	require.NoError(t, err)

	edited := "corrected validation"
	out, err := c.Resume(context.Background(), "run-1", &edited, "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, workflow.HITLEdited, out.HITLStatus)

	seen := <-r.seen
	assert.Equal(t, "corrected validation", seen.Outputs[workflow.SlotValidation])
	assert.Equal(t, "panorama", seen.Outputs[workflow.SlotPanorama])
	assert.Equal(t, workflow.RiskHigh, seen.RiskLevel)

	review, err := c.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, repository.ReviewEdited, review.Status)
	assert.Equal(t, "reviewer@example.com", review.ReviewerEmail)
}

func TestResumeBlankEditCountsAsApproval(t *testing.T) {
	store := repository.NewMemoryStore()
	c := newController(store, &synthResumer{}, nil)
	_, err := c.Pause(context.Background(), gatedState(t))
	require.NoError(t, err)

	blank := "   "
	out, err := c.Resume(context.Background(), "run-1", &blank, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.HITLApproved, out.HITLStatus)
}

func TestResumeErrors(t *testing.T) {
	store := repository.NewMemoryStore()
	r := &synthResumer{}
	c := newController(store, r, nil)

	_, err := c.Resume(context.Background(), "missing", nil, "")
	assert.ErrorIs(t, err, ErrReviewNotFound)

	_, err = c.Pause(context.Background(), gatedState(t))
	require.NoError(t, err)
	_, err = c.Resume(context.Background(), "run-1", nil, "")
	require.NoError(t, err)

	_, err = c.Resume(context.Background(), "run-1", nil, "")
	assert.ErrorIs(t, err, ErrReviewResolved)
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestResumeSynthesisFailureIsAudited(t *testing.T) {
	store := repository.NewMemoryStore()
	boom := errors.New("synthesis failed")
	c := newController(store, &synthResumer{err: boom}, nil)
	_, err := c.Pause(context.Background(), gatedState(t))
	require.NoError(t, err)

	_, err = c.Resume(context.Background(), "run-1", nil, "")
	assert.ErrorIs(t, err, boom)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, run.Success)
	assert.Equal(t, "synthesis failed", run.Error)

	review, err := c.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, repository.ReviewApproved, review.Status)
}

func TestResumeKeepsAnalysisDuration(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	c := newController(store, &synthResumer{}, nil)
	paused, err := c.Pause(ctx, gatedState(t))
	require.NoError(t, err)
	require.NoError(t, store.UpsertRun(ctx, &repository.RunRecord{
		RunID:      paused.RunID,
		HITLStatus: string(workflow.HITLPending),
		Success:    true,
		DurationMS: 4500,
	}))

	_, err = c.Resume(ctx, "run-1", nil, "")
	require.NoError(t, err)

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, run.DurationMS, int64(4500))
	assert.Equal(t, "approved", run.HITLStatus)
}

func TestConcurrentResumeSynthesizesOnce(t *testing.T) {
	store := repository.NewMemoryStore()
	r := &synthResumer{}
	c := newController(store, r, nil)
	_, err := c.Pause(context.Background(), gatedState(t))
	require.NoError(t, err)

	const callers = 8
	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		resolved atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resume(context.Background(), "run-1", nil, "")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrReviewResolved):
				resolved.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, callers-1, resolved.Load())
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestStateFromReviewRejectsPending(t *testing.T) {
	review := ReviewFromState(gatedState(t))
	_, err := StateFromReview(review)
	assert.Error(t, err)
}

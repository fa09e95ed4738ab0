package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

const (
	jobWorkflowName      = "dispatch.job"
	executeActivityName  = "dispatch.execute"
	completeActivityName = "dispatch.complete"

	defaultAttemptTimeout = time.Minute

	// permanentErrorType tags activity failures that must not be retried.
	permanentErrorType = "PermanentDispatchError"
)

// TaskQueue is the Temporal task queue serving the named pool.
func TaskQueue(pool string) string {
	return "dispatch-" + pool
}

// CompletionTaskQueue carries the pool's completion reports, so reporting
// never takes a slot from the pool's outbound calls.
func CompletionTaskQueue(pool string) string {
	return TaskQueue(pool) + "-complete"
}

// JobWorkflowInput carries a job and its pool's retry tuning.
type JobWorkflowInput struct {
	Pool           string        `json:"pool"`
	Job            Job           `json:"job"`
	MaxAttempts    int           `json:"maxAttempts"`
	InitialBackoff time.Duration `json:"initialBackoff"`
	BackoffBase    float64       `json:"backoffBase"`
	AttemptTimeout time.Duration `json:"attemptTimeout"`
}

func workflowInput(cfg Config, job Job) JobWorkflowInput {
	return JobWorkflowInput{
		Pool:           cfg.Name,
		Job:            job,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		BackoffBase:    cfg.BackoffBase,
		AttemptTimeout: cfg.AttemptTimeout,
	}
}

// JobActivities adapts a pool's handler and completion callback to
// Temporal activities.
type JobActivities struct {
	handler    Handler
	onComplete CompletionFunc
	logger     *slog.Logger
}

func NewJobActivities(handler Handler, onComplete CompletionFunc, logger *slog.Logger) *JobActivities {
	return &JobActivities{handler: handler, onComplete: onComplete, logger: logger}
}

// Execute runs one attempt. Temporal owns the retry schedule.
func (a *JobActivities) Execute(ctx context.Context, job Job) error {
	attempt := activity.GetInfo(ctx).Attempt
	if err := a.handler(ctx, job); err != nil {
		if IsPermanent(err) {
			a.logger.Error("activity failed permanently", "job_id", job.ID, "kind", job.Kind, "attempt", attempt, "error", err)
			return temporal.NewNonRetryableApplicationError(err.Error(), permanentErrorType, err)
		}
		a.logger.Warn("activity attempt failed", "job_id", job.ID, "kind", job.Kind, "attempt", attempt, "error", err)
		return err
	}
	return nil
}

// Complete hands the terminal result to the completion sink.
func (a *JobActivities) Complete(ctx context.Context, c Completion) error {
	a.onComplete(ctx, c)
	return nil
}

// JobWorkflow executes one job with the pool's retry policy, then reports
// the tagged result exactly once through the complete activity.
func JobWorkflow(ctx workflow.Context, in JobWorkflowInput) (Result, error) {
	logger := workflow.GetLogger(ctx)

	attemptTimeout := in.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = defaultAttemptTimeout
	}
	maxInterval := in.InitialBackoff
	for i := 1; i < in.MaxAttempts; i++ {
		maxInterval = time.Duration(float64(maxInterval) * in.BackoffBase)
	}
	if maxInterval < in.InitialBackoff || maxInterval <= 0 {
		maxInterval = in.InitialBackoff
	}
	execCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: attemptTimeout,
		// A canceled job still finishes the attempt in flight.
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        in.InitialBackoff,
			BackoffCoefficient:     in.BackoffBase,
			MaximumInterval:        maxInterval,
			MaximumAttempts:        int32(in.MaxAttempts),
			NonRetryableErrorTypes: []string{permanentErrorType},
		},
	})

	result := Result{Kind: ResultSuccess}
	err := workflow.ExecuteActivity(execCtx, executeActivityName, in.Job).Get(execCtx, nil)
	switch {
	case err == nil:
	case temporal.IsCanceledError(err):
		result = Result{Kind: ResultCanceled}
	default:
		result = Result{Kind: ResultFailed, Error: fmt.Sprintf("%v: %v", ErrDispatchFailed, err)}
	}

	reportCtx, _ := workflow.NewDisconnectedContext(ctx)
	reportCtx = workflow.WithActivityOptions(reportCtx, workflow.ActivityOptions{
		TaskQueue:           CompletionTaskQueue(in.Pool),
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	completion := Completion{Pool: in.Pool, Job: in.Job, Result: result, FinishedAt: workflow.Now(ctx)}
	if err := workflow.ExecuteActivity(reportCtx, completeActivityName, completion).Get(reportCtx, nil); err != nil {
		logger.Error("report completion failed", "job_id", in.Job.ID, "error", err)
	}
	return result, nil
}

// RegisterJobWorker wires a Temporal worker for one pool's workflows and
// outbound attempts. The pool's parallelism caps concurrent attempts.
func RegisterJobWorker(c client.Client, cfg Config, handler Handler, logger *slog.Logger) (temporalworker.Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := temporalworker.New(c, TaskQueue(cfg.Name), temporalworker.Options{
		MaxConcurrentActivityExecutionSize: cfg.Parallelism,
	})
	w.RegisterWorkflowWithOptions(JobWorkflow, workflow.RegisterOptions{Name: jobWorkflowName})
	acts := NewJobActivities(handler, nil, logger.With("component", "dispatch.activities", "pool", cfg.Name))
	w.RegisterActivityWithOptions(acts.Execute, activity.RegisterOptions{Name: executeActivityName})
	return w, nil
}

// RegisterCompletionWorker wires the worker that hands one pool's terminal
// results to onComplete.
func RegisterCompletionWorker(c client.Client, cfg Config, onComplete CompletionFunc, logger *slog.Logger) (temporalworker.Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := temporalworker.New(c, CompletionTaskQueue(cfg.Name), temporalworker.Options{})
	acts := NewJobActivities(nil, onComplete, logger.With("component", "dispatch.completions", "pool", cfg.Name))
	w.RegisterActivityWithOptions(acts.Complete, activity.RegisterOptions{Name: completeActivityName})
	return w, nil
}

// TemporalQueue enqueues each job as its own workflow execution.
type TemporalQueue struct {
	client client.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewTemporalQueue(c client.Client, cfg Config, logger *slog.Logger) (*TemporalQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TemporalQueue{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "dispatch.temporal", "pool", cfg.Name),
		now:    time.Now,
	}, nil
}

func (q *TemporalQueue) Name() string { return q.cfg.Name }

// Enqueue starts the job workflow and returns its workflow id.
func (q *TemporalQueue) Enqueue(ctx context.Context, kind Kind, payload any, jc JobContext) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	job := Job{
		ID:         fmt.Sprintf("%s-%s", q.cfg.Name, uuid.NewString()),
		Kind:       kind,
		Payload:    raw,
		Context:    jc,
		EnqueuedAt: q.now().UTC(),
	}
	options := client.StartWorkflowOptions{
		ID:                    job.ID,
		TaskQueue:             TaskQueue(q.cfg.Name),
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	we, err := q.client.ExecuteWorkflow(ctx, options, jobWorkflowName, workflowInput(q.cfg, job))
	if err != nil {
		q.logger.Error("start job workflow failed", "job_id", job.ID, "error", err)
		return "", fmt.Errorf("start job workflow: %w", err)
	}
	q.logger.Debug("job workflow dispatched", "job_id", we.GetID(), "run_id", we.GetRunID(), "record_id", jc.RecordID)
	return we.GetID(), nil
}

// Cancel requests workflow cancellation. The attempt in flight completes.
func (q *TemporalQueue) Cancel(ctx context.Context, id string) (bool, error) {
	state, err := q.Status(ctx, id)
	if err != nil {
		return false, err
	}
	if state.Terminal() {
		return false, nil
	}
	if err := q.client.CancelWorkflow(ctx, id, ""); err != nil {
		return false, fmt.Errorf("cancel job workflow: %w", err)
	}
	return true, nil
}

// Status maps the workflow execution status to a job state.
func (q *TemporalQueue) Status(ctx context.Context, id string) (State, error) {
	resp, err := q.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return "", ErrUnknownJob
		}
		return "", fmt.Errorf("describe job workflow: %w", err)
	}
	switch resp.GetWorkflowExecutionInfo().GetStatus() {
	case enums.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return StateRunning, nil
	case enums.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var result Result
		if err := q.client.GetWorkflow(ctx, id, "").Get(ctx, &result); err != nil {
			return "", fmt.Errorf("read job result: %w", err)
		}
		return result.state(), nil
	case enums.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return StateCanceled, nil
	}
	return StateFailed, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/rendis/flowkit/internal/actions"
	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/internal/logging"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

// BehaviorRunner runs single behaviors and ordered behavior lists.
// Satisfied by *Executor and test fakes.
type BehaviorRunner interface {
	ExecuteBehavior(ctx context.Context, organizationID, behaviorType string, config, execCtx map[string]any) schema.BehaviorResult
	ExecuteBehaviors(ctx context.Context, req SequenceRequest) *schema.SequenceResult
}

// ExecutorConfig holds optional collaborators of the executor.
type ExecutorConfig struct {
	// ExecutionLogs receives execution log records. Nil disables logging.
	ExecutionLogs store.ExecutionLogStore
	Logger        *slog.Logger
	Now           func() time.Time
}

// Executor dispatches behaviors to registered actions. It never returns an
// error to its caller: every failure becomes an unsuccessful BehaviorResult.
type Executor struct {
	actions actions.ActionRegistry
	logs    *ExecutionLogWriter
	logger  *slog.Logger
	now     func() time.Time
}

// NewExecutor creates an Executor backed by registry.
func NewExecutor(registry actions.ActionRegistry, cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{
		actions: registry,
		logs:    NewExecutionLogWriter(cfg.ExecutionLogs, cfg.Logger, cfg.Now),
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// ExecuteBehavior runs one behavior against execCtx.
//
// A config "condition" gates execution; when it is not met the behavior is
// reported as skipped and successful. Client-side and unknown behavior
// types are refused. The session id is read from execCtx["sessionId"].
func (e *Executor) ExecuteBehavior(ctx context.Context, organizationID, behaviorType string, config, execCtx map[string]any) (result schema.BehaviorResult) {
	ctx = logging.WithBehaviorType(ctx, behaviorType)
	if organizationID != "" {
		ctx = logging.WithOrganizationID(ctx, organizationID)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "behavior panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = schema.BehaviorResult{
				Success: false,
				Error:   fmt.Sprintf("behavior %s panicked: %v", behaviorType, r),
			}
		}
	}()

	if cond, ok := config["condition"].(string); ok && cond != "" {
		met, err := expressions.EvaluateCondition(cond, execCtx)
		if err != nil {
			e.logger.WarnContext(ctx, "condition not evaluable, treating as not met",
				slog.String("condition", cond),
				slog.String("error", err.Error()),
			)
		}
		if !met {
			return schema.BehaviorResult{
				Success: true,
				Data:    map[string]any{"skipped": true, "reason": cond},
				Message: "Condition not met",
			}
		}
	}

	bt := schema.BehaviorType(behaviorType)
	switch bt.Kind() {
	case schema.BehaviorKindServer:
		return e.dispatch(ctx, organizationID, bt, config, execCtx)
	case schema.BehaviorKindClient:
		return schema.BehaviorResult{
			Success: false,
			Error:   fmt.Sprintf("%s is a client-side behavior and cannot be executed on the server", behaviorType),
			Message: "client-side behavior",
		}
	default:
		e.logger.WarnContext(ctx, "unknown behavior type")
		return schema.BehaviorResult{
			Success: false,
			Error:   "Unknown behavior type: " + behaviorType,
		}
	}
}

func (e *Executor) dispatch(ctx context.Context, organizationID string, bt schema.BehaviorType, config, execCtx map[string]any) schema.BehaviorResult {
	action, err := e.actions.Get(bt)
	if err != nil {
		return schema.BehaviorResult{Success: false, Error: err.Error()}
	}

	sessionID, _ := execCtx["sessionId"].(string)
	start := e.now()
	res, err := action.Execute(ctx, actions.ActionInput{
		SessionID:      sessionID,
		OrganizationID: organizationID,
		Config:         config,
		Context:        execCtx,
	})
	elapsed := e.now().Sub(start)

	if err != nil {
		e.logger.ErrorContext(ctx, "behavior failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		return schema.BehaviorResult{Success: false, Error: errorMessage(err)}
	}
	if res == nil {
		return schema.BehaviorResult{Success: false, Error: fmt.Sprintf("behavior %s returned no result", bt)}
	}

	e.logger.DebugContext(ctx, "behavior finished",
		slog.Bool("success", res.Success),
		slog.Duration("elapsed", elapsed),
	)
	return *res
}

// errorMessage strips the code prefix from flow errors.
func errorMessage(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

var _ BehaviorRunner = (*Executor)(nil)

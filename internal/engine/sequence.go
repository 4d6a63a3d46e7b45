package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rendis/flowkit/internal/logging"
	"github.com/rendis/flowkit/pkg/schema"
)

// SequenceRequest describes one run of an ordered behavior list.
type SequenceRequest struct {
	OrganizationID  string
	SessionID       string
	Behaviors       []schema.BehaviorSpec
	Context         map[string]any
	ContinueOnError bool

	// WorkflowID and WorkflowName enable execution logging when both are set.
	WorkflowID   string
	WorkflowName string
}

// ExecuteBehaviors runs behaviors in descending priority order. Equal
// priorities keep their input order. After each success the behavior's
// data is merged over the context the next behavior sees. The first
// failure stops the run unless ContinueOnError is set.
func (e *Executor) ExecuteBehaviors(ctx context.Context, req SequenceRequest) *schema.SequenceResult {
	if req.OrganizationID != "" {
		ctx = logging.WithOrganizationID(ctx, req.OrganizationID)
	}
	if req.WorkflowID != "" {
		ctx = logging.WithWorkflowID(ctx, req.WorkflowID)
	}

	result := &schema.SequenceResult{
		Results:    make([]schema.BehaviorOutcome, 0, len(req.Behaviors)),
		TotalCount: len(req.Behaviors),
	}

	var executionID string
	if req.WorkflowID != "" && req.WorkflowName != "" {
		executionID = e.logs.Start(ctx, req.OrganizationID, req.WorkflowID, req.WorkflowName)
		if executionID != "" {
			ctx = logging.WithExecutionID(ctx, executionID)
			result.ExecutionID = executionID
		}
		e.logs.Line(ctx, executionID, schema.LogLevelInfo,
			fmt.Sprintf("Starting execution of %d behaviors", len(req.Behaviors)), "")
	}

	current := copyContext(req.Context)
	if req.SessionID != "" {
		if _, ok := current["sessionId"]; !ok {
			current["sessionId"] = req.SessionID
		}
	}

	allSuccess := true
	for _, b := range sortByPriority(req.Behaviors) {
		if err := ctx.Err(); err != nil {
			e.logger.WarnContext(ctx, "run cancelled", slog.String("error", err.Error()))
			e.logs.Line(ctx, executionID, schema.LogLevelError, "Execution cancelled: "+err.Error(), "")
			allSuccess = false
			break
		}

		e.logs.Line(ctx, executionID, schema.LogLevelInfo, "Executing "+b.Type, b.Type)
		res := e.ExecuteBehavior(ctx, req.OrganizationID, b.Type, b.Config, current)
		result.Results = append(result.Results, schema.BehaviorOutcome{
			BehaviorID: b.ID,
			Type:       b.Type,
			Priority:   b.Priority,
			Result:     res,
		})

		if !res.Success {
			allSuccess = false
			e.logs.Line(ctx, executionID, schema.LogLevelError,
				fmt.Sprintf("Failed %s: %s", b.Type, failureText(res)), b.Type)
			if !req.ContinueOnError {
				break
			}
			continue
		}

		e.logs.Line(ctx, executionID, schema.LogLevelSuccess, "Completed "+b.Type, b.Type)
		current = mergeContext(current, res.Data)
	}

	result.Success = allSuccess
	result.ExecutedCount = len(result.Results)

	status := schema.ExecutionStatusSuccess
	if !allSuccess {
		status = schema.ExecutionStatusFailed
	}
	e.logs.Finish(ctx, executionID, status, result)

	e.logger.InfoContext(ctx, "behavior sequence finished",
		slog.Bool("success", result.Success),
		slog.Int("executed", result.ExecutedCount),
		slog.Int("total", result.TotalCount),
	)
	return result
}

// sortByPriority returns a copy ordered by descending priority. The sort
// is stable so equal priorities keep their original order.
func sortByPriority(in []schema.BehaviorSpec) []schema.BehaviorSpec {
	out := make([]schema.BehaviorSpec, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func copyContext(c map[string]any) map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// mergeContext returns a new map with data shallow-merged over c.
func mergeContext(c, data map[string]any) map[string]any {
	out := make(map[string]any, len(c)+len(data))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}

func failureText(res schema.BehaviorResult) string {
	if res.Error != "" {
		return res.Error
	}
	if res.Message != "" {
		return res.Message
	}
	return "unknown error"
}

package tools

import (
	"context"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// FinishTask is the sentinel the model calls when the task is done.
// The orchestrator watches for the call; the tool itself only echoes
// the closing summary.
type FinishTask struct{}

// NewFinishTask builds the sentinel tool.
func NewFinishTask() *FinishTask {
	return &FinishTask{}
}

type finishTaskArgs struct {
	Summary string `json:"summary,omitempty" jsonschema:"description=One or two sentences describing what was done"`
}

func (t *FinishTask) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:        FinishTaskName,
		Description: "Signal that the task is complete. Call this once there is nothing left to do.",
		Permission:  models.PermissionRead,
		Parameters:  reflectSchema(&finishTaskArgs{}),
	}
}

func (t *FinishTask) Invoke(_ context.Context, args map[string]any) (string, error) {
	var in finishTaskArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Summary != "" {
		return "Task complete: " + in.Summary, nil
	}
	return "Task complete.", nil
}

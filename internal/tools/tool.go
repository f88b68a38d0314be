// Package tools defines the Tool extension point and the registry that
// dispatches model-requested tool calls with validation and timeouts.
package tools

import (
	"context"

	"github.com/quillagent/quill/pkg/models"
)

// Tool is a named, schema-described capability executed locally on the
// host. Implementations must be safe for concurrent use.
type Tool interface {
	// Name returns the unique registry key for the tool.
	Name() string

	// Description explains the tool to the model.
	Description() string

	// Definition returns the schema advertised to the model.
	Definition() models.ToolDefinition

	// Execute runs the tool. A failed execution is reported in the
	// result's Success/Error fields; the returned error is reserved for
	// infrastructure failures the registry wraps.
	Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error)
}

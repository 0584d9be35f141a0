package tools

import "context"

// FuncTool wraps a plain function as a Tool.
type FuncTool struct {
	ToolName string
	ToolDesc string
	Fn       func(ctx context.Context, text string) (string, error)
}

func (f *FuncTool) Name() string        { return f.ToolName }
func (f *FuncTool) Description() string { return f.ToolDesc }
func (f *FuncTool) Query(ctx context.Context, text string) (string, error) {
	return f.Fn(ctx, text)
}

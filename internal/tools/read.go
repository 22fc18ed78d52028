package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const readToolName = "read"

// ReadTool reads file contents from within the workspace root.
type ReadTool struct {
	workspaceRoot  string
	maxOutputLines int
	maxOutputBytes int
}

// NewReadTool constructs the read tool confined to workspaceRoot.
// An empty root means the current working directory.
func NewReadTool(workspaceRoot string) ReadTool {
	return ReadTool{
		workspaceRoot:  workspaceRoot,
		maxOutputLines: defaultMaxLines,
		maxOutputBytes: defaultMaxBytes,
	}
}

func (ReadTool) Name() string { return readToolName }

func (ReadTool) Description() string {
	return "Read a file from the workspace by path. Relative paths resolve against the workspace root; paths outside the workspace are rejected."
}

func (ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path, absolute or relative to the workspace root"}},"required":["path"]}`)
}

func (t ReadTool) Execute(ctx context.Context, params json.RawMessage) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	var input struct {
		Path string `json:"path"`
	}
	if err := decodeParams(params, &input); err != nil {
		return Result{}, fmt.Errorf("decode read params: %w", err)
	}
	if input.Path == "" {
		return Result{}, errors.New("path is required")
	}

	path, err := resolveWorkspacePath(t.workspaceRoot, input.Path, false)
	if err != nil {
		return Result{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}

	truncation := truncateHead(string(raw), truncationOptions{MaxLines: t.maxOutputLines, MaxBytes: t.maxOutputBytes})
	content := truncation.Content
	if truncation.Truncated {
		content += fmt.Sprintf(
			"\n\n[Showing first %d of %d lines (%s of %s)]",
			truncation.OutputLines,
			truncation.TotalLines,
			formatSize(truncation.OutputBytes),
			formatSize(truncation.TotalBytes),
		)
	}

	details, _ := json.Marshal(map[string]any{
		"path":      path,
		"bytes":     len(raw),
		"truncated": truncation.Truncated,
	})
	return Result{
		Content: content,
		Display: DisplayData{
			Type:    "file_content",
			Payload: details,
		},
	}, nil
}

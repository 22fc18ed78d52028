package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadToolReadsRelativePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "package main\n"
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tool := NewReadTool(dir)
	got, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"main.go"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.Content != content {
		t.Fatalf("Execute().Content = %q, want %q", got.Content, content)
	}
}

func TestReadToolRejectsPathOutsideWorkspace(t *testing.T) {
	t.Parallel()

	outside := t.TempDir()
	path := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tool := NewReadTool(t.TempDir())
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"`+path+`"}`))
	if !errors.Is(err, ErrPathOutsideWorkspace) {
		t.Fatalf("Execute() error = %v, want ErrPathOutsideWorkspace", err)
	}
}

func TestReadToolRequiresPath(t *testing.T) {
	t.Parallel()

	tool := NewReadTool(t.TempDir())
	_, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err == nil || !strings.Contains(err.Error(), "path") {
		t.Fatalf("Execute() error = %v, want path validation error", err)
	}
}

func TestReadToolTruncatesLongFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("line\n")
	}
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tool := NewReadTool(dir)
	tool.maxOutputLines = 10
	got, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"big.txt"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(got.Content, "[Showing first 10 of 51 lines") {
		t.Fatalf("Execute().Content = %q, want truncation notice", got.Content)
	}
}

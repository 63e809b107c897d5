package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

// FileSystem serves the agent's fs/read_text_file and fs/write_text_file
// requests.
type FileSystem interface {
	ReadTextFile(ctx context.Context, params *protocol.ReadTextFileParams) (protocol.ReadTextFileResult, error)
	WriteTextFile(ctx context.Context, params *protocol.WriteTextFileParams) error
}

// OSFileSystem serves filesystem requests from the local disk.
type OSFileSystem struct{}

// ReadTextFile reads a file, optionally slicing by 1-based line and limit.
func (OSFileSystem) ReadTextFile(ctx context.Context, params *protocol.ReadTextFileParams) (protocol.ReadTextFileResult, error) {
	data, err := os.ReadFile(params.Path)
	if err != nil {
		return protocol.ReadTextFileResult{}, fmt.Errorf("failed to read %s: %w", params.Path, err)
	}

	content := string(data)
	if params.Line != nil || params.Limit != nil {
		lines := strings.Split(content, "\n")

		start := 0
		if params.Line != nil && *params.Line > 0 {
			start = *params.Line - 1
		}
		if start > len(lines) {
			start = len(lines)
		}

		end := len(lines)
		if params.Limit != nil && *params.Limit >= 0 && start+*params.Limit < end {
			end = start + *params.Limit
		}

		content = strings.Join(lines[start:end], "\n")
	}

	return protocol.ReadTextFileResult{Content: content}, nil
}

// WriteTextFile writes a file, creating parent directories as needed.
func (OSFileSystem) WriteTextFile(ctx context.Context, params *protocol.WriteTextFileParams) error {
	if dir := filepath.Dir(params.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(params.Path, []byte(params.Content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", params.Path, err)
	}
	return nil
}

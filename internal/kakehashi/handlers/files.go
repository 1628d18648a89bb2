package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/sandbox"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

const encodingBase64 = "base64"

type readFileParams struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

const encodingProperty = `{"type": "string", "enum": ["utf8", "utf-8", "base64"], "default": "utf8"}`

const readFileSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "encoding": ` + encodingProperty + `
  },
  "required": ["path"]
}`

func readFileTool(root *sandbox.Root) *tools.Tool {
	return tools.MustNew(tools.Spec[readFileParams]{
		Name:        NameReadFile,
		Description: "Read a file under the workspace root",
		Schema:      json.RawMessage(readFileSchema),
		Defaults:    readFileParams{Encoding: "utf8"},
		Reporting:   tools.Propagating,
		Handle: func(ctx context.Context, p readFileParams) (*tools.Result, error) {
			data, err := root.ReadFile(ctx, p.Path)
			if err != nil {
				return nil, err
			}
			if p.Encoding == encodingBase64 {
				return tools.Text(base64.StdEncoding.EncodeToString(data)), nil
			}
			return tools.Text(strings.ToValidUTF8(string(data), "\uFFFD")), nil
		},
	})
}

type writeFileParams struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

const writeFileSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "content": {"type": "string"},
    "encoding": ` + encodingProperty + `
  },
  "required": ["path", "content"]
}`

func writeFileTool(root *sandbox.Root) *tools.Tool {
	return tools.MustNew(tools.Spec[writeFileParams]{
		Name:        NameWriteFile,
		Description: "Write a file under the workspace root, creating parent directories",
		Schema:      json.RawMessage(writeFileSchema),
		Defaults:    writeFileParams{Encoding: "utf8"},
		Reporting:   tools.Propagating,
		Handle: func(ctx context.Context, p writeFileParams) (*tools.Result, error) {
			data := []byte(p.Content)
			if p.Encoding == encodingBase64 {
				decoded, err := base64.StdEncoding.DecodeString(p.Content)
				if err != nil {
					return nil, fmt.Errorf("content is not valid base64: %w", err)
				}
				data = decoded
			}
			if err := root.WriteFile(ctx, p.Path, data); err != nil {
				return nil, err
			}
			return tools.Textf("Successfully wrote to file: %s", p.Path), nil
		},
	})
}

type listDirectoryParams struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

const listDirectorySchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string"},
    "recursive": {"type": "boolean", "default": false}
  },
  "required": ["path"]
}`

func listDirectoryTool(root *sandbox.Root) *tools.Tool {
	return tools.MustNew(tools.Spec[listDirectoryParams]{
		Name:        NameListDirectory,
		Description: "List a directory under the workspace root, optionally recursively",
		Schema:      json.RawMessage(listDirectorySchema),
		Reporting:   tools.Propagating,
		Handle: func(ctx context.Context, p listDirectoryParams) (*tools.Result, error) {
			entries, err := root.List(ctx, p.Path, p.Recursive)
			if err != nil {
				return nil, err
			}
			return tools.Text(strings.Join(entries, "\n")), nil
		},
	})
}

// Package mcp provides the Model Context Protocol bootstrap methods on top of the
// generic handler registry: initialize, ping, tools/list, tools/call, resources/list
// and resources/read.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"workspace-mcp/handler"
	"workspace-mcp/message"
)

const ProtocolVersion = "2024-11-05"

type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

type Capabilities struct {
	Tools     ToolsCapability     `json:"tools"`
	Resources ResourcesCapability `json:"resources"`
}

type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// Register installs the bootstrap methods into b.
func Register(b *handler.Builder, info Implementation, tools *ToolSet, resources *ResourceSet, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	methods := []struct {
		name string
		h    handler.HandlerFunc
	}{
		{"initialize", Initialize(info, logger)},
		{"ping", Ping},
		{"tools/list", ToolsList(tools)},
		{"tools/call", ToolsCall(tools)},
		{"resources/list", ResourcesList(resources)},
		{"resources/read", ResourcesRead(resources)},
	}
	for _, m := range methods {
		if err := b.Register(m.name, m.h); err != nil {
			return err
		}
	}
	return nil
}

// Initialize answers the handshake. The result is static, so repeated calls agree.
func Initialize(info Implementation, logger *slog.Logger) handler.HandlerFunc {
	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Tools:     ToolsCapability{ListChanged: true},
			Resources: ResourcesCapability{Subscribe: true, ListChanged: true},
		},
		ServerInfo: info,
	}
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			ProtocolVersion string         `json:"protocolVersion"`
			ClientInfo      Implementation `json:"clientInfo"`
		}
		if len(params) > 0 && json.Unmarshal(params, &req) == nil && req.ClientInfo.Name != "" {
			logger.Info("client initialized",
				"client", req.ClientInfo.Name,
				"clientVersion", req.ClientInfo.Version,
				"protocolVersion", req.ProtocolVersion)
		}
		return result, nil
	}
}

func Ping(ctx context.Context, params json.RawMessage) (any, error) {
	return struct{}{}, nil
}

func ToolsList(tools *ToolSet) handler.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		return ListToolsResult{Tools: tools.Descriptors()}, nil
	}
}

// ToolsCall dispatches {"name", "arguments"} to the tool set and wraps the tool's value
// as a single text content item holding its JSON.
func ToolsCall(tools *ToolSet) handler.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.Name == "" {
			return nil, IllegalArgument("Tool name is required")
		}

		value, err := tools.Call(ctx, req.Name, req.Arguments)
		if err != nil {
			return nil, err
		}
		text, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s result: %w", req.Name, err)
		}
		return CallToolResult{Content: []Content{{Type: "text", Text: string(text)}}}, nil
	}
}

func ResourcesList(resources *ResourceSet) handler.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		return ListResourcesResult{Resources: resources.List()}, nil
	}
}

func ResourcesRead(resources *ResourceSet) handler.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			URI string `json:"uri"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return resources.Read(ctx, req.URI)
	}
}

// decodeParams rejects structurally wrong params with -32602. Absent params decode as {}.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return message.InvalidParams(fmt.Sprintf("Invalid params: %v", err))
	}
	return nil
}

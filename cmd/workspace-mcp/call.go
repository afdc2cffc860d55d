package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
	"workspace-mcp/client"

	"github.com/spf13/cobra"
)

func newCallCmd(root *rootOptions) *cobra.Command {
	var (
		t       target
		timeout time.Duration
		tool    bool
	)
	cmd := &cobra.Command{
		Use:   "call METHOD [PARAMS]",
		Short: "Send one request to a running server and print the result",
		Example: `  workspace-mcp call tools/list
  workspace-mcp call resources/read '{"uri":"workspace://projects"}'
  workspace-mcp call --tool find_type '{"typeName":"*Service"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			defer closer.Close()

			method, params, err := callParams(args, tool)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			addr, err := t.resolve(ctx, cfg)
			if err != nil {
				return err
			}
			c, err := client.Dial(ctx, addr, client.WithLogger(logger))
			if err != nil {
				return err
			}
			defer c.Close()

			var result json.RawMessage
			if err := c.Call(ctx, method, params, &result); err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	t.bind(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	cmd.Flags().BoolVar(&tool, "tool", false, "treat METHOD as a tool name and PARAMS as its arguments")
	return cmd
}

// callParams turns the command arguments into a method and raw params.
func callParams(args []string, tool bool) (string, json.RawMessage, error) {
	var params json.RawMessage
	if len(args) == 2 {
		params = json.RawMessage(args[1])
		if !json.Valid(params) {
			return "", nil, fmt.Errorf("params are not valid JSON: %s", args[1])
		}
	}
	if !tool {
		return args[0], params, nil
	}
	wrapped, err := json.Marshal(struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}{args[0], params})
	if err != nil {
		return "", nil, err
	}
	return "tools/call", wrapped, nil
}

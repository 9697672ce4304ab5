package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"fetchmcp/internal/jsonrpc"
	"fetchmcp/internal/mcpserver"
	perr "fetchmcp/internal/platform/errors"
)

// runStdio speaks newline-delimited JSON-RPC over stdin/stdout. Unlike the
// HTTP transport, a stdio connection is inherently single-session, so there
// is no admission control or session header to negotiate: the process
// itself is the session.
func runStdio(ctx context.Context, srv *mcpserver.Server) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		respondStdio(ctx, srv, append([]byte(nil), line...))

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func respondStdio(ctx context.Context, srv *mcpserver.Server, line []byte) {
	msg, err := jsonrpc.Decode(line)
	if err != nil {
		writeStdioLine(jsonrpc.NewError(jsonrpc.ID{}, err))
		return
	}
	if msg.Classify() == jsonrpc.KindNotification {
		return
	}

	result, err := stdioDispatch(ctx, srv, msg)
	if err != nil {
		writeStdioLine(jsonrpc.NewError(msg.ID, err))
		return
	}
	resp, err := jsonrpc.NewResponse(msg.ID, result)
	if err != nil {
		writeStdioLine(jsonrpc.NewError(msg.ID, perr.Internalf("failed to encode response: %v", err)))
		return
	}
	writeStdioLine(resp)
}

// stdioDispatch handles the subset of methods meaningful over a
// single-session stdio pipe: there is no resources/list or tasks/wait
// without a session-scoped cache owner, so those ride the HTTP transport
// only.
func stdioDispatch(ctx context.Context, srv *mcpserver.Server, msg jsonrpc.Message) (any, error) {
	switch msg.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": srv.Config.DefaultProtocolVersion,
			"serverInfo":      map[string]string{"name": "fetchmcp", "version": version},
		}, nil
	case "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return nil, perr.Validationf("invalid tools/call params: %v", err)
		}
		return srv.CallTool(ctx, p.Name, p.Arguments)
	case "tasks/list":
		var p struct {
			Owner  string `json:"owner"`
			Cursor string `json:"cursor"`
			Limit  int    `json:"limit"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return nil, perr.Validationf("invalid tasks/list params: %v", err)
		}
		if p.Limit <= 0 {
			p.Limit = 50
		}
		tasks, nextCursor, err := srv.Tasks.ListTasks(p.Owner, p.Cursor, p.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tasks": tasks, "nextCursor": nextCursor}, nil
	case "tasks/get":
		var p struct {
			TaskID string `json:"taskId"`
			Owner  string `json:"owner"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return nil, perr.Validationf("invalid tasks/get params: %v", err)
		}
		return srv.Tasks.GetTask(p.TaskID, p.Owner)
	case "tasks/cancel":
		var p struct {
			TaskID string `json:"taskId"`
			Owner  string `json:"owner"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return nil, perr.Validationf("invalid tasks/cancel params: %v", err)
		}
		if err := srv.Tasks.CancelTask(p.TaskID, p.Owner); err != nil {
			return nil, err
		}
		return srv.Tasks.GetTask(p.TaskID, p.Owner)
	default:
		return nil, perr.Validationf("unknown method %q", msg.Method)
	}
}

func writeStdioLine(msg jsonrpc.Message) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stdout, string(encoded))
}

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fetchmcp/internal/jsonrpc"
	perr "fetchmcp/internal/platform/errors"
	"fetchmcp/internal/platform/logger"
	pnet "fetchmcp/internal/platform/net"
	"fetchmcp/internal/session"
)

const (
	sessionHeader         = "Mcp-Session-Id"
	protocolVersionHeader = "Mcp-Protocol-Version"
	maxBodyBytes          = 4 << 20
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func writeRPCMessage(w http.ResponseWriter, status int, msg jsonrpc.Message) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(msg)
}

func writeRPCErr(w http.ResponseWriter, id jsonrpc.ID, err error) {
	writeRPCMessage(w, perr.HTTPStatus(err), jsonrpc.NewError(id, err))
}

// negotiateAccept enforces the POST Accept requirement of §4.9/§6,
// coercing a bare "*/*" into the two required media types.
func negotiateAccept(header string) error {
	if header == "" || strings.Contains(header, "*/*") {
		return nil
	}
	if strings.Contains(header, "application/json") && strings.Contains(header, "text/event-stream") {
		return nil
	}
	return perr.Validationf("Accept header must include application/json and text/event-stream")
}

// handlePost implements §4.9's POST /mcp: Accept negotiation, body
// validation, session resolution (or creation for "initialize"), method
// dispatch, and JSON-RPC error shaping.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if err := negotiateAccept(r.Header.Get("Accept")); err != nil {
		writeRPCErr(w, jsonrpc.ID{}, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeRPCErr(w, jsonrpc.ID{}, perr.ParseErrorf("failed to read request body"))
		return
	}

	msg, err := jsonrpc.Decode(body)
	if err != nil {
		writeRPCErr(w, jsonrpc.ID{}, err)
		return
	}

	protoVersion, err := s.Sessions.NegotiateProtocolVersion(r.Header.Get(protocolVersionHeader))
	if err != nil {
		writeRPCErr(w, msg.ID, err)
		return
	}
	w.Header().Set(protocolVersionHeader, protoVersion)

	if msg.Method == "initialize" {
		s.handleInitialize(w, r, msg)
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		writeRPCErr(w, msg.ID, perr.SessionNotFoundf("missing %s header", sessionHeader))
		return
	}
	sess, ok := s.Sessions.Get(sessionID)
	if !ok {
		writeRPCErr(w, msg.ID, perr.SessionNotFoundf("unknown or expired session %q", sessionID))
		return
	}
	s.Sessions.Touch(sessionID)

	ctx := logger.WithRequest(pnet.WithSession(r.Context(), sessionID), pnet.RequestID(r.Context()), sessionID)

	if msg.Classify() == jsonrpc.KindNotification {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, err := s.dispatch(ctx, sess, msg)
	if err != nil {
		writeRPCErr(w, msg.ID, err)
		return
	}
	resp, err := jsonrpc.NewResponse(msg.ID, result)
	if err != nil {
		writeRPCErr(w, msg.ID, perr.Internalf("failed to encode response: %v", err))
		return
	}
	writeRPCMessage(w, http.StatusOK, resp)
}

// handleInitialize admits a new session: reserve a slot, spawn a transport,
// and commit it bound by the configured initialization timeout (§4.8).
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, msg jsonrpc.Message) {
	reservation, err := s.Sessions.Reserve()
	if err != nil {
		writeRPCErr(w, msg.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.Sessions.InitializationTimeout())
	defer cancel()

	transport := newStreamTransport()
	sess, err := s.Sessions.Initialize(ctx, reservation, transport, "")
	if err != nil {
		writeRPCErr(w, msg.ID, err)
		return
	}

	w.Header().Set(sessionHeader, sess.ID)
	result := map[string]any{
		"protocolVersion": s.Config.DefaultProtocolVersion,
		"sessionId":       sess.ID,
		"serverInfo":      map[string]string{"name": "fetchmcp", "version": "1.0"},
	}
	resp, err := jsonrpc.NewResponse(msg.ID, result)
	if err != nil {
		writeRPCErr(w, msg.ID, perr.Internalf("failed to encode initialize response: %v", err))
		return
	}
	writeRPCMessage(w, http.StatusOK, resp)
}

// handleGet implements the SSE stream of §4.8/§6: requires an existing
// session and Accept: text/event-stream.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "406 not acceptable: requires Accept: text/event-stream", http.StatusNotAcceptable)
		return
	}
	sessionID := r.Header.Get(sessionHeader)
	sess, ok := s.Sessions.Get(sessionID)
	if !ok {
		writeRPCErr(w, jsonrpc.ID{}, perr.SessionNotFoundf("unknown or expired session %q", sessionID))
		return
	}
	s.Sessions.Touch(sessionID)

	transport, ok := sess.Transport.(*streamTransport)
	if !ok {
		http.Error(w, "500 internal error: transport does not support streaming", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, canFlush := w.(http.Flusher)

	for {
		select {
		case ev, open := <-transport.Events():
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", ev)
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleDelete tears down a session's transport, per §6
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		writeRPCErr(w, jsonrpc.ID{}, perr.SessionNotFoundf("missing %s header", sessionHeader))
		return
	}
	if _, ok := s.Sessions.Remove(sessionID); !ok {
		writeRPCErr(w, jsonrpc.ID{}, perr.SessionNotFoundf("unknown or expired session %q", sessionID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dispatch routes a request-kind JSON-RPC message to the matching method
// handler once a session has been resolved
func (s *Server) dispatch(ctx context.Context, sess *session.Session, msg jsonrpc.Message) (any, error) {
	switch msg.Method {
	case "tools/call":
		return s.dispatchToolsCall(ctx, msg.Params)
	case "resources/list":
		return s.dispatchResourcesList(msg.Params)
	case "resources/read":
		return s.dispatchResourcesRead(msg.Params)
	case "tasks/wait":
		return s.dispatchTasksWait(ctx, msg.Params)
	case "tasks/list":
		return s.dispatchTasksList(msg.Params)
	case "tasks/get":
		return s.dispatchTasksGet(msg.Params)
	case "tasks/cancel":
		return s.dispatchTasksCancel(msg.Params)
	default:
		return nil, perr.Validationf("unknown method %q", msg.Method)
	}
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) dispatchToolsCall(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var p toolsCallParams
	if err := json.Unmarshal(rawParams, &p); err != nil {
		return nil, perr.Validationf("invalid tools/call params: %v", err)
	}
	return s.CallTool(ctx, p.Name, p.Arguments)
}

type tasksWaitParams struct {
	TaskID    string `json:"taskId"`
	Owner     string `json:"owner"`
	TimeoutMs int    `json:"timeoutMs"`
}

func (s *Server) dispatchTasksWait(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var p tasksWaitParams
	if err := json.Unmarshal(rawParams, &p); err != nil {
		return nil, perr.Validationf("invalid tasks/wait params: %v", err)
	}
	waitCtx := ctx
	if p.TimeoutMs > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(p.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	return s.Tasks.WaitForTerminalTask(waitCtx, p.TaskID, p.Owner)
}

type tasksListParams struct {
	Owner  string `json:"owner"`
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

func (s *Server) dispatchTasksList(rawParams json.RawMessage) (any, error) {
	var p tasksListParams
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &p); err != nil {
			return nil, perr.Validationf("invalid tasks/list params: %v", err)
		}
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	tasks, nextCursor, err := s.Tasks.ListTasks(p.Owner, p.Cursor, p.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": tasks, "nextCursor": nextCursor}, nil
}

type tasksGetParams struct {
	TaskID string `json:"taskId"`
	Owner  string `json:"owner"`
}

func (s *Server) dispatchTasksGet(rawParams json.RawMessage) (any, error) {
	var p tasksGetParams
	if err := json.Unmarshal(rawParams, &p); err != nil {
		return nil, perr.Validationf("invalid tasks/get params: %v", err)
	}
	return s.Tasks.GetTask(p.TaskID, p.Owner)
}

type tasksCancelParams struct {
	TaskID string `json:"taskId"`
	Owner  string `json:"owner"`
}

func (s *Server) dispatchTasksCancel(rawParams json.RawMessage) (any, error) {
	var p tasksCancelParams
	if err := json.Unmarshal(rawParams, &p); err != nil {
		return nil, perr.Validationf("invalid tasks/cancel params: %v", err)
	}
	if err := s.Tasks.CancelTask(p.TaskID, p.Owner); err != nil {
		return nil, err
	}
	return s.Tasks.GetTask(p.TaskID, p.Owner)
}

// ABOUTME: HTTP handler for the fake agent: answers message/send with scripted behaviour
// ABOUTME: Echo replies as artifacts, failed tasks for the first N calls, or RPC errors

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/2389/meeting-assistant/internal/a2a"
)

// Mode selects how the fake agent answers.
type Mode string

const (
	ModeEcho  Mode = "echo"  // artifact reply echoing the query as markdown
	ModeFail  Mode = "fail"  // failed task every time
	ModeError Mode = "error" // JSON-RPC error object
)

func (m Mode) valid() bool {
	return m == ModeEcho || m == ModeFail || m == ModeError
}

type agent struct {
	mode Mode
	// failFirst answers the first n calls with a failed task before echoing.
	failFirst int64
	delay     time.Duration
	logger    *slog.Logger

	calls atomic.Int64
}

func newRouter(a *agent) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Post("/", a.handleRPC)
	return r
}

func (a *agent) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req a2a.Envelope
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, a2a.Response{JSONRPC: "2.0", Error: &a2a.RPCError{Code: -32700, Message: "parse error"}})
		return
	}
	id, _ := json.Marshal(req.ID)

	if req.Method != a2a.MethodMessageSend {
		writeJSON(w, a2a.Response{JSONRPC: "2.0", ID: id, Error: &a2a.RPCError{Code: -32601, Message: "method not found: " + req.Method}})
		return
	}

	call := a.calls.Add(1)
	query := queryText(req.Params.Message)
	a.logger.Info("message/send", "call", call, "request_id", chiMiddleware.GetReqID(r.Context()), "query", query)

	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-r.Context().Done():
			return
		}
	}

	switch {
	case a.mode == ModeError:
		writeJSON(w, a2a.Response{JSONRPC: "2.0", ID: id, Error: &a2a.RPCError{Code: -32000, Message: "agent is misconfigured"}})
	case a.mode == ModeFail || call <= a.failFirst:
		writeJSON(w, a2a.Response{JSONRPC: "2.0", ID: id, Result: mustJSON(failedTask())})
	default:
		writeJSON(w, a2a.Response{JSONRPC: "2.0", ID: id, Result: mustJSON(echoTask(query))})
	}
}

func queryText(m a2a.Message) string {
	var parts []string
	for _, p := range m.Parts {
		if p.Kind == a2a.PartKindText {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func echoTask(query string) a2a.Result {
	return a2a.Result{
		Kind:   a2a.KindTask,
		Status: &a2a.TaskStatus{State: a2a.TaskStateCompleted},
		Artifacts: a2a.Artifacts{{
			ArtifactID: uuid.NewString(),
			Name:       "reply",
			Parts:      []a2a.Part{{Kind: a2a.PartKindText, Text: fmt.Sprintf("**Echo:** %s", query)}},
		}},
	}
}

func failedTask() a2a.Result {
	return a2a.Result{
		Kind:   a2a.KindTask,
		Status: &a2a.TaskStatus{State: a2a.TaskStateFailed},
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

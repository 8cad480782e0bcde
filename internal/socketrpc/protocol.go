package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Wire format: one JSON-RPC 2.0 object per line in each direction. The
// methods mirror model.ReadAPI.
//
//	method          params                         result
//	ListMetrics     none                           []string
//	MetricSnapshot  {name}                         MetricSnapshot
//	History         {name, window, limit}          []HistoryPoint
//
// An empty window selects every window and a non-positive limit means
// model.DefaultHistoryLimit. Unknown metrics and a server without history
// answer with codeAppError.
const (
	MethodListMetrics    = "ListMetrics"
	MethodMetricSnapshot = "MetricSnapshot"
	MethodHistory        = "History"
)

const jsonrpcVersion = "2.0"

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeAppError       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

type snapshotParams struct {
	Name string `json:"name"`
}

type historyParams struct {
	Name   string `json:"name"`
	Window string `json:"window,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// DefaultSocketPath is $XDG_RUNTIME_DIR/windstat/windstat.sock, or
// ~/.local/state/windstat/windstat.sock without a runtime dir.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "windstat", "windstat.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "windstat.sock")
	}
	return filepath.Join(home, ".local", "state", "windstat", "windstat.sock")
}

package logsource

import (
	"github.com/tinytelemetry/windstat/internal/model"
	"github.com/tinytelemetry/windstat/internal/tcpserver"
)

// TCPSource adapts a started tcpserver.Server to LineSource.
type TCPSource struct {
	server *tcpserver.Server
}

// NewTCPSource wraps server, which must already be started.
func NewTCPSource(server *tcpserver.Server) *TCPSource {
	return &TCPSource{server: server}
}

func (t *TCPSource) Lines() <-chan model.IngestEnvelope { return t.server.Lines() }
func (t *TCPSource) Stop()                              { _ = t.server.Stop() }
func (t *TCPSource) Name() string                       { return "tcp" }

// Addr is the bound listen address.
func (t *TCPSource) Addr() string { return t.server.Addr() }

// Stats reports the server's connection and line counters.
func (t *TCPSource) Stats() tcpserver.Stats { return t.server.Stats() }

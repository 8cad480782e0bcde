// Package logsource adapts line producers (TCP, stdin) to one interface.
package logsource

import "github.com/tinytelemetry/windstat/internal/model"

// LineSource is a unified interface for all line input sources.
type LineSource interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of lines
	Stop()                              // graceful shutdown
	Name() string                       // "tcp", "stdin"
}

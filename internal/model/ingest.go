package model

// IngestEnvelope carries one raw measurement line with source metadata.
// It is the transport contract between ingestion plugins and processing.
type IngestEnvelope struct {
	Source string
	Line   string
	// Closed marks the end of Source. Line is empty and no further lines
	// follow from that source.
	Closed bool
}

// Measurement is one parsed observation ready to be recorded.
type Measurement struct {
	Name  string
	Value int64
}

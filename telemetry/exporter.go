package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	cerrors "github.com/vinayprograms/agentcoord/errors"
)

// Record is one exported event.
type Record struct {
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Exporter is the interface for event exporters.
type Exporter interface {
	// Export queues or writes a record.
	Export(rec Record)
	// Flush sends any buffered data.
	Flush() error
	// Close flushes and releases resources.
	Close() error
}

// NewExporter creates an exporter by protocol: "file", "http", or "noop".
func NewExporter(protocol, endpoint string) (Exporter, error) {
	switch protocol {
	case "http":
		return NewHTTPExporter(endpoint), nil
	case "file":
		return NewFileExporter(endpoint)
	case "noop", "":
		return NewNoopExporter(), nil
	default:
		return nil, cerrors.InvalidInput(fmt.Sprintf("unknown telemetry protocol: %s", protocol))
	}
}

// --- HTTP Exporter ---

const httpBatchSize = 100

// HTTPExporter POSTs batches of records as a JSON array.
type HTTPExporter struct {
	endpoint string
	client   *http.Client

	mu     sync.Mutex
	buffer []Record
}

// NewHTTPExporter creates a new HTTP exporter.
func NewHTTPExporter(endpoint string) *HTTPExporter {
	return &HTTPExporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		buffer:   make([]Record, 0, httpBatchSize),
	}
}

// Export implements Exporter. A full batch is sent synchronously.
func (e *HTTPExporter) Export(rec Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, rec)
	if len(e.buffer) >= httpBatchSize {
		e.flush()
	}
}

// Flush implements Exporter.
func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flush()
}

func (e *HTTPExporter) flush() error {
	if len(e.buffer) == 0 {
		return nil
	}

	data, err := json.Marshal(e.buffer)
	if err != nil {
		return cerrors.Wrap(err, "encoding telemetry batch")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return cerrors.Wrap(err, "building telemetry request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return cerrors.Wrap(err, "sending telemetry batch")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return cerrors.New(cerrors.ErrCodeInternal, fmt.Sprintf("telemetry endpoint returned %d", resp.StatusCode))
	}

	e.buffer = e.buffer[:0]
	return nil
}

// Close implements Exporter.
func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// --- File Exporter ---

// FileExporter appends records to a file as JSON lines.
type FileExporter struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileExporter opens path for appending.
func NewFileExporter(path string) (*FileExporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to open telemetry file", cerrors.WithMetadata("path", path))
	}
	return &FileExporter{file: file}, nil
}

// Export implements Exporter.
func (e *FileExporter) Export(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Write(append(data, '\n'))
}

// Flush implements Exporter.
func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

// Close implements Exporter.
func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// --- Noop Exporter ---

// NoopExporter discards all records.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) Export(Record) {}
func (e *NoopExporter) Flush() error  { return nil }
func (e *NoopExporter) Close() error  { return nil }

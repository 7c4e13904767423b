package events

import (
	"encoding/json"

	"github.com/vinayprograms/agentcoord/bus"
	"github.com/vinayprograms/agentcoord/logging"
	"github.com/vinayprograms/agentcoord/telemetry"
)

// LogSink renders events through the logger's coordination helpers.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger.WithComponent("events")}
}

// Handle implements Sink.
func (s *LogSink) Handle(ev Event) {
	switch ev.Type {
	case AssignmentMade:
		s.logger.AssignmentMade(ev.TaskID, ev.AgentID, ev.Attempt)
	case TaskCompleted:
		s.logger.TaskCompleted(ev.TaskID, ev.AgentID, ev.Duration)
	case TaskFailed:
		s.logger.TaskFailed(ev.TaskID, ev.AgentID, ev.Attempt, ev.Err, ev.Retrying)
	case AgentOffline:
		s.logger.AgentOffline(ev.AgentID, ev.Reason, len(ev.TaskIDs))
	case CoordinationFatal:
		s.logger.CoordinationFatal(ev.AgentID, ev.TaskIDs, ev.Err)
	default:
		s.logger.Info(string(ev.Type), ev.Fields())
	}
}

// BusSink publishes events as JSON on bus.EventSubject(type).
type BusSink struct {
	bus    bus.MessageBus
	logger *logging.Logger
}

// NewBusSink creates a sink publishing to b. Publish failures are logged.
func NewBusSink(b bus.MessageBus, logger *logging.Logger) *BusSink {
	return &BusSink{bus: b, logger: logger.WithComponent("events")}
}

// Handle implements Sink.
func (s *BusSink) Handle(ev Event) {
	data, err := json.Marshal(ev)
	if err == nil {
		err = s.bus.Publish(bus.EventSubject(string(ev.Type)), data)
	}
	if err != nil {
		s.logger.Debug("event publish failed", map[string]interface{}{
			"type":  string(ev.Type),
			"error": err.Error(),
		})
	}
}

// ExporterSink forwards events to a telemetry exporter.
type ExporterSink struct {
	exporter telemetry.Exporter
}

// NewExporterSink creates a sink exporting through exp.
func NewExporterSink(exp telemetry.Exporter) *ExporterSink {
	return &ExporterSink{exporter: exp}
}

// Handle implements Sink.
func (s *ExporterSink) Handle(ev Event) {
	s.exporter.Export(telemetry.Record{
		Name:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Data:      ev.Fields(),
	})
}

package execshell

import (
	"bytes"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	streamFieldNameConstant     = "stream"
	outputFieldNameConstant     = "line"
	outputLineMessageConstant   = "command output"
	maximumPendingBytesConstant = 64 * 1024
)

// LogWriter forwards each complete line written to it as a log entry.
type LogWriter struct {
	mutex      sync.Mutex
	logger     *zap.Logger
	level      zapcore.Level
	streamName string
	pending    bytes.Buffer
}

// NewLogWriter creates a line-oriented sink for the named stream.
func NewLogWriter(logger *zap.Logger, level zapcore.Level, streamName string) *LogWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogWriter{logger: logger, level: level, streamName: streamName}
}

// NewStandardStreamWriters returns sinks for stdout (info) and stderr (warn).
func NewStandardStreamWriters(logger *zap.Logger) (*LogWriter, *LogWriter) {
	return NewLogWriter(logger, zapcore.InfoLevel, standardOutputStreamNameConstant),
		NewLogWriter(logger, zapcore.WarnLevel, standardErrorStreamNameConstant)
}

// Write buffers the payload and emits every complete line.
func (writer *LogWriter) Write(payload []byte) (int, error) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	writer.pending.Write(payload)
	for {
		line, readError := writer.pending.ReadString('\n')
		if readError != nil {
			writer.pending.Reset()
			writer.pending.WriteString(line)
			break
		}
		writer.emit(line)
	}
	if writer.pending.Len() > maximumPendingBytesConstant {
		writer.emit(writer.pending.String())
		writer.pending.Reset()
	}
	return len(payload), nil
}

// Flush emits any trailing partial line.
func (writer *LogWriter) Flush() {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	if writer.pending.Len() == 0 {
		return
	}
	writer.emit(writer.pending.String())
	writer.pending.Reset()
}

func (writer *LogWriter) emit(line string) {
	trimmed := strings.TrimRight(line, "\r\n")
	if len(strings.TrimSpace(trimmed)) == 0 {
		return
	}
	if checked := writer.logger.Check(writer.level, outputLineMessageConstant); checked != nil {
		checked.Write(
			zap.String(streamFieldNameConstant, writer.streamName),
			zap.String(outputFieldNameConstant, trimmed),
		)
	}
}

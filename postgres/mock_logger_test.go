package postgres_test

import (
	"fmt"
	"maps"
	"sync"

	"github.com/invdash/backend/logging"
)

type logSink struct {
	mu        sync.Mutex
	debugLogs []string
	infoLogs  []string
	warnLogs  []string
	errorLogs []string
}

// mockLogger implements logging.Logger for testing. Loggers derived through
// WithField share the parent's sink so assertions see every line.
type mockLogger struct {
	sink   *logSink
	fields map[string]any
}

func newMockLogger() *mockLogger {
	return &mockLogger{sink: &logSink{}, fields: map[string]any{}}
}

func (m *mockLogger) record(target *[]string, msg string) {
	m.sink.mu.Lock()
	defer m.sink.mu.Unlock()

	*target = append(*target, msg)
}

func (m *mockLogger) Debug(msg string) { m.record(&m.sink.debugLogs, msg) }

func (m *mockLogger) Debugf(format string, args ...any) {
	m.record(&m.sink.debugLogs, fmt.Sprintf(format, args...))
}

func (m *mockLogger) Info(msg string) { m.record(&m.sink.infoLogs, msg) }

func (m *mockLogger) Infof(format string, args ...any) {
	m.record(&m.sink.infoLogs, fmt.Sprintf(format, args...))
}

func (m *mockLogger) Warn(msg string) { m.record(&m.sink.warnLogs, msg) }

func (m *mockLogger) Warnf(format string, args ...any) {
	m.record(&m.sink.warnLogs, fmt.Sprintf(format, args...))
}

func (m *mockLogger) Error(msg string) { m.record(&m.sink.errorLogs, msg) }

func (m *mockLogger) Errorf(format string, args ...any) {
	m.record(&m.sink.errorLogs, fmt.Sprintf(format, args...))
}

func (m *mockLogger) Fatal(_ string) {}

func (m *mockLogger) Fatalf(_ string, _ ...any) {}

//nolint:ireturn // Must return interface to implement logging.Logger
func (m *mockLogger) WithField(key string, value any) logging.Logger {
	return m.WithFields(map[string]any{key: value})
}

//nolint:ireturn // Must return interface to implement logging.Logger
func (m *mockLogger) WithFields(fields map[string]any) logging.Logger {
	child := &mockLogger{sink: m.sink, fields: maps.Clone(m.fields)}
	maps.Copy(child.fields, fields)

	return child
}

func (m *mockLogger) errors() []string {
	m.sink.mu.Lock()
	defer m.sink.mu.Unlock()

	return append([]string(nil), m.sink.errorLogs...)
}

func (m *mockLogger) infos() []string {
	m.sink.mu.Lock()
	defer m.sink.mu.Unlock()

	return append([]string(nil), m.sink.infoLogs...)
}

func (m *mockLogger) warnings() []string {
	m.sink.mu.Lock()
	defer m.sink.mu.Unlock()

	return append([]string(nil), m.sink.warnLogs...)
}

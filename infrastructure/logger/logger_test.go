package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type captureWriter struct {
	bytes.Buffer
}

func (w *captureWriter) Close() error { return nil }

// Processes that never call InitLog (CLI tools, test binaries) still log at
// the default level. With no consumer on the backend's channel those writes
// must be dropped, not block forever.
func TestLoggerWithoutBackendDoesNotBlock(t *testing.T) {
	log := RegisterSubSystem("TSTA")

	done := make(chan struct{})
	go func() {
		log.Infof("written before any backend is running")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("TestLoggerWithoutBackendDoesNotBlock: Infof blocked with no running backend")
	}
}

func TestBackendDeliversToWriters(t *testing.T) {
	backend := NewBackend()
	writer := &captureWriter{}
	if err := backend.AddLogWriter(writer, LevelDebug); err != nil {
		t.Fatalf("TestBackendDeliversToWriters: AddLogWriter failed: %s", err)
	}
	if err := backend.Run(); err != nil {
		t.Fatalf("TestBackendDeliversToWriters: Run failed: %s", err)
	}

	log := backend.Logger("TSTB")
	log.Warnf("store is %d%% full", 93)
	backend.Close()

	output := writer.String()
	if !strings.Contains(output, "store is 93% full") || !strings.Contains(output, "TSTB") {
		t.Fatalf("TestBackendDeliversToWriters: unexpected output %q", output)
	}
}

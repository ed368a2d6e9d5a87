package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	// Debug should be filtered
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	// Info should pass
	logger.Info("info message")
	if buf.Len() == 0 {
		t.Error("info message should be logged")
	}

	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("directory")
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "[directory]") {
		t.Errorf("expected component 'directory' in log, got: %s", output)
	}
}

func TestLogger_WithNodeID(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithNodeID("node-1")
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "node=node-1") {
		t.Errorf("expected node field in log, got: %s", output)
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("agent seen", map[string]interface{}{
		"agent_id": "agent-1",
	})

	output := buf.String()
	if !strings.Contains(output, "agent_id=agent-1") {
		t.Errorf("expected field 'agent_id=agent-1' in log, got: %s", output)
	}
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("test")
	logger.SetOutput(&buf)

	logger.Info("hello world", map[string]interface{}{"key": "value"})

	output := buf.String()
	// Format: LEVEL TIMESTAMP [component] message key=value
	if !strings.HasPrefix(output, "INFO ") {
		t.Errorf("expected line to start with 'INFO ', got: %s", output)
	}
	if !strings.Contains(output, "[test]") {
		t.Errorf("expected component [test], got: %s", output)
	}
	if !strings.Contains(output, "hello world") {
		t.Errorf("expected message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected key=value, got: %s", output)
	}
}

func TestLogger_Helpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.AgentRegistered("agent-1", 2)
	logger.AgentOffline("agent-2", 5*time.Minute)
	logger.TrustChange("agent-1", 0.5, 0.55, "success")
	logger.AdmissionRejected("agent-3", "qps")

	output := buf.String()
	if !strings.Contains(output, "agent_registered") {
		t.Error("expected agent_registered log")
	}
	if !strings.Contains(output, "silent_for=5m0s") {
		t.Errorf("expected silent_for duration, got: %s", output)
	}
	if !strings.Contains(output, "new=0.550") {
		t.Errorf("expected formatted trust score, got: %s", output)
	}
	if !strings.Contains(output, "limit_type=qps") {
		t.Errorf("expected limit_type field, got: %s", output)
	}
}

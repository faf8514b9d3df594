package logging

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
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
	logger := New().WithComponent("retrieval")
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "[retrieval]") {
		t.Errorf("expected component 'retrieval' in log, got: %s", output)
	}
}

func TestLogger_WithSession(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithSession("sess-42")
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "session=sess-42") {
		t.Errorf("expected session id in log, got: %s", output)
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("msg", map[string]interface{}{"bot": "sales"})

	output := buf.String()
	if !strings.Contains(output, "bot=sales") {
		t.Errorf("expected field in log, got: %s", output)
	}
}

func TestLogger_TurnHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.TransitionFired("sales", "greeting", "product_interest")
	logger.SourceDegraded("keyword", fmt.Errorf("timeout"))
	logger.RuleSkipped("sales", "greeting", "empty conditions")

	output := buf.String()
	for _, want := range []string{"transition", "from=greeting", "to=product_interest",
		"source_degraded", "source=keyword", "rule_skipped"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

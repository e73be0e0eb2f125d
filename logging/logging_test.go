package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"pkt.systems/pslog"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	return Wrap(pslog.NewWithOptions(buf, pslog.Options{
		Mode:             pslog.ModeStructured,
		DisableTimestamp: true,
		NoColor:          true,
	}))
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf).WithComponent("monitor")

	logger.Info("armed")

	output := buf.String()
	if !strings.Contains(output, `"component":"monitor"`) {
		t.Errorf("expected component field, got: %s", output)
	}
	if !strings.Contains(output, "armed") {
		t.Errorf("expected message, got: %s", output)
	}
	if logger.Component() != "monitor" {
		t.Errorf("Component() = %q, want monitor", logger.Component())
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Warn("heartbeat", map[string]interface{}{
		"endpoint": "users/heartbeat",
		"attempt":  3,
	})

	output := buf.String()
	if !strings.Contains(output, `"endpoint":"users/heartbeat"`) {
		t.Errorf("expected endpoint field, got: %s", output)
	}
	if !strings.Contains(output, `"attempt":3`) {
		t.Errorf("expected attempt field, got: %s", output)
	}
}

func TestLogger_EventHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.SessionExpired("admin", 30*time.Minute)
	logger.PolicyChanged(30, 45)
	logger.HeartbeatFailed(errors.New("connection refused"))
	logger.OfflineMarked("deadline", nil)
	logger.OfflineMarked("teardown", errors.New("gone"))

	output := buf.String()
	for _, want := range []string{
		"session_expired", `"idle":"30m0s"`,
		"policy_changed", `"new_minutes":45`,
		"heartbeat_failed", "connection refused",
		"offline_marked", `"trigger":"deadline"`,
		"offline_mark_failed",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestFlatten_SortsKeys(t *testing.T) {
	kv := flatten([]map[string]interface{}{{"b": 2, "a": 1}})
	if len(kv) != 4 || kv[0] != "a" || kv[2] != "b" {
		t.Errorf("flatten() = %v, want sorted pairs", kv)
	}
	if flatten(nil) != nil {
		t.Error("flatten(nil) should be nil")
	}
}

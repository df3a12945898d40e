package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

// collectRecords parses every JSONL record written to buf.
func collectRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			t.Fatalf("parse record: %v", err)
		}
		out = append(out, record)
	}
	return out
}

func TestAggregatorCountsEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	agg := NewAggregator(logger, 30)
	for i := 0; i < 5; i++ {
		agg.Record(CompRelay, "poll_no_change")
	}
	agg.Record(CompHub, "ws_frame", slog.String("dir", "out"))
	agg.flush()

	records := collectRecords(t, &buf)
	if len(records) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(records))
	}

	counts := map[string]float64{}
	for _, r := range records {
		counts[r["event"].(string)] = r["count"].(float64)
	}
	if counts["poll_no_change"] != 5 {
		t.Errorf("expected poll_no_change count 5, got %v", counts["poll_no_change"])
	}
	if counts["ws_frame"] != 1 {
		t.Errorf("expected ws_frame count 1, got %v", counts["ws_frame"])
	}
}

func TestAggregatorFlushResetsCounts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	agg := NewAggregator(logger, 30)
	agg.Record(CompRelay, "poll_no_change")
	agg.flush()
	buf.Reset()

	// Nothing recorded since the last flush: no output.
	agg.flush()
	if buf.Len() != 0 {
		t.Errorf("expected empty flush, got %q", buf.String())
	}
}

func TestAggregatorNilLoggerDropsEvents(t *testing.T) {
	agg := NewAggregator(nil, 30)
	agg.Record(CompRelay, "poll_no_change")
	agg.flush() // must not panic
}

func TestAggregatorStartStop(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	agg := NewAggregator(logger, 30)
	agg.Start()
	agg.Record(CompStore, "store_read")
	agg.Stop()

	records := collectRecords(t, &buf)
	if len(records) != 1 {
		t.Fatalf("expected final flush on Stop, got %d records", len(records))
	}
	if records[0]["event"] != "store_read" {
		t.Errorf("unexpected event: %v", records[0]["event"])
	}
}

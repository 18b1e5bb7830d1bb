package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTeeLoggerWritesConsoleAndRunLog(t *testing.T) {
	var console, runLog bytes.Buffer
	lvl := new(slog.LevelVar)
	base := slog.New(newPrettyHandler(&console, lvl, false))
	logger := TeeLogger(base, newJSONHandler(&runLog, lvl, false)).With(String(FieldSubject, "sub-01"))

	logger.Info("stage completed", String(FieldStage, "fast"))

	if !strings.Contains(console.String(), "[sub-01/fast] stage completed") {
		t.Fatalf("console output missing record: %q", console.String())
	}
	for _, want := range []string{`"stage":"fast"`, `"subject":"sub-01"`} {
		if !strings.Contains(runLog.String(), want) {
			t.Fatalf("run log missing %s: %q", want, runLog.String())
		}
	}
}

func TestTeeSkipsSinksBelowTheirLevel(t *testing.T) {
	var quiet, loud bytes.Buffer
	quietLvl := new(slog.LevelVar)
	quietLvl.Set(slog.LevelWarn)
	loudLvl := new(slog.LevelVar)
	loudLvl.Set(slog.LevelDebug)

	logger := slog.New(tee(newPrettyHandler(&quiet, quietLvl, false), newPrettyHandler(&loud, loudLvl, false)))
	logger.Debug("voxel counts")

	if quiet.Len() != 0 {
		t.Fatalf("expected warn sink to drop debug, got %q", quiet.String())
	}
	if !strings.Contains(loud.String(), "voxel counts") {
		t.Fatalf("expected debug sink to emit, got %q", loud.String())
	}
}

func TestTeeCollapsesSinks(t *testing.T) {
	if _, ok := tee(nil, NoopHandler{}).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when no sinks remain")
	}
	var buf bytes.Buffer
	single := newJSONHandler(&buf, new(slog.LevelVar), false)
	if got := tee(nil, single); got != single {
		t.Fatalf("expected lone sink returned as is, got %T", got)
	}
	nested := tee(tee(single, single), single)
	if sinks, ok := nested.(teeHandler); !ok || len(sinks) != 3 {
		t.Fatalf("expected nested tees flattened to three sinks, got %#v", nested)
	}
}

type failingHandler struct{ NoopHandler }

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestTeeKeepsWritingAfterSinkFailure(t *testing.T) {
	var buf bytes.Buffer
	handler := tee(failingHandler{}, newJSONHandler(&buf, new(slog.LevelVar), false))
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "roi aggregation completed", 0)
	if err := handler.Handle(context.Background(), record); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected sink error reported, got %v", err)
	}
	if !strings.Contains(buf.String(), "roi aggregation completed") {
		t.Fatalf("expected second sink to receive record, got %q", buf.String())
	}
}

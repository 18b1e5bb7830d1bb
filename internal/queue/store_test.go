package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"radt1cal/internal/queue"
	"radt1cal/internal/testsupport"
)

func beginRun(t *testing.T, store *queue.Store, id, subject string) *queue.Run {
	t.Helper()
	run, err := store.BeginRun(context.Background(), queue.Run{
		ID:       id,
		Subject:  subject,
		ScanPath: filepath.Join("/data", subject, "anat", subject+"_T1w.nii.gz"),
		Pipeline: "RadT1cal_Features",
		TestMode: true,
	})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	return run
}

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if store.Path() != cfg.LedgerPath() {
		t.Fatalf("store path = %q, want %q", store.Path(), cfg.LedgerPath())
	}

	run := beginRun(t, store, "run-1", "sub-01")
	if run.Status != queue.StatusRunning || !run.TestMode || run.StartedAt.IsZero() {
		t.Fatalf("unexpected run %+v", run)
	}

	store.Close()
	reopened, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetRun(context.Background(), "run-1")
	if err != nil || got == nil {
		t.Fatalf("GetRun after reopen: run=%v err=%v", got, err)
	}
}

func TestBeginRunValidates(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if _, err := store.BeginRun(context.Background(), queue.Run{Subject: "sub-01"}); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, err := store.BeginRun(context.Background(), queue.Run{ID: "x"}); err == nil {
		t.Fatal("expected error for missing subject")
	}
}

func TestRecordStageUpserts(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	beginRun(t, store, "run-1", "sub-01")

	started := time.Now().UTC()
	if err := store.RecordStage(ctx, queue.StageRecord{RunID: "run-1", Stage: "registration", Position: 3, State: "running", StartedAt: &started}); err != nil {
		t.Fatalf("record running: %v", err)
	}
	finished := started.Add(2 * time.Second)
	if err := store.RecordStage(ctx, queue.StageRecord{
		RunID: "run-1", Stage: "registration", Position: 3, State: "failed",
		FinishedAt: &finished, Duration: 2 * time.Second, ErrorMessage: "antsRegistration exited with status 1",
	}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordStage(ctx, queue.StageRecord{RunID: "run-1", Stage: "reorient", Position: 0, State: "completed", Reused: true}); err != nil {
		t.Fatalf("record reorient: %v", err)
	}

	stages, err := store.Stages(ctx, "run-1")
	if err != nil {
		t.Fatalf("Stages: %v", err)
	}
	if len(stages) != 2 || stages[0].Stage != "reorient" || stages[1].Stage != "registration" {
		t.Fatalf("unexpected stage order %+v", stages)
	}
	reg := stages[1]
	if reg.State != "failed" || reg.Duration != 2*time.Second || reg.ErrorMessage == "" {
		t.Fatalf("unexpected registration record %+v", reg)
	}
	if reg.StartedAt == nil {
		t.Fatal("start time lost on update")
	}
	if !stages[0].Reused {
		t.Fatal("reused flag not persisted")
	}
}

func TestFinishRunAndList(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	beginRun(t, store, "aaaa-1", "sub-01")
	time.Sleep(2 * time.Millisecond)
	beginRun(t, store, "bbbb-2", "sub-02")

	if err := store.FinishRun(ctx, "aaaa-1", queue.StatusFailed, "registration timed out"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := store.FinishRun(ctx, "aaaa-1", queue.StatusRunning, ""); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
	if err := store.FinishRun(ctx, "missing", queue.StatusCompleted, ""); err == nil {
		t.Fatal("expected error for unknown run")
	}

	all, err := store.ListRuns(ctx, queue.ListOptions{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 2 || all[0].ID != "bbbb-2" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	failed, err := store.ListRuns(ctx, queue.ListOptions{Statuses: []queue.Status{queue.StatusFailed}})
	if err != nil || len(failed) != 1 || failed[0].ErrorMessage != "registration timed out" || failed[0].FinishedAt == nil {
		t.Fatalf("failed runs = %+v err=%v", failed, err)
	}
	bySubject, err := store.ListRuns(ctx, queue.ListOptions{Subject: "sub-02", Limit: 5})
	if err != nil || len(bySubject) != 1 {
		t.Fatalf("subject filter = %+v err=%v", bySubject, err)
	}

	found, err := store.FindRun(ctx, "aaaa")
	if err != nil || found == nil || found.ID != "aaaa-1" {
		t.Fatalf("FindRun = %+v err=%v", found, err)
	}
	beginRun(t, store, "aaaa-3", "sub-03")
	if _, err := store.FindRun(ctx, "aaaa"); err == nil {
		t.Fatal("expected ambiguity error")
	}
}

func TestMarkInterruptedAndSummary(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	beginRun(t, store, "run-1", "sub-01")
	beginRun(t, store, "run-2", "sub-02")
	if err := store.RecordStage(ctx, queue.StageRecord{RunID: "run-1", Stage: "registration", Position: 3, State: "running"}); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishRun(ctx, "run-2", queue.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}

	changed, err := store.MarkInterrupted(ctx)
	if err != nil || changed != 1 {
		t.Fatalf("MarkInterrupted = %d, %v", changed, err)
	}
	stages, err := store.Stages(ctx, "run-1")
	if err != nil || len(stages) != 1 || stages[0].State != "interrupted" {
		t.Fatalf("stages = %+v err=%v", stages, err)
	}

	summary, err := store.Summarize(ctx)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Total != 2 || summary.Interrupted != 1 || summary.Completed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	pruned, err := store.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil || pruned != 2 {
		t.Fatalf("Prune = %d, %v", pruned, err)
	}
	if stages, _ := store.Stages(ctx, "run-1"); len(stages) != 0 {
		t.Fatalf("stages not cascaded: %+v", stages)
	}
}

func TestSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", cfg.LedgerPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := queue.Open(cfg); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestUnversionedLedgerIsRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("CREATE TABLE runs (id TEXT PRIMARY KEY)"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := queue.OpenPath(path); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch for unversioned ledger, got %v", err)
	}
}

func TestReopenKeepsLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	for i := 0; i < 2; i++ {
		store, err := queue.OpenPath(path)
		if err != nil {
			t.Fatalf("OpenPath #%d: %v", i+1, err)
		}
		store.Close()
	}
}

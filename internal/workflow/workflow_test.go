package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"radt1cal/internal/config"
	"radt1cal/internal/layout"
	"radt1cal/internal/pipeline"
	"radt1cal/internal/queue"
	"radt1cal/internal/roi"
	"radt1cal/internal/services"
	"radt1cal/internal/testsupport"
	"radt1cal/internal/tools"
	"radt1cal/internal/workflow"
)

var expectedOrder = []string{
	workflow.StageReorient,
	workflow.StageBrainExtraction,
	workflow.StageBiasCorrection,
	workflow.StageRegistration,
	workflow.StageLabelWarp,
	workflow.StageAggregate,
}

// writeDataset creates <base>/bids/<subject>/anat/<subject>_T1w.nii.gz for
// each subject and returns the parent directory.
func writeDataset(t *testing.T, cfg *config.Config, subjects ...string) string {
	t.Helper()
	parent := filepath.Join(testsupport.BaseDir(cfg), "bids")
	for _, subject := range subjects {
		path := filepath.Join(parent, subject, layout.AnatDir, subject+"_T1w.nii.gz")
		testsupport.WriteIntensity(t, path, 100)
	}
	return parent
}

func TestBuildGraphOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	g, err := workflow.BuildGraph(workflow.NewToolset(cfg, nil, nil), workflow.Inputs{
		Scan:     "/data/sub-01_T1w.nii.gz",
		Template: cfg.Paths.Template,
		Atlas:    cfg.Paths.Atlas,
	})
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	order, err := g.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !slices.Equal(order, expectedOrder) {
		t.Fatalf("order = %v, want %v", order, expectedOrder)
	}
	if deps := g.Dependencies(workflow.StageAggregate); !slices.Equal(deps, []string{workflow.StageBiasCorrection, workflow.StageLabelWarp}) {
		t.Fatalf("aggregate deps = %v", deps)
	}
}

func TestBuildGraphWithoutFeatures(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFeatures(false))
	ts := workflow.NewToolset(cfg, nil, nil)
	if ts.Aggregate.Extractor != nil {
		t.Fatal("extractor should be nil when features are disabled")
	}
	g, err := workflow.BuildGraph(ts, workflow.Inputs{Scan: "scan.nii.gz", Template: "t.nii.gz", Atlas: "a.nii.gz"})
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	s, ok := g.Stage(workflow.StageAggregate)
	if !ok {
		t.Fatal("aggregate stage missing")
	}
	for _, port := range s.Outputs {
		if port.Name == tools.PortFeatures {
			t.Fatal("feature table declared without an extractor")
		}
	}
}

func TestBuildGraphRequiresReferenceImages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := workflow.BuildGraph(workflow.NewToolset(cfg, nil, nil), workflow.Inputs{Scan: "scan.nii.gz", Atlas: "a.nii.gz"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestToolEnvironment(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Registration.Threads = 4
	env := workflow.ToolEnvironment(cfg)
	for _, want := range []string{"FSLOUTPUTTYPE=NIFTI_GZ", "ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS=4"} {
		if !slices.Contains(env, want) {
			t.Fatalf("env %v missing %s", env, want)
		}
	}
}

func TestRunSubjectPublishesDerivatives(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithReferenceImages(), testsupport.WithStubbedBinaries())
	store := testsupport.MustOpenStore(t, cfg)
	parent := writeDataset(t, cfg, "sub-01")

	runner := workflow.NewRunner(cfg, workflow.WithStore(store))
	result, err := runner.RunSubject(context.Background(), workflow.SubjectRequest{ParentDir: parent, Subject: "sub-01"})
	if err != nil {
		t.Fatalf("RunSubject: %v", err)
	}
	if len(result.Scans) != 1 {
		t.Fatalf("scans = %d, want 1", len(result.Scans))
	}
	scan := result.Scans[0]
	for _, name := range expectedOrder {
		report, _ := scan.Report.Stage(name)
		if report.State != pipeline.StateCompleted {
			t.Fatalf("%s state = %s", name, report.State)
		}
	}

	router := layout.NewRouter(result.OutputRoot, cfg.Workflow.PipelineName)
	key := scan.Scan.Key()
	for _, name := range []string{"reoriented", "brain", "brain_mask", "restored", "warpedTemplate", "warpedAtlas"} {
		path := router.Path(key, name, "x.nii.gz")
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	volumes := scan.Published[roi.VolumeSuffix]
	if volumes != router.Path(key, roi.VolumeSuffix, "x.csv") || filepath.Base(volumes) != "sub-01_T1w_volumes.csv" {
		t.Fatalf("volume table routed to %s", volumes)
	}
	rows, err := roi.ReadVolumeTable(volumes)
	if err != nil {
		t.Fatalf("ReadVolumeTable: %v", err)
	}
	if len(rows) != len(testsupport.FixtureVolumes) {
		t.Fatalf("rows = %+v", rows)
	}
	for _, row := range rows {
		if want := testsupport.FixtureVolumes[row.Region]; row.Volume != want {
			t.Errorf("region %d volume = %v, want %v", row.Region, row.Volume, want)
		}
	}
	for _, name := range []string{roi.FeatureSuffix, roi.FailureSuffix} {
		if _, ok := scan.Published[name]; !ok {
			t.Fatalf("%s not published: %v", name, scan.Published)
		}
	}

	run, err := store.GetRun(context.Background(), scan.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v %v", run, err)
	}
	if run.Status != queue.StatusCompleted || !run.TestMode {
		t.Fatalf("run = %+v", run)
	}
	stages, err := store.Stages(context.Background(), scan.RunID)
	if err != nil {
		t.Fatalf("Stages: %v", err)
	}
	if len(stages) != len(expectedOrder) {
		t.Fatalf("stages = %+v", stages)
	}
	for i, record := range stages {
		if record.Stage != expectedOrder[i] || record.State != pipeline.StateCompleted.String() {
			t.Fatalf("stage %d = %+v", i, record)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.WorkDir, "sub-01", "sub-01_T1w")); !os.IsNotExist(err) {
		t.Fatalf("work directory should be removed after success: %v", err)
	}
}

func TestRunSubjectFailureSkipsDependents(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithReferenceImages(),
		testsupport.WithStubbedBinaries(),
		testsupport.WithFailingBinary(config.Default().Tools.Registration),
	)
	store := testsupport.MustOpenStore(t, cfg)
	parent := writeDataset(t, cfg, "sub-01")

	runner := workflow.NewRunner(cfg, workflow.WithStore(store))
	result, err := runner.RunSubject(context.Background(), workflow.SubjectRequest{ParentDir: parent, Subject: "sub-01"})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	scan := result.Scans[0]
	want := map[string]pipeline.State{
		workflow.StageBiasCorrection: pipeline.StateCompleted,
		workflow.StageRegistration:   pipeline.StateFailed,
		workflow.StageLabelWarp:      pipeline.StateSkipped,
		workflow.StageAggregate:      pipeline.StateSkipped,
	}
	for name, state := range want {
		if report, _ := scan.Report.Stage(name); report.State != state {
			t.Fatalf("%s state = %s, want %s", name, report.State, state)
		}
	}
	if _, ok := scan.Published["restored"]; !ok {
		t.Fatalf("completed outputs of a failed run should be published: %v", scan.Published)
	}
	if _, ok := scan.Published[roi.VolumeSuffix]; ok {
		t.Fatal("volume table published for a failed run")
	}

	run, err := store.GetRun(context.Background(), scan.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v %v", run, err)
	}
	if run.Status != queue.StatusFailed || run.ErrorMessage == "" {
		t.Fatalf("run = %+v", run)
	}
	stages, err := store.Stages(context.Background(), scan.RunID)
	if err != nil {
		t.Fatalf("Stages: %v", err)
	}
	for _, record := range stages {
		if record.Stage == workflow.StageLabelWarp && record.ErrorMessage != "blocked by "+workflow.StageRegistration {
			t.Fatalf("label warp record = %+v", record)
		}
	}
}

func TestRunSubjectReusesCompletedStages(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithReferenceImages(), testsupport.WithStubbedBinaries())
	cfg.Workflow.KeepIntermediates = true
	parent := writeDataset(t, cfg, "sub-01")
	runner := workflow.NewRunner(cfg)

	if _, err := runner.RunSubject(context.Background(), workflow.SubjectRequest{ParentDir: parent, Subject: "sub-01"}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	result, err := runner.RunSubject(context.Background(), workflow.SubjectRequest{ParentDir: parent, Subject: "sub-01"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, name := range expectedOrder {
		report, _ := result.Scans[0].Report.Stage(name)
		if !report.Reused {
			t.Fatalf("%s was not reused", name)
		}
	}
}

func TestRunSubjectWithoutScan(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithReferenceImages(), testsupport.WithStubbedBinaries())
	parent := writeDataset(t, cfg, "sub-01")
	if err := os.MkdirAll(filepath.Join(parent, "sub-02", layout.AnatDir), 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := workflow.NewRunner(cfg).RunSubject(context.Background(), workflow.SubjectRequest{ParentDir: parent, Subject: "sub-02"})
	if !errors.Is(err, services.ErrNoInput) {
		t.Fatalf("expected no input error, got %v", err)
	}
}

func TestRunSubjectPreflightRejectsMissingTools(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithReferenceImages())
	cfg.Tools.Registration = "radt1cal-missing-antsRegistration"
	parent := writeDataset(t, cfg, "sub-01")
	_, err := workflow.NewRunner(cfg).RunSubject(context.Background(), workflow.SubjectRequest{ParentDir: parent, Subject: "sub-01"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, statErr := os.Stat(cfg.Paths.WorkDir); statErr == nil {
		entries, _ := os.ReadDir(cfg.Paths.WorkDir)
		if len(entries) > 0 {
			t.Fatalf("work directory populated despite preflight failure: %v", entries)
		}
	}
}

func TestRunBatchContinuesPastFailedSubject(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithReferenceImages(), testsupport.WithStubbedBinaries())
	cfg.Workflow.SubjectWorkers = 2
	parent := writeDataset(t, cfg, "sub-01", "sub-03")
	if err := os.MkdirAll(filepath.Join(parent, "sub-02", layout.AnatDir), 0o755); err != nil {
		t.Fatal(err)
	}
	store := testsupport.MustOpenStore(t, cfg)

	result, err := workflow.NewRunner(cfg, workflow.WithStore(store)).RunBatch(context.Background(), workflow.BatchRequest{ParentDir: parent})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(result.Subjects) != 3 {
		t.Fatalf("subjects = %d", len(result.Subjects))
	}
	failed := result.Failed()
	if len(failed) != 1 || failed[0].Subject != "sub-02" || !errors.Is(failed[0].Err, services.ErrNoInput) {
		t.Fatalf("failed = %+v", failed)
	}
	if result.Err() == nil {
		t.Fatal("batch error should summarize the failed subject")
	}
	summary, err := store.Summarize(context.Background())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Completed != 2 {
		t.Fatalf("summary = %+v", summary)
	}
}

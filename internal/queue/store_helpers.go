package queue

import (
	"database/sql"
	"errors"
	"time"
)

const runColumns = "id, subject, session, scan_path, pipeline, output_dir, test_mode, status, error_message, started_at, finished_at"

const stageColumns = "run_id, stage, position, state, reused, work_dir, started_at, finished_at, duration_ms, error_message"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run          Run
		session      sql.NullString
		outputDir    sql.NullString
		testMode     int64
		status       string
		errorMessage sql.NullString
		startedRaw   string
		finishedRaw  sql.NullString
	)
	if err := row.Scan(
		&run.ID,
		&run.Subject,
		&session,
		&run.ScanPath,
		&run.Pipeline,
		&outputDir,
		&testMode,
		&status,
		&errorMessage,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	run.Session = session.String
	run.OutputDir = outputDir.String
	run.TestMode = testMode != 0
	run.Status = Status(status)
	run.ErrorMessage = errorMessage.String
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	run.FinishedAt = parseNullableTime(finishedRaw)
	return &run, nil
}

func scanStage(row scanner) (StageRecord, error) {
	var (
		record       StageRecord
		reused       int64
		workDir      sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		durationMs   int64
		errorMessage sql.NullString
	)
	if err := row.Scan(
		&record.RunID,
		&record.Stage,
		&record.Position,
		&record.State,
		&reused,
		&workDir,
		&startedRaw,
		&finishedRaw,
		&durationMs,
		&errorMessage,
	); err != nil {
		return StageRecord{}, err
	}
	record.Reused = reused != 0
	record.WorkDir = workDir.String
	record.StartedAt = parseNullableTime(startedRaw)
	record.FinishedAt = parseNullableTime(finishedRaw)
	record.Duration = time.Duration(durationMs) * time.Millisecond
	record.ErrorMessage = errorMessage.String
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

package main

import (
	"strings"
	"testing"
)

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]column{numCol("ROI"), textCol("State"), textCol("Error")}, [][]string{{"17", "failed"}}, "")
	lines := strings.Split(out, "\n")
	var body string
	for _, line := range lines {
		if strings.Contains(line, "17") {
			body = line
		}
	}
	if body == "" || !strings.Contains(body, "failed") || !strings.Contains(body, "-") {
		t.Fatalf("expected padded row, got:\n%s", out)
	}
}

func TestRenderTableCaptionsEmptyTables(t *testing.T) {
	out := renderTable([]column{numCol("ROI"), numCol("Volume (mm3)")}, nil, "atlas has no labelled regions")
	if !strings.Contains(out, "atlas has no labelled regions") {
		t.Fatalf("expected caption on empty table, got:\n%s", out)
	}
	if renderTable(nil, [][]string{{"x"}}, "") != "" {
		t.Fatal("expected no output without columns")
	}
}

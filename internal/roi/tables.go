package roi

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"radt1cal/internal/volume"
)

// Table suffixes appended to the atlas base name.
const (
	VolumeSuffix  = "volumes"
	FeatureSuffix = "radiomicsFeatures"
	FailureSuffix = "failedRegions"
)

// VolumeRow is one line of the volume table.
type VolumeRow struct {
	Region int     `csv:"ROI"`
	Volume float64 `csv:"Volume_mm3"`
}

// VolumeRows returns the volume table rows in region order.
func (r *Result) VolumeRows() []VolumeRow {
	rows := make([]VolumeRow, 0, len(r.Regions))
	for _, region := range r.Regions {
		rows = append(rows, VolumeRow{Region: region.Region, Volume: region.Volume})
	}
	return rows
}

// WriteVolumeTable encodes rows as CSV with a header.
func WriteVolumeTable(w io.Writer, rows []VolumeRow) error {
	return gocsv.Marshal(rows, w)
}

// WriteFailureTable encodes failures as CSV with a header.
func WriteFailureTable(w io.Writer, failures []RegionFailure) error {
	if failures == nil {
		failures = []RegionFailure{}
	}
	return gocsv.Marshal(failures, w)
}

// WriteFeatureTable encodes a ROI column followed by names, one row per
// region. Values a region did not report are left empty.
func WriteFeatureTable(w io.Writer, names []string, regions []RegionResult) error {
	writer := gocsv.DefaultCSVWriter(w)
	header := append([]string{"ROI"}, names...)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, region := range regions {
		record := make([]string, 0, len(header))
		record = append(record, strconv.Itoa(region.Region))
		for _, name := range names {
			value, ok := region.Features[name]
			if !ok {
				record = append(record, "")
				continue
			}
			record = append(record, strconv.FormatFloat(value, 'f', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ResolveTablePath places <atlasBase>_<suffix>.csv in the directory named by
// out. An empty out means the working directory; a file path (existing, or
// ending in .csv) contributes its parent directory.
func ResolveTablePath(out, atlasPath, suffix string) (string, error) {
	dir := strings.TrimSpace(out)
	switch {
	case dir == "":
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		dir = cwd
	default:
		info, err := os.Stat(dir)
		switch {
		case err == nil && !info.IsDir():
			dir = filepath.Dir(dir)
		case err != nil && strings.EqualFold(filepath.Ext(dir), ".csv"):
			dir = filepath.Dir(dir)
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.csv", volume.BaseName(atlasPath), suffix)), nil
}

// TablePaths lists the files written by WriteTables.
type TablePaths struct {
	Volumes  string
	Features string
	Failures string
}

// WriteTables persists the volume table, the feature table (when features
// were extracted) and the failure report under out. The failure report is
// header-only when every region succeeded.
func (r *Result) WriteTables(out string) (TablePaths, error) {
	var paths TablePaths
	var err error

	if paths.Volumes, err = r.writeTable(out, VolumeSuffix, func(w io.Writer) error {
		return WriteVolumeTable(w, r.VolumeRows())
	}); err != nil {
		return TablePaths{}, err
	}
	if r.FeaturesEnabled {
		if paths.Features, err = r.writeTable(out, FeatureSuffix, func(w io.Writer) error {
			return WriteFeatureTable(w, r.FeatureNames, r.Regions)
		}); err != nil {
			return TablePaths{}, err
		}
	}
	if paths.Failures, err = r.writeTable(out, FailureSuffix, func(w io.Writer) error {
		return WriteFailureTable(w, r.Failures)
	}); err != nil {
		return TablePaths{}, err
	}
	return paths, nil
}

func (r *Result) writeTable(out, suffix string, encode func(io.Writer) error) (string, error) {
	path, err := ResolveTablePath(out, r.AtlasPath, suffix)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		return "", fmt.Errorf("encode %s table: %w", suffix, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create table directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ReadVolumeTable decodes a volume table written by WriteVolumeTable.
func ReadVolumeTable(path string) ([]VolumeRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var rows []VolumeRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rows, nil
}

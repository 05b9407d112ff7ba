// Package store persists calibration and measurement results as plain text
// tables and records every run in a SQLite catalog.
package store

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/dactune/internal/fsutil"
	"github.com/banshee-data/dactune/internal/model"
)

// File labels.
const (
	CalibrationLabel = "C2F"
	MeasurementLabel = "F2I"
)

// Timestamp layouts used in result file names. Calibration files carry the
// hour only so a calibration is found again within the same hour.
const (
	CalibrationTimeLayout = "01-02_15"
	MeasurementTimeLayout = "01-02_15-04-05.000000"
)

// FileName builds <dir>/<label>_<timestamp>[_remark].<ext>.
func FileName(dir, label string, t time.Time, layout, remark, ext string) string {
	name := label + "_" + t.Format(layout)
	if remark != "" {
		name += "_" + remark
	}
	return filepath.Join(dir, name+"."+ext)
}

// CalibrationFile is the hourly calibration table name.
func CalibrationFile(dir string, t time.Time) string {
	return FileName(dir, CalibrationLabel, t, CalibrationTimeLayout, "", "txt")
}

// MeasurementFile is the per-iteration measurement table name.
func MeasurementFile(dir string, t time.Time, remark string) string {
	return FileName(dir, MeasurementLabel, t, MeasurementTimeLayout, remark, "txt")
}

// WithExt swaps the extension of path.
func WithExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + ext
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'e', 18, 64)
}

func writeRow(w io.Writer, values ...float64) error {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	_, err := io.WriteString(w, strings.Join(parts, " ")+"\n")
	return err
}

func writeFile(fs fsutil.FileSystem, path string, body func(w *bufio.Writer) error) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := body(w); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// WriteCalibration writes the coefficients as two header lines of three
// values each, followed by one "code frequency" row per sample.
func WriteCalibration(fs fsutil.FileSystem, path string, p model.Polynomial, ds model.CalibrationDataset) error {
	return writeFile(fs, path, func(w *bufio.Writer) error {
		c := p.Coefficients
		if err := writeRow(w, c[0], c[1], c[2]); err != nil {
			return err
		}
		if err := writeRow(w, c[3], c[4], c[5]); err != nil {
			return err
		}
		for _, s := range ds.Samples {
			if err := writeRow(w, float64(s.Code), s.Frequency); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadCalibration parses a calibration table. The two header lines may use
// any whitespace and may be wrapped in brackets or prefixed with '#'.
func ReadCalibration(fs fsutil.FileSystem, path string) (model.Polynomial, model.CalibrationDataset, error) {
	var p model.Polynomial
	var ds model.CalibrationDataset

	data, err := fs.ReadFile(path)
	if err != nil {
		return p, ds, fmt.Errorf("read calibration %s: %w", path, err)
	}

	var header []float64
	lineNo := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if len(header) < model.Degree+1 {
			line = strings.NewReplacer("#", " ", "[", " ", "]", " ", ",", " ").Replace(line)
			values, err := parseFields(line)
			if err != nil {
				return p, ds, fmt.Errorf("%s:%d: coefficients: %w", path, lineNo, err)
			}
			header = append(header, values...)
			if len(header) > model.Degree+1 {
				return p, ds, fmt.Errorf("%s:%d: expected %d coefficients, got %d", path, lineNo, model.Degree+1, len(header))
			}
			continue
		}
		values, err := parseFields(line)
		if err != nil {
			return p, ds, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if len(values) != 2 {
			return p, ds, fmt.Errorf("%s:%d: expected code and frequency, got %d fields", path, lineNo, len(values))
		}
		if values[0] < 0 || values[0] > float64(^uint32(0)) {
			return p, ds, fmt.Errorf("%s:%d: code %g out of range", path, lineNo, values[0])
		}
		ds.Append(uint32(values[0]), values[1])
	}
	if err := sc.Err(); err != nil {
		return p, ds, fmt.Errorf("read calibration %s: %w", path, err)
	}
	if len(header) != model.Degree+1 {
		return p, ds, fmt.Errorf("%s: expected %d coefficients, got %d", path, model.Degree+1, len(header))
	}
	copy(p.Coefficients[:], header)
	return p, ds, nil
}

func parseFields(line string) ([]float64, error) {
	fields := strings.Fields(line)
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteMeasurement writes a "# time, t1, t2" header (Unix seconds) followed
// by "frequency phase code raw..." rows.
func WriteMeasurement(fs fsutil.FileSystem, path string, ds model.MeasurementDataset) error {
	return writeFile(fs, path, func(w *bufio.Writer) error {
		if _, err := fmt.Fprintf(w, "# time, %s, %s\n", unixSeconds(ds.Started), unixSeconds(ds.Finished)); err != nil {
			return err
		}
		for _, r := range ds.Records {
			row := append([]float64{r.Frequency, r.Phase, float64(r.Code)}, r.Raw...)
			if err := writeRow(w, row...); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadMeasurement parses a measurement table written by WriteMeasurement.
func ReadMeasurement(fs fsutil.FileSystem, path string) (model.MeasurementDataset, error) {
	var ds model.MeasurementDataset
	data, err := fs.ReadFile(path)
	if err != nil {
		return ds, fmt.Errorf("read measurement %s: %w", path, err)
	}

	lineNo := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			ds.Started, ds.Finished = parseTimingHeader(line)
			continue
		}
		values, err := parseFields(line)
		if err != nil {
			return ds, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if len(values) < 3 {
			return ds, fmt.Errorf("%s:%d: expected at least 3 fields, got %d", path, lineNo, len(values))
		}
		ds.Append(model.MeasurementRecord{
			Frequency: values[0],
			Phase:     values[1],
			Code:      uint32(values[2]),
			Raw:       values[3:],
		})
	}
	return ds, sc.Err()
}

func unixSeconds(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

func parseTimingHeader(line string) (start, finish time.Time) {
	parts := strings.Split(strings.TrimPrefix(line, "#"), ",")
	if len(parts) != 3 {
		return
	}
	toTime := func(s string) time.Time {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || v == 0 {
			return time.Time{}
		}
		sec := int64(v)
		return time.Unix(sec, int64((v-float64(sec))*1e9)).Round(time.Microsecond)
	}
	return toTime(parts[1]), toTime(parts[2])
}

// Package report reads and writes the files exchanged with the fiducial
// tools: point datasets and homogeneous matrices as headerless CSV, harness
// statistics as CSV tables, PNG overlays and HTML charts.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/transform"
)

// ErrEmpty is returned when a CSV input holds no numeric rows.
var ErrEmpty = errors.New("report: no rows")

// maxInputSize caps the size of CSV files read from disk.
const maxInputSize = 64 * 1024 * 1024

// readRows parses a headerless numeric CSV. Blank lines and lines starting
// with '#' are skipped. Every row must have the same number of columns.
func readRows(r io.Reader) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = 0

	var rows [][]float64
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("report: read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		row := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("report: line %d column %d: %w", line, j+1, err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return rows, nil
}

func writeRows(w io.Writer, m mat.Matrix) error {
	cw := csv.NewWriter(w)
	r, c := m.Dims()
	row := make([]string, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			row[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// openInput opens path for reading after a size check.
func openInput(path string) (*os.File, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", clean, err)
	}
	if info.Size() > maxInputSize {
		return nil, fmt.Errorf("input file too large: %d bytes (max %d)", info.Size(), maxInputSize)
	}
	return os.Open(clean)
}

// ReadDataset reads one point per row. The column count sets the dimension.
func ReadDataset(r io.Reader, typ geometry.PointType) (*geometry.Dataset, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}
	pts := make([]geometry.Point, len(rows))
	for i, row := range rows {
		pts[i] = geometry.Point(row)
	}
	return geometry.NewDatasetFromPoints(typ, pts...)
}

// ReadDatasetFile reads a dataset from a CSV file.
func ReadDatasetFile(path string, typ geometry.PointType) (*geometry.Dataset, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ds, err := ReadDataset(f, typ)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// WriteDataset writes one point per row at full precision.
func WriteDataset(w io.Writer, ds *geometry.Dataset) error {
	return writeRows(w, ds.Matrix())
}

// WriteDatasetFile writes ds to path, creating or truncating it.
func WriteDatasetFile(path string, ds *geometry.Dataset) error {
	return writeFile(path, func(w io.Writer) error { return WriteDataset(w, ds) })
}

// ReadMatrix reads a dense matrix, one row per line.
func ReadMatrix(r io.Reader) (*mat.Dense, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}
	m := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		m.SetRow(i, row)
	}
	return m, nil
}

// WriteMatrix writes m one row per line.
func WriteMatrix(w io.Writer, m mat.Matrix) error {
	return writeRows(w, m)
}

// ReadTransformation reads a homogeneous (d+1)×(d+1) matrix.
func ReadTransformation(r io.Reader) (*transform.Affine, error) {
	m, err := ReadMatrix(r)
	if err != nil {
		return nil, err
	}
	return transform.FromHomogeneous(m)
}

// ReadTransformationFile reads a homogeneous matrix from a CSV file.
func ReadTransformationFile(path string) (*transform.Affine, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadTransformation(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteTransformation writes the homogeneous matrix of t.
func WriteTransformation(w io.Writer, t transform.Transformation) error {
	return writeRows(w, t.Homogeneous())
}

// WriteTransformationFile writes the homogeneous matrix of t to path.
func WriteTransformationFile(path string, t transform.Transformation) error {
	return writeFile(path, func(w io.Writer) error { return WriteTransformation(w, t) })
}

// ReadFiducialSet pairs a source and a target dataset file.
func ReadFiducialSet(sourcePath, targetPath string) (*geometry.FiducialSet, error) {
	src, err := ReadDatasetFile(sourcePath, geometry.PointTypeFiducial)
	if err != nil {
		return nil, err
	}
	tgt, err := ReadDatasetFile(targetPath, geometry.PointTypeFiducial)
	if err != nil {
		return nil, err
	}
	return geometry.NewFiducialSet(src, tgt)
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f)
}

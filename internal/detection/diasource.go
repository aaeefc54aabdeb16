package detection

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrMalformedDiaSource is returned for catalogue lines that do not follow
// the DIA-source layout.
var ErrMalformedDiaSource = errors.New("malformed DIA source")

// diaSourceFields is the column count of a DIA-source line:
//
//	diaId obsHistId ssmId RA Dec MJD mag SNR
const diaSourceFields = 8

// maxLineBytes bounds a single catalogue line.
const maxLineBytes = 1 << 20

// ParseDiaSource parses one whitespace-separated DIA-source line.
func ParseDiaSource(line string) (Detection, error) {
	fields := strings.Fields(line)
	if len(fields) != diaSourceFields {
		return Detection{}, fmt.Errorf("%w: expected %d fields, got %d",
			ErrMalformedDiaSource, diaSourceFields, len(fields))
	}

	var (
		d   Detection
		err error
	)
	if d.ID, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
		return Detection{}, fmt.Errorf("%w: diaId: %v", ErrMalformedDiaSource, err)
	}
	if d.ImageID, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
		return Detection{}, fmt.Errorf("%w: obsHistId: %v", ErrMalformedDiaSource, err)
	}
	if d.SSMID, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
		return Detection{}, fmt.Errorf("%w: ssmId: %v", ErrMalformedDiaSource, err)
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"RA", &d.RA},
		{"Dec", &d.Dec},
		{"MJD", &d.EpochMJD},
		{"mag", &d.Mag},
		{"SNR", &d.SNR},
	}
	for i, f := range floats {
		v, err := strconv.ParseFloat(fields[3+i], 64)
		if err != nil {
			return Detection{}, fmt.Errorf("%w: %s: %v", ErrMalformedDiaSource, f.name, err)
		}
		*f.dst = v
	}

	if d.Dec < -90 || d.Dec > 90 {
		return Detection{}, fmt.Errorf("%w: dec %f out of range", ErrMalformedDiaSource, d.Dec)
	}
	return d, nil
}

// FormatDiaSource renders d in the layout accepted by ParseDiaSource.
func FormatDiaSource(d Detection) string {
	return fmt.Sprintf("%d %d %d %.10f %.10f %.10f %.4f %.4f",
		d.ID, d.ImageID, d.SSMID, d.RA, d.Dec, d.EpochMJD, d.Mag, d.SNR)
}

// ReadDiaSources appends every detection in r to a new store. Blank lines and
// lines starting with '#' are skipped.
func ReadDiaSources(r io.Reader) (*Store, error) {
	s := NewStore(1024)
	if err := appendDiaSources(s, r); err != nil {
		return nil, err
	}
	return s, nil
}

func appendDiaSources(s *Store, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d, err := ParseDiaSource(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		s.Add(d)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read DIA sources: %w", err)
	}
	return nil
}

// Open opens a catalogue for reading, decompressing by file extension
// (.gz, .zst, .lz4). Other files are returned as-is.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip catalogue: %w", err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open zstd catalogue: %w", err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			f.Close,
		}}, nil
	case ".lz4":
		return &stackedReader{Reader: lz4.NewReader(f), closers: []func() error{f.Close}}, nil
	default:
		return f, nil
	}
}

// LoadFiles reads every catalogue in paths into one store, in order, so
// indices are dense across files.
func LoadFiles(paths ...string) (*Store, error) {
	s := NewStore(1024)
	for _, path := range paths {
		rc, err := Open(path)
		if err != nil {
			return nil, err
		}
		err = appendDiaSources(s, rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return s, nil
}

// stackedReader closes a decoder and its underlying file in order.
type stackedReader struct {
	io.Reader
	closers []func() error
}

func (r *stackedReader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

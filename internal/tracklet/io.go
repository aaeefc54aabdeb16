package tracklet

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ctslater/mops-daymops/internal/detection"
)

// WriteIndices writes one tracklet per line as space-separated detection
// indices.
func WriteIndices(w io.Writer, s Set) error {
	bw := bufio.NewWriter(w)
	for _, t := range s {
		for k, i := range t.indices {
			if k > 0 {
				if err := bw.WriteByte(' '); err != nil {
					return err
				}
			}
			if _, err := bw.WriteString(strconv.Itoa(i)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadIndices parses the format written by WriteIndices. Blank lines and
// lines starting with '#' are skipped; each remaining line must name at
// least two indices.
func ReadIndices(r io.Reader) (Set, error) {
	var out Set
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		idx := make([]int, len(fields))
		for k, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil || v < 0 {
				return nil, fmt.Errorf("line %d: %w: %q", line, ErrInvalidIndex, f)
			}
			idx[k] = v
		}
		t := New(idx...)
		if t.Len() < 2 {
			return nil, fmt.Errorf("line %d: %w: tracklet needs at least 2 detections", line, ErrInvalidIndex)
		}
		out = append(out, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tracklets: %w", err)
	}
	return out, nil
}

// WriteDetail writes one tracklet per line as its member detections'
// visit,ra,dec,snr groups, comma-joined in index order. RA and Dec carry six
// decimals and SNR one.
func WriteDetail(w io.Writer, store *detection.Store, s Set) error {
	if err := s.Validate(store.Len()); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, t := range s {
		groups := make([]string, 0, t.Len())
		for _, d := range t.Detections(store) {
			groups = append(groups, fmt.Sprintf("%d,%f,%f,%.1f", d.ImageID, d.RA, d.Dec, d.SNR))
		}
		if _, err := fmt.Fprintln(bw, strings.Join(groups, ",")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

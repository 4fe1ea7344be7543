package pyreport

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/oj"

	"github.com/anthropics/pyreport/internal/store"
)

// coveragePct renders a coverage percentage the way pyreport does: bare "0"
// or "100" at the extremes, otherwise five decimal places.
func coveragePct(hits, lines int64) string {
	switch {
	case hits == 0:
		return "0"
	case hits == lines:
		return "100"
	default:
		return fmt.Sprintf("%.5f", float64(hits)/float64(lines)*100.0)
	}
}

// jsonCompact serializes v with no whitespace and sorted object keys.
func jsonCompact(v any) string {
	return oj.JSON(v, &oj.Options{Sort: true})
}

// fileTotals is the thirteen-element totals array that appears in the files
// dict and, with a real file count, in each session's "t" field. The zeroed
// positions are messages, sessions, and diff, which this model does not
// track.
func fileTotals(fileCount, lines, hits, misses, partials, branches, methods, hitComplexity, totalComplexity int64) string {
	return fmt.Sprintf("[%d,%d,%d,%d,%d,%q,%d,%d,0,0,%d,%d,0]",
		fileCount, lines, hits, misses, partials, coveragePct(hits, lines),
		branches, methods, hitComplexity, totalComplexity)
}

// fileEntry accumulates one file's rows from the summary stream. The stream
// repeats the whole-file aggregates on every per-session row, so the first
// row pins them and later rows only add session totals.
type fileEntry struct {
	chunkIndex int64
	path       string
	totals     string

	sessionTotals []string
}

func newFileEntry(r store.FileSummaryRow) *fileEntry {
	return &fileEntry{
		chunkIndex: r.ChunkIndex,
		path:       r.Path,
		totals: fileTotals(0, r.Lines, r.Hits, r.Misses, r.Partials,
			r.Branches, r.Methods, r.HitComplexity, r.TotalComplexity),
	}
}

func (f *fileEntry) addSession(r store.FileSummaryRow) {
	f.sessionTotals = append(f.sessionTotals, fmt.Sprintf("\"%d\":[0,%d,%d,%d,%d,%q]",
		r.SessionIndex, r.SessionLines, r.SessionHits, r.SessionMisses, r.SessionPartials,
		coveragePct(r.SessionHits, r.SessionLines)))
}

func (f *fileEntry) write(w *bufio.Writer) error {
	var sessions strings.Builder
	sessions.WriteByte('{')
	for _, st := range f.sessionTotals {
		sessions.WriteString(st)
		sessions.WriteByte(',')
	}
	fmt.Fprintf(&sessions, `"meta":{"session_count":%d}}`, len(f.sessionTotals))

	_, err := fmt.Fprintf(w, "%s: [%d,%s,%s,null]",
		oj.JSON(f.path), f.chunkIndex, f.totals, sessions.String())
	return err
}

// sessionKeys is the fixed key order of a session object in the report JSON.
var sessionKeys = []string{"t", "d", "a", "f", "c", "n", "N", "j", "u", "p", "e", "st", "se"}

func writeSession(w *bufio.Writer, r store.SessionSummaryRow) error {
	totals := fileTotals(r.FileCount, r.Lines, r.Hits, r.Misses, r.Partials,
		r.Branches, r.Methods, r.HitComplexity, r.TotalComplexity)

	u := r.Upload
	values := map[string]string{
		"t":  totals,
		"d":  jsonOptInt(u.Timestamp),
		"a":  jsonOptString(u.RawUploadURL),
		"f":  jsonOptFlags(u.Flags),
		"c":  jsonOptString(u.Provider),
		"n":  jsonOptString(u.Build),
		"N":  jsonOptString(u.Name),
		"j":  jsonOptString(u.JobName),
		"u":  jsonOptString(u.CIRunURL),
		"p":  jsonOptString(u.State),
		"e":  jsonOptString(u.Env),
		"st": jsonOptString(u.SessionType),
		"se": jsonOptExtras(u.SessionExtras),
	}

	if _, err := fmt.Fprintf(w, "\"%d\": {", r.SessionIndex); err != nil {
		return err
	}
	for i, key := range sessionKeys {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%q:%s", key, values[key]); err != nil {
			return err
		}
	}
	return w.WriteByte('}')
}

func jsonOptInt(v *int64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatInt(*v, 10)
}

func jsonOptString(v *string) string {
	if v == nil {
		return "null"
	}
	return oj.JSON(*v)
}

// Absent flags and extras serialize as null, not as empty composites.
func jsonOptFlags(v []string) string {
	if v == nil {
		return "null"
	}
	return jsonCompact(v)
}

func jsonOptExtras(v map[string]any) string {
	if v == nil {
		return "null"
	}
	return jsonCompact(v)
}

// EncodeReportJSON writes the report JSON half of a pyreport: a "files" dict
// mapping each path to its chunk index and aggregate totals, then a
// "sessions" dict mapping each session index to its upload metadata and
// totals.
func EncodeReportJSON(s *store.Store, w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(`{"files": {`); err != nil {
		return err
	}

	var current *fileEntry
	first := true
	flush := func() error {
		if current == nil {
			return nil
		}
		if !first {
			if err := bw.WriteByte(','); err != nil {
				return err
			}
		}
		first = false
		return current.write(bw)
	}

	err := s.FileSummaries(func(r store.FileSummaryRow) error {
		if current == nil || current.chunkIndex != r.ChunkIndex {
			if err := flush(); err != nil {
				return err
			}
			current = newFileEntry(r)
		}
		if r.HasSession {
			current.addSession(r)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	if _, err := bw.WriteString(`},"sessions": {`); err != nil {
		return err
	}

	sessions, err := s.SessionSummaries()
	if err != nil {
		return err
	}
	for i, session := range sessions {
		if i > 0 {
			if err := bw.WriteByte(','); err != nil {
				return err
			}
		}
		if err := writeSession(bw, session); err != nil {
			return err
		}
	}

	if _, err := bw.WriteString("}}"); err != nil {
		return err
	}
	return bw.Flush()
}

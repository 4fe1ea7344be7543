package pyreport

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/oj"

	"github.com/anthropics/pyreport/internal/model"
	"github.com/anthropics/pyreport/internal/store"
)

// trimTrailingNulls removes trailing nil elements from a line or session
// array. Interior nulls stay: [0, null, [[0, 1]], null, null] becomes
// [0, null, [[0, 1]]], not [0, [[0, 1]]].
func trimTrailingNulls(values []any) []any {
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] != nil {
			return values[:i+1]
		}
	}
	return values[:0]
}

// encodeCoverage renders a sample's coverage as a hit count or a
// "covered/total" branch fraction.
func encodeCoverage(hits, hitBranches, totalBranches *int64) (any, error) {
	switch {
	case hits != nil:
		return *hits, nil
	case hitBranches != nil && totalBranches != nil:
		return fmt.Sprintf("%d/%d", *hitBranches, *totalBranches), nil
	default:
		return nil, fmt.Errorf("incomplete coverage data")
	}
}

// encodeCoverageType renders a coverage type for a line record. Line
// coverage is null, which doubles as the omitted-entirely value.
func encodeCoverageType(t model.CoverageType) any {
	switch t {
	case model.CoverageTypeBranch:
		return "b"
	case model.CoverageTypeMethod:
		return "m"
	default:
		return nil
	}
}

// encodeComplexity renders complexity as a [covered, total] pair when both
// halves are known and a bare integer otherwise.
func encodeComplexity(covered, total *int64) any {
	switch {
	case covered != nil && total != nil:
		return []any{*covered, *total}
	case total != nil:
		return *total
	case covered != nil:
		return *covered
	default:
		return nil
	}
}

// chunkLine accumulates one line's session rows and merges them into the
// line-level aggregate fields of the record.
type chunkLine struct {
	lineNo       int64
	coverageType model.CoverageType

	// Line-level coverage merged across sessions: hit counts sum, branch
	// fractions keep the best ratio seen.
	hits                       int64
	hitBranches, totalBranches int64
	haveFraction               bool

	complexityCovered, complexityTotal *int64

	sessions   []any
	datapoints []any
}

func newChunkLine(r store.ChunkLineRow) *chunkLine {
	return &chunkLine{lineNo: r.LineNo, coverageType: r.CoverageType}
}

func (l *chunkLine) add(r store.ChunkLineRow) error {
	if r.Hits != nil {
		l.hits += *r.Hits
	}
	if r.HitBranches != nil && r.TotalBranches != nil {
		// a/b > c/d compared without division
		if !l.haveFraction || *r.HitBranches*l.totalBranches > l.hitBranches**r.TotalBranches {
			l.hitBranches, l.totalBranches = *r.HitBranches, *r.TotalBranches
			l.haveFraction = true
		}
	}
	if r.HitComplexity != nil {
		l.complexityCovered = addOpt(l.complexityCovered, *r.HitComplexity)
	}
	if r.TotalComplexity != nil {
		l.complexityTotal = addOpt(l.complexityTotal, *r.TotalComplexity)
	}

	coverage, err := encodeCoverage(r.Hits, r.HitBranches, r.TotalBranches)
	if err != nil {
		return fmt.Errorf("chunk %d line %d session %d: %w", r.ChunkIndex, r.LineNo, r.SessionIndex, err)
	}

	missingBranches, err := decodeBranchStrings(r.MissingBranchesJSON)
	if err != nil {
		return err
	}
	partialRows, err := decodeJSONArray(r.PartialsJSON)
	if err != nil {
		return err
	}
	// Box only non-nil rows; a typed nil slice would defeat the trailing
	// null elision below.
	var partials any
	if partialRows != nil {
		partials = partialRows
	}
	session := []any{r.SessionIndex, coverage, missingBranches, partials,
		encodeComplexity(r.HitComplexity, r.TotalComplexity)}
	l.sessions = append(l.sessions, trimTrailingNulls(session))

	labels, err := decodeJSONArray(r.LabelsJSON)
	if err != nil {
		return err
	}
	if labels != nil {
		l.datapoints = append(l.datapoints, []any{
			r.SessionIndex, coverage, encodeCoverageType(r.CoverageType), labels,
		})
	}
	return nil
}

// record assembles the line's JSON array with trailing nulls removed.
func (l *chunkLine) record() []any {
	var coverage any
	if l.coverageType == model.CoverageTypeBranch && l.haveFraction {
		coverage = fmt.Sprintf("%d/%d", l.hitBranches, l.totalBranches)
	} else {
		coverage = l.hits
	}

	var datapoints any
	if l.datapoints != nil {
		datapoints = l.datapoints
	}

	return trimTrailingNulls([]any{
		coverage,
		encodeCoverageType(l.coverageType),
		l.sessions,
		nil, // messages
		encodeComplexity(l.complexityCovered, l.complexityTotal),
		datapoints,
	})
}

func addOpt(acc *int64, v int64) *int64 {
	if acc == nil {
		return &v
	}
	sum := *acc + v
	return &sum
}

// decodeBranchStrings turns the [[format, branch], ...] JSON aggregate into
// the flat list of branch strings a line session carries, or nil when there
// are none.
func decodeBranchStrings(raw string) (any, error) {
	pairs, err := decodeJSONArray(raw)
	if err != nil {
		return nil, err
	}
	if pairs == nil {
		return nil, nil
	}
	branches := make([]any, 0, len(pairs))
	for _, p := range pairs {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("malformed branch row %v", p)
		}
		branches = append(branches, pair[1])
	}
	return branches, nil
}

// decodeJSONArray parses a json_group_array aggregate, mapping the empty
// array to nil so it elides cleanly.
func decodeJSONArray(raw string) ([]any, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	v, err := oj.ParseString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse aggregate %q: %w", raw, err)
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("aggregate %q is not an array", raw)
	}
	if len(arr) == 0 {
		return nil, nil
	}
	return arr, nil
}

// chunksWriter tracks chunk and line position so lines land at their own
// line number within each chunk, with blank lines filling any gaps.
type chunksWriter struct {
	w       *bufio.Writer
	present map[int64][]int64

	openChunk     int64
	lastPopulated int64
	current       *chunkLine
}

// startChunk emits chunk headers up to and including index, so chunks whose
// files have no samples still appear as header-only chunks.
func (cw *chunksWriter) startChunk(index int64) error {
	for c := cw.openChunk + 1; c <= index; c++ {
		if c > 0 {
			if _, err := cw.w.WriteString(EndOfChunk); err != nil {
				return err
			}
		}
		sessions := cw.present[c]
		indexes := make([]string, len(sessions))
		for i, s := range sessions {
			indexes[i] = strconv.FormatInt(s, 10)
		}
		if _, err := fmt.Fprintf(cw.w, "{\"present_sessions\":[%s]}", strings.Join(indexes, ",")); err != nil {
			return err
		}
	}
	cw.openChunk = index
	cw.lastPopulated = 0
	return nil
}

// flushLine writes the line being built, padding the gap since the last
// populated line so line N is always the Nth line of the chunk.
func (cw *chunksWriter) flushLine() error {
	if cw.current == nil {
		return nil
	}
	for n := cw.lastPopulated; n < cw.current.lineNo-1; n++ {
		if err := cw.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(cw.w, "\n%s", oj.JSON(cw.current.record())); err != nil {
		return err
	}
	cw.lastPopulated = cw.current.lineNo
	cw.current = nil
	return nil
}

func (cw *chunksWriter) row(r store.ChunkLineRow) error {
	newChunk := r.ChunkIndex != cw.openChunk
	newLine := cw.current != nil && cw.current.lineNo != r.LineNo
	if newChunk || newLine {
		if err := cw.flushLine(); err != nil {
			return err
		}
	}
	if newChunk {
		if err := cw.startChunk(r.ChunkIndex); err != nil {
			return err
		}
	}
	if cw.current == nil {
		cw.current = newChunkLine(r)
	}
	return cw.current.add(r)
}

// EncodeChunks writes the chunks half of a pyreport: a header carrying the
// labels index, then one chunk per source file in chunk-index order.
func EncodeChunks(s *store.Store, w io.Writer) error {
	bw := bufio.NewWriter(w)

	contexts, err := s.ListContexts()
	if err != nil {
		return err
	}
	if err := writeChunksHeader(bw, contexts); err != nil {
		return err
	}

	present, err := s.PresentSessions()
	if err != nil {
		return err
	}
	chunkCount, err := s.ChunkCount()
	if err != nil {
		return err
	}

	cw := &chunksWriter{w: bw, present: present, openChunk: -1}
	err = s.ChunkLines(func(r store.ChunkLineRow) error {
		return cw.row(r)
	})
	if err != nil {
		return err
	}
	if err := cw.flushLine(); err != nil {
		return err
	}
	// Trailing files with no samples still get header-only chunks.
	if chunkCount > 0 {
		if err := cw.startChunk(chunkCount - 1); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// writeChunksHeader emits the labels index, mapping each context's ID to its
// name, followed by the header terminator. A report with no contexts gets an
// empty header object.
func writeChunksHeader(w *bufio.Writer, contexts []model.Context) error {
	if len(contexts) == 0 {
		if _, err := w.WriteString("{}"); err != nil {
			return err
		}
		_, err := w.WriteString(EndOfHeader)
		return err
	}

	if _, err := w.WriteString(`{"labels_index":{`); err != nil {
		return err
	}
	for i, c := range contexts {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "\"%d\":%s", c.ID, oj.JSON(c.Name)); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("}}"); err != nil {
		return err
	}
	_, err := w.WriteString(EndOfHeader)
	return err
}

// Encode writes both halves of a pyreport from a coverage store.
func Encode(s *store.Store, reportJSON, chunks io.Writer) error {
	if err := EncodeReportJSON(s, reportJSON); err != nil {
		return fmt.Errorf("encode report json: %w", err)
	}
	if err := EncodeChunks(s, chunks); err != nil {
		return fmt.Errorf("encode chunks: %w", err)
	}
	return nil
}

package pyreport

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ohler55/ojg/oj"

	"github.com/anthropics/pyreport/internal/model"
)

// The delimiters as bare lines, which is how a line-oriented scan sees them.
const (
	endOfHeaderLine = "<<<<< end_of_header >>>>>"
	endOfChunkLine  = "<<<<< end_of_chunk >>>>>"
)

// maxLineBytes bounds a single chunks-file line. Heavily-instrumented lines
// with many sessions and datapoints run long, but not megabytes long.
const maxLineBytes = 16 * 1024 * 1024

// ParseChunks parses a chunks file against builder. files and sessions come
// from ParseReportJSON: they resolve each chunk's position to a source file
// and each line session's ID to an upload.
//
// Decoded lines are assembled into model rows immediately and the rows for
// each chunk are flushed in one batch at the chunk boundary, so peak memory
// is one chunk's rows, not the whole file's.
func ParseChunks(r io.Reader, builder ReportBuilder, files map[int64]model.SourceFile, sessions map[int64]model.RawUpload) error {
	return parseChunks(r, builder, files, sessions, 0)
}

func parseChunks(r io.Reader, builder ReportBuilder, files map[int64]model.SourceFile, sessions map[int64]model.RawUpload, maxLine int) error {
	if maxLine <= 0 {
		maxLine = maxLineBytes
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	p := &chunksParser{
		lines: &lineReader{scanner: scanner},
		ctx: &parseContext{
			builder:  builder,
			files:    files,
			sessions: sessions,
			labels:   make(map[string]model.Context),
		},
	}
	return p.parse()
}

// parseContext is the mutable state threaded through one parse: the index
// maps from the report JSON and the label index built up from the file
// header and from labels first seen in datapoints.
type parseContext struct {
	builder  ReportBuilder
	files    map[int64]model.SourceFile
	sessions map[int64]model.RawUpload
	labels   map[string]model.Context
}

// resolveLabel returns the context for a label token, inserting a new
// context named by the token itself when the label index has no entry.
func (ctx *parseContext) resolveLabel(token string) (model.Context, error) {
	if c, ok := ctx.labels[token]; ok {
		return c, nil
	}
	c, err := ctx.builder.InsertContext(token)
	if err != nil {
		return model.Context{}, err
	}
	ctx.labels[token] = c
	return c, nil
}

// lineReader is a line scanner with pushback, needed to decide whether the
// first line of input is a file header or already chunk data.
type lineReader struct {
	scanner *bufio.Scanner
	pushed  []string
}

func (lr *lineReader) next() (string, bool, error) {
	if len(lr.pushed) > 0 {
		line := lr.pushed[0]
		lr.pushed = lr.pushed[1:]
		return line, true, nil
	}
	if !lr.scanner.Scan() {
		return "", false, lr.scanner.Err()
	}
	return lr.scanner.Text(), true, nil
}

// unread pushes a line back; the most recently unread line is returned
// first.
func (lr *lineReader) unread(line string) {
	lr.pushed = append([]string{line}, lr.pushed...)
}

type chunksParser struct {
	lines *lineReader
	ctx   *parseContext
}

func (p *chunksParser) parse() error {
	if err := p.parseFileHeader(); err != nil {
		return err
	}

	chunkIndex := int64(0)
	for {
		more, err := p.parseChunk(chunkIndex)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", chunkIndex, err)
		}
		if !more {
			return nil
		}
		chunkIndex++
	}
}

// parseFileHeader consumes the optional file header. The first line is a
// header only if the line after it is the end-of-header delimiter; otherwise
// it already belongs to the first chunk and is pushed back.
func (p *chunksParser) parseFileHeader() error {
	first, ok, err := p.lines.next()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("empty chunks file")
	}

	second, ok, err := p.lines.next()
	if err != nil {
		return err
	}
	if !ok || second != endOfHeaderLine {
		// No header: both lines are chunk data.
		if ok {
			p.lines.unread(second)
		}
		p.lines.unread(first)
		return nil
	}

	parsed, err := oj.ParseString(first)
	if err != nil {
		return fmt.Errorf("malformed file header: %w", err)
	}
	header, ok := parsed.(map[string]any)
	if !ok {
		return fmt.Errorf("file header is not an object")
	}
	if rawIndex, ok := header["labels_index"]; ok {
		index, ok := rawIndex.(map[string]any)
		if !ok {
			return fmt.Errorf("labels_index is not an object")
		}
		for key, name := range index {
			label, ok := name.(string)
			if !ok {
				return fmt.Errorf("label %q is not a string", key)
			}
			context, err := p.ctx.builder.InsertContext(label)
			if err != nil {
				return err
			}
			p.ctx.labels[key] = context
		}
	}
	return nil
}

// parseChunk consumes one chunk: a header line, then one line per source
// line until the end-of-chunk delimiter or EOF. It reports whether another
// chunk follows.
func (p *chunksParser) parseChunk(chunkIndex int64) (bool, error) {
	header, ok, err := p.lines.next()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("missing chunk header")
	}

	// A chunk whose body is the literal null carries no data but still
	// consumes a chunk index.
	if strings.TrimSpace(header) == "null" {
		line, ok, err := p.lines.next()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if line == endOfChunkLine {
			return true, nil
		}
		return false, fmt.Errorf("unexpected data after null chunk")
	}

	if err := p.parseChunkHeader(header); err != nil {
		return false, err
	}

	asm := newAssembler(p.ctx, chunkIndex)
	lineNo := int64(0)
	for {
		line, ok, err := p.lines.next()
		if err != nil {
			return false, err
		}
		if !ok || line == endOfChunkLine {
			if err := asm.flush(); err != nil {
				return false, err
			}
			return ok, nil
		}

		lineNo++
		if line == "" {
			continue
		}
		parsed, err := oj.ParseString(line)
		if err != nil {
			return false, fmt.Errorf("line %d: %w", lineNo, err)
		}
		record, err := decodeLineRecord(parsed)
		if err != nil {
			return false, fmt.Errorf("line %d: %w", lineNo, err)
		}
		record.LineNo = lineNo
		if err := asm.addLine(record); err != nil {
			return false, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
}

// parseChunkHeader validates the one-line chunk header. Its only recognized
// key, present_sessions, repeats information derivable from the lines, so
// the shape is checked but nothing is retained.
func (p *chunksParser) parseChunkHeader(line string) error {
	parsed, err := oj.ParseString(line)
	if err != nil {
		return fmt.Errorf("malformed chunk header: %w", err)
	}
	header, ok := parsed.(map[string]any)
	if !ok {
		return fmt.Errorf("chunk header is not an object")
	}
	if rawSessions, ok := header["present_sessions"]; ok {
		if _, ok := rawSessions.([]any); !ok {
			return fmt.Errorf("present_sessions is not a list")
		}
	}
	return nil
}

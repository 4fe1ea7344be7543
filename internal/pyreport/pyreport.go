// Package pyreport converts between the relational coverage model and
// "pyreport", a legacy two-part text format: a "report JSON" index plus a
// line-oriented "chunks" file.
//
// A report JSON is a single object with a "files" key mapping file paths to
// summaries (most importantly each file's chunk index) and a "sessions" key
// mapping session numbers to upload metadata. A chunks file begins with an
// optional JSON header (its one recognized key, "labels_index", numbers the
// test labels used in the file) and then holds one chunk per source file,
// separated by a fixed delimiter. Within a chunk, the Nth physical line
// describes the Nth source line: either empty (no data) or a JSON array
//
//	[coverage, type, sessions, messages, complexity, datapoints]
//
// with trailing fields elided. Parsing inserts rows through a ReportBuilder
// as lines are recognized rather than materializing the whole file; encoding
// walks pre-aggregated row streams from a built report and regenerates the
// same compacted textual form.
package pyreport

import (
	"fmt"
	"io"

	"github.com/anthropics/pyreport/internal/model"
)

// Delimiters between the sections of a chunks file, as they appear in the
// byte stream.
const (
	EndOfHeader = "\n<<<<< end_of_header >>>>>\n"
	EndOfChunk  = "\n<<<<< end_of_chunk >>>>>\n"
)

// ReportBuilder is the sink the parser inserts rows into as it goes. Insert
// order within one parse matters: coverage samples must be inserted before
// the branch, method, span, and context rows that reference their local IDs,
// which the builder assigns. store.Builder implements this interface with a
// single wrapping transaction.
type ReportBuilder interface {
	InsertFile(path string) (model.SourceFile, error)
	InsertContext(name string) (model.Context, error)
	InsertRawUpload(upload model.RawUpload) (model.RawUpload, error)
	MultiInsertCoverageSample(samples []*model.CoverageSample) error
	MultiInsertBranchesData(branches []*model.BranchesData) error
	MultiInsertMethodData(methods []*model.MethodData) error
	MultiInsertSpanData(spans []*model.SpanData) error
	MultiAssociateContext(assocs []*model.ContextAssoc) error
}

// ParseOptions tune a parse. The zero value means defaults.
type ParseOptions struct {
	// MaxLineBytes caps the length of a single chunks-file line. Zero means
	// the built-in default.
	MaxLineBytes int
}

// Parse reads a full pyreport into builder: the report JSON first, which
// names the files and sessions, then the chunks file, which holds the
// per-line measurements. Any error aborts the parse; the builder's
// transaction is the caller's to roll back.
func Parse(reportJSON, chunks io.Reader, builder ReportBuilder) error {
	return ParseWithOptions(reportJSON, chunks, builder, ParseOptions{})
}

// ParseWithOptions is Parse with explicit limits.
func ParseWithOptions(reportJSON, chunks io.Reader, builder ReportBuilder, opts ParseOptions) error {
	files, sessions, err := ParseReportJSON(reportJSON, builder)
	if err != nil {
		return fmt.Errorf("parse report json: %w", err)
	}
	if err := parseChunks(chunks, builder, files, sessions, opts.MaxLineBytes); err != nil {
		return fmt.Errorf("parse chunks file: %w", err)
	}
	return nil
}

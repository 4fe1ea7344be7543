// Package model defines the relational data model that coverage reports are
// flattened into.
//
// Two identity schemes coexist on purpose. source_file and context rows are
// content-addressed: their primary key is a hash of the path or name, so
// independently-produced reports agree on the ID for the same file or label
// without coordination. Measurement rows (coverage_sample, branches_data,
// method_data, span_data) instead use a composite key of (raw_upload_id,
// local id), where the local ID is only unique within one upload's insertion
// pass and the upload ID is random. Together these make merging two reports a
// straight union: INSERT OR IGNORE for content-addressed tables, plain
// concatenation for measurement tables, no foreign-key rewriting.
package model

import "github.com/cespare/xxhash/v2"

// ContentID returns the content-addressed ID for a source file path or
// context name. SQLite stores INTEGER keys as signed 64-bit values, so the
// hash is reinterpreted as int64.
func ContentID(content string) int64 {
	return int64(xxhash.Sum64String(content))
}

// CoverageType describes what kind of measurement a coverage sample is.
type CoverageType string

const (
	CoverageTypeLine   CoverageType = "l"
	CoverageTypeBranch CoverageType = "b"
	CoverageTypeMethod CoverageType = "m"
)

// BranchFormat identifies the notation used to record which branch a
// branches_data row refers to. Chunks files use three historical notations
// and the original one must be preserved to round-trip.
type BranchFormat string

const (
	// BranchFormatLine identifies a branch by the line number of its branch
	// statement, e.g. "26".
	BranchFormatLine BranchFormat = "l"

	// BranchFormatCondition identifies a branch as "index" or "index:jump",
	// e.g. "0:jump" or "3".
	BranchFormatCondition BranchFormat = "c"

	// BranchFormatBlockAndBranch identifies a branch as "block:branch",
	// e.g. "0:1".
	BranchFormatBlockAndBranch BranchFormat = "bb"
)

// SourceFile is a file mentioned in a coverage report.
type SourceFile struct {
	ID   int64 // ContentID(Path)
	Path string
}

// Context is a label that measurements can be associated with, typically the
// name of a test case.
type Context struct {
	ID   int64 // ContentID(Name)
	Name string
}

// RawUpload records the metadata of a single coverage upload, which pyreport
// calls a "session". Its ID is random: two uploads must never share an ID or
// merging reports that contain both would interleave their measurements.
type RawUpload struct {
	ID int64

	// SessionIndex is the session number this upload carried in the report
	// JSON it was parsed from, when known. The encoder orders sessions by it
	// so a parse/encode cycle preserves session numbering.
	SessionIndex *int64

	Timestamp     *int64
	RawUploadURL  *string
	Flags         []string
	Provider      *string
	Build         *string
	Name          *string
	JobName       *string
	CIRunURL      *string
	State         *string
	Env           *string
	SessionType   *string
	SessionExtras map[string]any
}

// CoverageSample is a single coverage measurement: one (file, line, upload)
// triple. Hits is populated for line and method samples, HitBranches and
// TotalBranches for branch samples, never both.
type CoverageSample struct {
	RawUploadID   int64
	LocalSampleID int64
	SourceFileID  int64
	LineNo        int64
	CoverageType  CoverageType
	Hits          *int64
	HitBranches   *int64
	TotalBranches *int64
}

// BranchesData records a specific branch path for a branch sample. Chunks
// files only record the branches that were missed, so rows parsed from a
// chunks file always have Hits == 0.
type BranchesData struct {
	RawUploadID   int64
	LocalBranchID int64
	SourceFileID  int64
	LocalSampleID int64
	Hits          int64
	BranchFormat  BranchFormat
	Branch        string
}

// MethodData carries cyclomatic-complexity details for a method sample.
type MethodData struct {
	RawUploadID        int64
	LocalMethodID      int64
	SourceFileID       int64
	LocalSampleID      int64
	LineNo             *int64
	HitBranches        *int64
	TotalBranches      *int64
	HitComplexityPaths *int64
	TotalComplexity    *int64
}

// SpanData records coverage of a sub-line range. Chunks files only record
// single-line partials, so StartLine and EndLine both carry the sample's
// line number.
type SpanData struct {
	RawUploadID   int64
	LocalSpanID   int64
	SourceFileID  int64
	LocalSampleID int64
	Hits          int64
	StartLine     *int64
	StartCol      *int64
	EndLine       *int64
	EndCol        *int64
}

// ContextAssoc associates a Context with one measurement row. Exactly one of
// the local ID fields is set.
type ContextAssoc struct {
	ContextID     int64
	RawUploadID   int64
	LocalSampleID *int64
	LocalBranchID *int64
	LocalMethodID *int64
	LocalSpanID   *int64
}

// CoverageTotals aggregates raw coverage measurements.
type CoverageTotals struct {
	HitLines           uint64
	TotalLines         uint64
	HitBranches        uint64
	TotalBranches      uint64
	TotalBranchRoots   uint64
	HitMethods         uint64
	TotalMethods       uint64
	HitComplexityPaths uint64
	TotalComplexity    uint64
}

// ReportTotals aggregates a whole report.
type ReportTotals struct {
	Files     uint64
	Uploads   uint64
	TestCases uint64
	Coverage  CoverageTotals
}

package pyreport

import (
	"github.com/anthropics/pyreport/internal/model"
)

// CoverageKind discriminates the three wire encodings of a coverage value.
type CoverageKind int

const (
	// CoverageHitCount is a plain execution count, e.g. 3.
	CoverageHitCount CoverageKind = iota + 1

	// CoverageBranchesTaken is a "covered/total" fraction, e.g. "2/4".
	CoverageBranchesTaken

	// CoveragePartial is the legacy boolean true, meaning partially covered
	// with no further detail.
	CoveragePartial
)

// Coverage is the tagged union of the three coverage encodings.
type Coverage struct {
	Kind CoverageKind

	// Hits is set for CoverageHitCount.
	Hits uint32

	// Covered and Total are set for CoverageBranchesTaken.
	Covered uint32
	Total   uint32
}

// HitCount returns a hit-count coverage value.
func HitCount(n uint32) Coverage {
	return Coverage{Kind: CoverageHitCount, Hits: n}
}

// BranchesTaken returns a covered/total fraction coverage value.
func BranchesTaken(covered, total uint32) Coverage {
	return Coverage{Kind: CoverageBranchesTaken, Covered: covered, Total: total}
}

// PartialCoverage returns the legacy boolean partial-coverage value.
func PartialCoverage() Coverage {
	return Coverage{Kind: CoveragePartial}
}

// Normalize resolves a coverage value against its declared coverage type.
// Upstream producers sometimes mislabel one or the other: a fraction-shaped
// value structurally implies a branch measurement no matter what type the
// line declares, a branch-typed line with a bare hit count implicitly has two
// branch paths, and the boolean partial form carries no detail beyond "one of
// two paths". Both the line-level pair and each session's coverage go through
// this before model assembly.
func Normalize(coverage Coverage, coverageType model.CoverageType) (Coverage, model.CoverageType) {
	if coverage.Kind == CoveragePartial {
		coverage = BranchesTaken(1, 2)
	}
	switch {
	case coverage.Kind == CoverageBranchesTaken && coverageType == model.CoverageTypeMethod:
		return HitCount(coverage.Covered), model.CoverageTypeMethod
	case coverage.Kind == CoverageBranchesTaken && coverageType == model.CoverageTypeLine:
		return coverage, model.CoverageTypeBranch
	case coverage.Kind == CoverageHitCount && coverageType == model.CoverageTypeBranch:
		return BranchesTaken(coverage.Hits, 2), model.CoverageTypeBranch
	}
	return coverage, coverageType
}

// Complexity is a cyclomatic-complexity measurement: either a bare total or
// a [covered, total] pair.
type Complexity struct {
	// Covered is set only for the two-element form.
	Covered *uint32
	Total   uint32
}

// MissingBranchKind discriminates the three historical notations for naming
// a branch path.
type MissingBranchKind int

const (
	// MissingBranchLine names a branch by the line of its branch statement:
	// "26".
	MissingBranchLine MissingBranchKind = iota + 1

	// MissingBranchCondition names a branch as a condition index with an
	// optional "jump" suffix: "0:jump".
	MissingBranchCondition

	// MissingBranchBlockAndBranch names a branch as "block:branch": "0:1".
	MissingBranchBlockAndBranch
)

// MissingBranch is one branch path recorded as not taken.
type MissingBranch struct {
	Kind MissingBranchKind

	// Line is set for MissingBranchLine.
	Line uint32

	// Condition and Jump are set for MissingBranchCondition.
	Condition uint32
	Jump      bool

	// Block and Branch are set for MissingBranchBlockAndBranch.
	Block  uint32
	Branch uint32
}

// Partial is sub-line coverage of a column range within a single line.
type Partial struct {
	StartCol *int64
	EndCol   *int64
	Hits     int64
}

// LineSession is one session's measurement of one line: the third element of
// a line record.
type LineSession struct {
	SessionID       int64
	Coverage        Coverage
	MissingBranches []MissingBranch
	Partials        []Partial
	Complexity      *Complexity
}

// ReportLine is one decoded non-empty line of a chunk.
type ReportLine struct {
	LineNo   int64
	Coverage Coverage
	Type     model.CoverageType
	Sessions []LineSession

	// Labels from the line's datapoints, keyed by session ID. The values
	// are raw label tokens, resolved through the label index at assembly.
	Labels map[int64][]string
}

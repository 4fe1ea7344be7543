package pyreport

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/anthropics/pyreport/internal/model"
)

func TestDecodeCoverage(t *testing.T) {
	cases := []struct {
		name  string
		input any
		want  Coverage
	}{
		{"hit count", int64(3), HitCount(3)},
		{"zero", int64(0), HitCount(0)},
		{"float hit count", float64(4), HitCount(4)},
		{"overflow clamps to max", int64(math.MaxUint32) + 10, HitCount(math.MaxUint32)},
		{"fraction", "2/4", BranchesTaken(2, 4)},
		{"fraction overflow", "4294967296/4294967296", BranchesTaken(math.MaxUint32, math.MaxUint32)},
		{"huge fraction saturates", "99999999999999999999/2", BranchesTaken(math.MaxUint32, 2)},
		{"boolean partial", true, PartialCoverage()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeCoverage(tc.input)
			if err != nil {
				t.Fatalf("decodeCoverage(%v): %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("decodeCoverage(%v) = %+v, want %+v", tc.input, got, tc.want)
			}
		})
	}

	for _, bad := range []any{false, "garbage", "1/2/3x", "a/b", nil, []any{}, int64(-1), float64(-3)} {
		if _, err := decodeCoverage(bad); err == nil {
			t.Errorf("decodeCoverage(%v) succeeded, want error", bad)
		}
	}
}

func TestDecodeCoverageType(t *testing.T) {
	cases := []struct {
		input any
		want  model.CoverageType
	}{
		{nil, model.CoverageTypeLine},
		{"line", model.CoverageTypeLine},
		{"b", model.CoverageTypeBranch},
		{"branch", model.CoverageTypeBranch},
		{"m", model.CoverageTypeMethod},
		{"method", model.CoverageTypeMethod},
	}
	for _, tc := range cases {
		got, err := decodeCoverageType(tc.input)
		if err != nil {
			t.Fatalf("decodeCoverageType(%v): %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("decodeCoverageType(%v) = %q, want %q", tc.input, got, tc.want)
		}
	}

	for _, bad := range []any{"x", int64(3), true} {
		if _, err := decodeCoverageType(bad); err == nil {
			t.Errorf("decodeCoverageType(%v) succeeded, want error", bad)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name         string
		coverage     Coverage
		coverageType model.CoverageType
		wantCoverage Coverage
		wantType     model.CoverageType
	}{
		{"hit count line", HitCount(3), model.CoverageTypeLine, HitCount(3), model.CoverageTypeLine},
		{"hit count method", HitCount(3), model.CoverageTypeMethod, HitCount(3), model.CoverageTypeMethod},
		{"fraction branch", BranchesTaken(2, 4), model.CoverageTypeBranch, BranchesTaken(2, 4), model.CoverageTypeBranch},
		{"fraction on line becomes branch", BranchesTaken(2, 4), model.CoverageTypeLine, BranchesTaken(2, 4), model.CoverageTypeBranch},
		{"fraction on method becomes hit count", BranchesTaken(2, 4), model.CoverageTypeMethod, HitCount(2), model.CoverageTypeMethod},
		{"hit count on branch becomes fraction", HitCount(1), model.CoverageTypeBranch, BranchesTaken(1, 2), model.CoverageTypeBranch},
		{"partial on line", PartialCoverage(), model.CoverageTypeLine, BranchesTaken(1, 2), model.CoverageTypeBranch},
		{"partial on branch", PartialCoverage(), model.CoverageTypeBranch, BranchesTaken(1, 2), model.CoverageTypeBranch},
		{"partial on method", PartialCoverage(), model.CoverageTypeMethod, HitCount(1), model.CoverageTypeMethod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotCoverage, gotType := Normalize(tc.coverage, tc.coverageType)
			if gotCoverage != tc.wantCoverage || gotType != tc.wantType {
				t.Errorf("Normalize(%+v, %q) = (%+v, %q), want (%+v, %q)",
					tc.coverage, tc.coverageType, gotCoverage, gotType, tc.wantCoverage, tc.wantType)
			}
		})
	}
}

func TestDecodeMissingBranches(t *testing.T) {
	cases := []struct {
		name  string
		input []any
		want  []MissingBranch
	}{
		{
			"conditions",
			[]any{"0:jump", "1:jump"},
			[]MissingBranch{
				{Kind: MissingBranchCondition, Condition: 0, Jump: true},
				{Kind: MissingBranchCondition, Condition: 1, Jump: true},
			},
		},
		{
			"block and branch",
			[]any{"0:0", "0:1"},
			[]MissingBranch{
				{Kind: MissingBranchBlockAndBranch, Block: 0, Branch: 0},
				{Kind: MissingBranchBlockAndBranch, Block: 0, Branch: 1},
			},
		},
		{
			"lines",
			[]any{"26", "27"},
			[]MissingBranch{
				{Kind: MissingBranchLine, Line: 26},
				{Kind: MissingBranchLine, Line: 27},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeMissingBranches(tc.input)
			if err != nil {
				t.Fatalf("decodeMissingBranches(%v): %v", tc.input, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("decodeMissingBranches(%v) = %+v, want %+v", tc.input, got, tc.want)
			}
		})
	}
}

func TestDecodeMissingBranchesMixedNotations(t *testing.T) {
	mixed := [][]any{
		{"26", "0:jump"},
		{"0:jump", "26"},
		{"0:1", "26"},
		{"0:jump", "0:1"},
	}
	for _, input := range mixed {
		_, err := decodeMissingBranches(input)
		if !errors.Is(err, ErrMixedBranchNotations) {
			t.Errorf("decodeMissingBranches(%v) err = %v, want ErrMixedBranchNotations", input, err)
		}
	}
}

func TestDecodeComplexity(t *testing.T) {
	got, err := decodeComplexity(int64(4))
	if err != nil {
		t.Fatalf("decodeComplexity(4): %v", err)
	}
	if got.Covered != nil || got.Total != 4 {
		t.Errorf("decodeComplexity(4) = %+v, want total-only 4", got)
	}

	got, err = decodeComplexity([]any{int64(2), int64(4)})
	if err != nil {
		t.Fatalf("decodeComplexity([2, 4]): %v", err)
	}
	if got.Covered == nil || *got.Covered != 2 || got.Total != 4 {
		t.Errorf("decodeComplexity([2, 4]) = %+v, want covered 2 total 4", got)
	}

	got, err = decodeComplexity(nil)
	if err != nil || got != nil {
		t.Errorf("decodeComplexity(nil) = (%+v, %v), want (nil, nil)", got, err)
	}

	for _, bad := range []any{[]any{int64(1)}, []any{int64(1), int64(2), int64(3)}, "4", int64(-2), []any{int64(-1), int64(4)}} {
		if _, err := decodeComplexity(bad); err == nil {
			t.Errorf("decodeComplexity(%v) succeeded, want error", bad)
		}
	}
}

func TestDecodePartials(t *testing.T) {
	got, err := decodePartials([]any{
		[]any{int64(3), nil, int64(3)},
		[]any{nil, int64(10), "1/2"},
		[]any{int64(1), int64(5), true},
	})
	if err != nil {
		t.Fatalf("decodePartials: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("decodePartials returned %d partials, want 3", len(got))
	}
	if got[0].StartCol == nil || *got[0].StartCol != 3 || got[0].EndCol != nil || got[0].Hits != 3 {
		t.Errorf("partial 0 = %+v", got[0])
	}
	if got[1].StartCol != nil || got[1].EndCol == nil || *got[1].EndCol != 10 || got[1].Hits != 1 {
		t.Errorf("partial 1 = %+v", got[1])
	}
	if got[2].Hits != 1 {
		t.Errorf("partial 2 hits = %d, want 1", got[2].Hits)
	}
}

func TestDecodeLineSession(t *testing.T) {
	s, err := decodeLineSession([]any{int64(0), int64(3)})
	if err != nil {
		t.Fatalf("decodeLineSession: %v", err)
	}
	if s.SessionID != 0 || s.Coverage != HitCount(3) {
		t.Errorf("decodeLineSession([0, 3]) = %+v", s)
	}

	s, err = decodeLineSession([]any{int64(1), "2/4", []any{"0:jump"}, nil, []any{int64(2), int64(4)}})
	if err != nil {
		t.Fatalf("decodeLineSession full: %v", err)
	}
	if s.SessionID != 1 || s.Coverage != BranchesTaken(2, 4) {
		t.Errorf("full session = %+v", s)
	}
	if len(s.MissingBranches) != 1 || s.MissingBranches[0].Kind != MissingBranchCondition {
		t.Errorf("missing branches = %+v", s.MissingBranches)
	}
	if s.Complexity == nil || s.Complexity.Total != 4 {
		t.Errorf("complexity = %+v", s.Complexity)
	}

	for _, bad := range []any{[]any{int64(0)}, "x", []any{}} {
		if _, err := decodeLineSession(bad); err == nil {
			t.Errorf("decodeLineSession(%v) succeeded, want error", bad)
		}
	}
}

func TestDecodeLineRecord(t *testing.T) {
	record, err := decodeLineRecord([]any{int64(1), nil, []any{[]any{int64(0), int64(1)}}})
	if err != nil {
		t.Fatalf("decodeLineRecord: %v", err)
	}
	if record.Coverage != HitCount(1) || record.Type != model.CoverageTypeLine {
		t.Errorf("record = %+v", record)
	}
	if len(record.Sessions) != 1 || record.Sessions[0].Coverage != HitCount(1) {
		t.Errorf("sessions = %+v", record.Sessions)
	}
}

func TestDecodeLineRecordNormalizesSessions(t *testing.T) {
	// A branch-typed line whose session carries a bare hit count: both the
	// line and the session coverage normalize to fractions.
	record, err := decodeLineRecord([]any{int64(1), "b", []any{[]any{int64(0), int64(1)}}})
	if err != nil {
		t.Fatalf("decodeLineRecord: %v", err)
	}
	if record.Coverage != BranchesTaken(1, 2) || record.Type != model.CoverageTypeBranch {
		t.Errorf("line coverage = %+v type %q", record.Coverage, record.Type)
	}
	if record.Sessions[0].Coverage != BranchesTaken(1, 2) {
		t.Errorf("session coverage = %+v", record.Sessions[0].Coverage)
	}

	// A fraction on an undeclared line shifts the line type to branch, and
	// the session's bare hit count must follow the shifted type.
	record, err = decodeLineRecord([]any{"2/4", nil, []any{[]any{int64(0), int64(2)}}})
	if err != nil {
		t.Fatalf("decodeLineRecord: %v", err)
	}
	if record.Coverage != BranchesTaken(2, 4) || record.Type != model.CoverageTypeBranch {
		t.Errorf("line coverage = %+v type %q", record.Coverage, record.Type)
	}
	if record.Sessions[0].Coverage != BranchesTaken(2, 2) {
		t.Errorf("session coverage = %+v, want 2/2", record.Sessions[0].Coverage)
	}
}

func TestDecodeLineRecordDatapoints(t *testing.T) {
	record, err := decodeLineRecord([]any{
		int64(3), nil,
		[]any{[]any{int64(0), int64(3)}},
		nil, nil,
		[]any{[]any{int64(0), int64(3), nil, []any{"test-case", int64(2)}}},
	})
	if err != nil {
		t.Fatalf("decodeLineRecord: %v", err)
	}
	want := map[int64][]string{0: {"test-case", "2"}}
	if !reflect.DeepEqual(record.Labels, want) {
		t.Errorf("labels = %v, want %v", record.Labels, want)
	}
}

func TestDecodeLineRecordRejectsGarbage(t *testing.T) {
	bad := []any{
		[]any{},
		"x",
		[]any{false},
		[]any{int64(1), "z"},
		[]any{int64(1), nil, "not a list"},
	}
	for _, input := range bad {
		if _, err := decodeLineRecord(input); err == nil {
			t.Errorf("decodeLineRecord(%v) succeeded, want error", input)
		}
	}
}

package pyreport

import (
	"reflect"
	"testing"

	"github.com/ohler55/ojg/oj"

	"github.com/anthropics/pyreport/internal/model"
	"github.com/anthropics/pyreport/internal/store"
)

func TestTrimTrailingNulls(t *testing.T) {
	cases := []struct {
		input []any
		want  []any
	}{
		{[]any{int64(1), nil, "x"}, []any{int64(1), nil, "x"}},
		{[]any{int64(1), nil, "x", nil, nil}, []any{int64(1), nil, "x"}},
		{[]any{nil}, []any{}},
		{[]any{}, []any{}},
	}
	for _, tc := range cases {
		got := trimTrailingNulls(tc.input)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("trimTrailingNulls(%v) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestCoveragePct(t *testing.T) {
	cases := []struct {
		hits, lines int64
		want        string
	}{
		{0, 0, "0"},
		{0, 10, "0"},
		{10, 10, "100"},
		{3, 4, "75.00000"},
		{2, 3, "66.66667"},
		{1, 7, "14.28571"},
	}
	for _, tc := range cases {
		if got := coveragePct(tc.hits, tc.lines); got != tc.want {
			t.Errorf("coveragePct(%d, %d) = %q, want %q", tc.hits, tc.lines, got, tc.want)
		}
	}
}

func TestEncodeComplexity(t *testing.T) {
	two, four := int64(2), int64(4)
	if got := encodeComplexity(&two, &four); !reflect.DeepEqual(got, []any{int64(2), int64(4)}) {
		t.Errorf("pair = %v", got)
	}
	if got := encodeComplexity(nil, &four); got != int64(4) {
		t.Errorf("total only = %v", got)
	}
	if got := encodeComplexity(&two, nil); got != int64(2) {
		t.Errorf("covered only = %v", got)
	}
	if got := encodeComplexity(nil, nil); got != nil {
		t.Errorf("absent = %v", got)
	}
}

func TestEncodeCoverage(t *testing.T) {
	three, two, four := int64(3), int64(2), int64(4)
	got, err := encodeCoverage(&three, nil, nil)
	if err != nil || got != int64(3) {
		t.Errorf("hit count = (%v, %v)", got, err)
	}
	got, err = encodeCoverage(nil, &two, &four)
	if err != nil || got != "2/4" {
		t.Errorf("fraction = (%v, %v)", got, err)
	}
	if _, err := encodeCoverage(nil, nil, nil); err == nil {
		t.Error("empty coverage encoded, want error")
	}
}

func TestChunkLineRecord(t *testing.T) {
	hits := int64(3)
	line := newChunkLine(store.ChunkLineRow{
		LineNo:       1,
		CoverageType: model.CoverageTypeLine,
	})
	err := line.add(store.ChunkLineRow{
		ChunkIndex: 0, LineNo: 1, CoverageType: model.CoverageTypeLine,
		SessionIndex: 1, Hits: &hits,
		MissingBranchesJSON: "[]", PartialsJSON: "[]", LabelsJSON: "[]",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := oj.JSON(line.record()); got != `[3,null,[[1,3]]]` {
		t.Errorf("record = %s", got)
	}
}

func TestChunkLineRecordBranchAggregate(t *testing.T) {
	// Two sessions measuring the same branch line: the line-level fraction
	// keeps the best ratio.
	line := newChunkLine(store.ChunkLineRow{LineNo: 6, CoverageType: model.CoverageTypeBranch})
	one, two, four := int64(1), int64(2), int64(4)
	rows := []store.ChunkLineRow{
		{LineNo: 6, CoverageType: model.CoverageTypeBranch, SessionIndex: 0,
			HitBranches: &one, TotalBranches: &four,
			MissingBranchesJSON: `[["c","1"],["c","2"],["c","3"]]`, PartialsJSON: "[]", LabelsJSON: "[]"},
		{LineNo: 6, CoverageType: model.CoverageTypeBranch, SessionIndex: 1,
			HitBranches: &two, TotalBranches: &four,
			MissingBranchesJSON: `[["c","2"],["c","3"]]`, PartialsJSON: "[]", LabelsJSON: "[]"},
	}
	for _, r := range rows {
		if err := line.add(r); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	want := `["2/4","b",[[0,"1/4",["1","2","3"]],[1,"2/4",["2","3"]]]]`
	if got := oj.JSON(line.record()); got != want {
		t.Errorf("record = %s, want %s", got, want)
	}
}

func TestChunkLineRecordDatapoints(t *testing.T) {
	hits := int64(3)
	line := newChunkLine(store.ChunkLineRow{LineNo: 1, CoverageType: model.CoverageTypeLine})
	err := line.add(store.ChunkLineRow{
		LineNo: 1, CoverageType: model.CoverageTypeLine, SessionIndex: 1, Hits: &hits,
		MissingBranchesJSON: "[]", PartialsJSON: "[]",
		LabelsJSON: `["test-case","test-case 2"]`,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	want := `[3,null,[[1,3]],null,null,[[1,3,null,["test-case","test-case 2"]]]]`
	if got := oj.JSON(line.record()); got != want {
		t.Errorf("record = %s, want %s", got, want)
	}
}

func TestChunkLineRecordMethodComplexity(t *testing.T) {
	hits, covered, total := int64(0), int64(2), int64(4)
	line := newChunkLine(store.ChunkLineRow{LineNo: 5, CoverageType: model.CoverageTypeMethod})
	err := line.add(store.ChunkLineRow{
		LineNo: 5, CoverageType: model.CoverageTypeMethod, SessionIndex: 0, Hits: &hits,
		HitComplexity: &covered, TotalComplexity: &total,
		MissingBranchesJSON: "[]", PartialsJSON: "[]", LabelsJSON: "[]",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	want := `[0,"m",[[0,0,null,null,[2,4]]],null,[2,4]]`
	if got := oj.JSON(line.record()); got != want {
		t.Errorf("record = %s, want %s", got, want)
	}
}

func TestChunkLineRecordPartials(t *testing.T) {
	hits := int64(3)
	line := newChunkLine(store.ChunkLineRow{LineNo: 8, CoverageType: model.CoverageTypeLine})
	err := line.add(store.ChunkLineRow{
		LineNo: 8, CoverageType: model.CoverageTypeLine, SessionIndex: 1, Hits: &hits,
		MissingBranchesJSON: "[]", PartialsJSON: `[[3,null,3]]`, LabelsJSON: "[]",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	want := `[3,null,[[1,3,null,[[3,null,3]]]]]`
	if got := oj.JSON(line.record()); got != want {
		t.Errorf("record = %s, want %s", got, want)
	}
}

package pyreport

import (
	"strings"
	"testing"

	"github.com/anthropics/pyreport/internal/model"
)

// testBuilder collects inserted rows in memory, assigning local IDs the way
// the real store builder does: sequential per upload, starting at 1.
type testBuilder struct {
	files    []model.SourceFile
	contexts []model.Context
	uploads  []model.RawUpload
	samples  []model.CoverageSample
	branches []model.BranchesData
	methods  []model.MethodData
	spans    []model.SpanData
	assocs   []model.ContextAssoc

	counters map[int64]*builderCounters
}

type builderCounters struct {
	sample, branch, method, span int64
}

func newTestBuilder() *testBuilder {
	return &testBuilder{counters: make(map[int64]*builderCounters)}
}

func (b *testBuilder) locals(uploadID int64) *builderCounters {
	c, ok := b.counters[uploadID]
	if !ok {
		c = &builderCounters{}
		b.counters[uploadID] = c
	}
	return c
}

func (b *testBuilder) InsertFile(path string) (model.SourceFile, error) {
	f := model.SourceFile{ID: model.ContentID(path), Path: path}
	b.files = append(b.files, f)
	return f, nil
}

func (b *testBuilder) InsertContext(name string) (model.Context, error) {
	for _, c := range b.contexts {
		if c.Name == name {
			return c, nil
		}
	}
	c := model.Context{ID: model.ContentID(name), Name: name}
	b.contexts = append(b.contexts, c)
	return c, nil
}

func (b *testBuilder) InsertRawUpload(upload model.RawUpload) (model.RawUpload, error) {
	upload.ID = int64(len(b.uploads) + 1)
	b.uploads = append(b.uploads, upload)
	return upload, nil
}

func (b *testBuilder) MultiInsertCoverageSample(samples []*model.CoverageSample) error {
	for _, s := range samples {
		c := b.locals(s.RawUploadID)
		c.sample++
		s.LocalSampleID = c.sample
		b.samples = append(b.samples, *s)
	}
	return nil
}

func (b *testBuilder) MultiInsertBranchesData(branches []*model.BranchesData) error {
	for _, br := range branches {
		c := b.locals(br.RawUploadID)
		c.branch++
		br.LocalBranchID = c.branch
		b.branches = append(b.branches, *br)
	}
	return nil
}

func (b *testBuilder) MultiInsertMethodData(methods []*model.MethodData) error {
	for _, m := range methods {
		c := b.locals(m.RawUploadID)
		c.method++
		m.LocalMethodID = c.method
		b.methods = append(b.methods, *m)
	}
	return nil
}

func (b *testBuilder) MultiInsertSpanData(spans []*model.SpanData) error {
	for _, s := range spans {
		c := b.locals(s.RawUploadID)
		c.span++
		s.LocalSpanID = c.span
		b.spans = append(b.spans, *s)
	}
	return nil
}

func (b *testBuilder) MultiAssociateContext(assocs []*model.ContextAssoc) error {
	for _, a := range assocs {
		b.assocs = append(b.assocs, *a)
	}
	return nil
}

const minimalReportJSON = `{
	"files": {"src/report.rs": [0, [0, 4, 3, 1, 0, "75", 1, 0, 0, 0, 0, 0, 0], null, null]},
	"sessions": {"0": {"j": "codecov-rs CI", "t": null}}
}`

func parseReport(t *testing.T, reportJSON, chunks string) *testBuilder {
	t.Helper()
	builder := newTestBuilder()
	if err := Parse(strings.NewReader(reportJSON), strings.NewReader(chunks), builder); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return builder
}

func TestParseReportJSONFilesAndSessions(t *testing.T) {
	builder := newTestBuilder()
	reportJSON := `{
		"files": {
			"src/report.rs": [0, [0, 4, 3, 1, 0, "75", 1, 0, 0, 0, 0, 0, 0], null, null],
			"src/models.rs": [1, [0, 1, 1, 0, 0, "100", 0, 0, 0, 0, 0, 0, 0], null, null]
		},
		"sessions": {
			"0": {
				"t": null,
				"d": 1704827412,
				"a": "v4/raw/2024-01-09/uploaded.txt",
				"f": ["unit"],
				"c": "circleci",
				"n": "build 42",
				"N": "upload name",
				"j": "codecov-rs CI",
				"u": "https://ci.example.com/run/1",
				"p": "processed",
				"e": null,
				"st": "uploaded",
				"se": {"carriedforward": false}
			}
		}
	}`

	files, sessions, err := ParseReportJSON(strings.NewReader(reportJSON), builder)
	if err != nil {
		t.Fatalf("ParseReportJSON: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].Path != "src/report.rs" || files[1].Path != "src/models.rs" {
		t.Errorf("files = %+v", files)
	}
	if files[0].ID != model.ContentID("src/report.rs") {
		t.Errorf("file ID = %d, want content hash", files[0].ID)
	}

	upload, ok := sessions[0]
	if !ok {
		t.Fatalf("session 0 missing: %v", sessions)
	}
	if upload.SessionIndex == nil || *upload.SessionIndex != 0 {
		t.Errorf("session index = %v, want 0", upload.SessionIndex)
	}
	if upload.Timestamp == nil || *upload.Timestamp != 1704827412 {
		t.Errorf("timestamp = %v", upload.Timestamp)
	}
	if upload.JobName == nil || *upload.JobName != "codecov-rs CI" {
		t.Errorf("job name = %v", upload.JobName)
	}
	if len(upload.Flags) != 1 || upload.Flags[0] != "unit" {
		t.Errorf("flags = %v", upload.Flags)
	}
	if upload.SessionExtras["carriedforward"] != false {
		t.Errorf("session extras = %v", upload.SessionExtras)
	}
	if upload.Env != nil {
		t.Errorf("env = %v, want nil", upload.Env)
	}
}

func TestParseReportJSONKeyOrder(t *testing.T) {
	bad := []string{
		// sessions before files
		`{"sessions": {}, "files": {}}`,
		// missing sessions
		`{"files": {}}`,
		// not an object
		`[1, 2]`,
		// trailing content
		`{"files": {}, "sessions": {}} extra`,
	}
	for _, input := range bad {
		builder := newTestBuilder()
		if _, _, err := ParseReportJSON(strings.NewReader(input), builder); err == nil {
			t.Errorf("ParseReportJSON(%q) succeeded, want error", input)
		}
	}
}

func TestParseChunksSingleLine(t *testing.T) {
	chunks := `{"labels_index": {"1": "test-case"}}
<<<<< end_of_header >>>>>
{"present_sessions": [0]}
[1, null, [[0, 1]], null, null, [[0, 1, null, [1]]]]`

	builder := parseReport(t, minimalReportJSON, chunks)

	if len(builder.samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(builder.samples))
	}
	sample := builder.samples[0]
	if sample.LineNo != 1 || sample.CoverageType != model.CoverageTypeLine {
		t.Errorf("sample = %+v", sample)
	}
	if sample.Hits == nil || *sample.Hits != 1 {
		t.Errorf("hits = %v, want 1", sample.Hits)
	}
	if sample.SourceFileID != model.ContentID("src/report.rs") {
		t.Errorf("source file ID = %d", sample.SourceFileID)
	}

	// The label resolves through the header index to the "test-case" context.
	if len(builder.contexts) != 1 || builder.contexts[0].Name != "test-case" {
		t.Fatalf("contexts = %+v", builder.contexts)
	}
	if len(builder.assocs) != 1 {
		t.Fatalf("assocs = %+v", builder.assocs)
	}
	if builder.assocs[0].ContextID != model.ContentID("test-case") {
		t.Errorf("assoc context = %d", builder.assocs[0].ContextID)
	}
	if builder.assocs[0].LocalSampleID == nil || *builder.assocs[0].LocalSampleID != 1 {
		t.Errorf("assoc sample = %v", builder.assocs[0].LocalSampleID)
	}
}

func TestParseChunksBranchSample(t *testing.T) {
	chunks := `{"present_sessions": [0]}
["2/4", "b", [[0, "2/4", ["0:jump", "1:jump"]]]]`

	builder := parseReport(t, minimalReportJSON, chunks)

	if len(builder.samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(builder.samples))
	}
	sample := builder.samples[0]
	if sample.CoverageType != model.CoverageTypeBranch {
		t.Errorf("coverage type = %q", sample.CoverageType)
	}
	if sample.HitBranches == nil || *sample.HitBranches != 2 || sample.TotalBranches == nil || *sample.TotalBranches != 4 {
		t.Errorf("branch fraction = %v/%v", sample.HitBranches, sample.TotalBranches)
	}

	if len(builder.branches) != 2 {
		t.Fatalf("branches = %+v", builder.branches)
	}
	for i, want := range []string{"0:jump", "1:jump"} {
		br := builder.branches[i]
		if br.Branch != want || br.BranchFormat != model.BranchFormatCondition || br.Hits != 0 {
			t.Errorf("branch %d = %+v", i, br)
		}
		if br.LocalSampleID != sample.LocalSampleID {
			t.Errorf("branch %d sample ID = %d, want %d", i, br.LocalSampleID, sample.LocalSampleID)
		}
	}
}

func TestParseChunksBranchLineWithHitCountSession(t *testing.T) {
	// The undeclared line becomes a branch line; the session's bare hit
	// count follows it, so the sample carries a fraction, never hits.
	chunks := `{"present_sessions": [0]}
["2/4", null, [[0, 2]]]`

	builder := parseReport(t, minimalReportJSON, chunks)

	if len(builder.samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(builder.samples))
	}
	sample := builder.samples[0]
	if sample.CoverageType != model.CoverageTypeBranch {
		t.Errorf("coverage type = %q", sample.CoverageType)
	}
	if sample.Hits != nil {
		t.Errorf("hits = %d, want nil on a branch sample", *sample.Hits)
	}
	if sample.HitBranches == nil || *sample.HitBranches != 2 || sample.TotalBranches == nil || *sample.TotalBranches != 2 {
		t.Errorf("branch fraction = %v/%v, want 2/2", sample.HitBranches, sample.TotalBranches)
	}
}

func TestParseChunksFullyCoveredBranch(t *testing.T) {
	chunks := `{"present_sessions": [0]}
["2/2", "b", [[0, "2/2"]]]`

	builder := parseReport(t, minimalReportJSON, chunks)

	if len(builder.samples) != 1 || len(builder.branches) != 0 {
		t.Fatalf("samples = %d branches = %d, want 1 and 0", len(builder.samples), len(builder.branches))
	}
}

func TestParseChunksMethodAndPartials(t *testing.T) {
	chunks := `{"present_sessions": [0]}
[2, "m", [[0, 2, null, null, [2, 4]]], null, [2, 4]]
[3, null, [[0, 3, null, [[3, null, 3]]]]]`

	builder := parseReport(t, minimalReportJSON, chunks)

	if len(builder.methods) != 1 {
		t.Fatalf("methods = %+v", builder.methods)
	}
	method := builder.methods[0]
	if method.HitComplexityPaths == nil || *method.HitComplexityPaths != 2 {
		t.Errorf("hit complexity = %v", method.HitComplexityPaths)
	}
	if method.TotalComplexity == nil || *method.TotalComplexity != 4 {
		t.Errorf("total complexity = %v", method.TotalComplexity)
	}
	if method.LineNo == nil || *method.LineNo != 1 {
		t.Errorf("method line = %v", method.LineNo)
	}

	if len(builder.spans) != 1 {
		t.Fatalf("spans = %+v", builder.spans)
	}
	span := builder.spans[0]
	if span.StartLine == nil || *span.StartLine != 2 || span.EndLine == nil || *span.EndLine != 2 {
		t.Errorf("span lines = %v..%v", span.StartLine, span.EndLine)
	}
	if span.StartCol == nil || *span.StartCol != 3 || span.EndCol != nil {
		t.Errorf("span cols = %v..%v", span.StartCol, span.EndCol)
	}
	if span.Hits != 3 {
		t.Errorf("span hits = %d", span.Hits)
	}
}

func TestParseChunksLineNumbering(t *testing.T) {
	// Line data on physical lines 1 and 7; the five empty lines in between
	// advance the line counter without producing samples.
	chunks := `{"present_sessions": [0]}
[1, null, [[0, 1]]]


` + "\t" + `


[7, null, [[0, 7]]]`
	// The third gap line above is whitespace-only on purpose; only fully
	// empty lines are skipped, so it must fail to parse.
	builder := newTestBuilder()
	err := Parse(strings.NewReader(minimalReportJSON), strings.NewReader(chunks), builder)
	if err == nil {
		t.Fatal("whitespace-only line parsed, want error")
	}

	chunks = strings.ReplaceAll(chunks, "\n\t\n", "\n\n")
	builder = parseReport(t, minimalReportJSON, chunks)
	if len(builder.samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(builder.samples))
	}
	if builder.samples[0].LineNo != 1 || builder.samples[1].LineNo != 7 {
		t.Errorf("line numbers = %d, %d, want 1, 7", builder.samples[0].LineNo, builder.samples[1].LineNo)
	}
}

func TestParseChunksMultipleChunks(t *testing.T) {
	reportJSON := `{
		"files": {
			"a.rs": [0, [0, 1, 1, 0, 0, "100", 0, 0, 0, 0, 0, 0, 0], null, null],
			"b.rs": [1, [0, 1, 1, 0, 0, "100", 0, 0, 0, 0, 0, 0, 0], null, null]
		},
		"sessions": {"0": {"t": null}}
	}`
	chunks := `{}
<<<<< end_of_header >>>>>
{"present_sessions": [0]}
[1, null, [[0, 1]]]
<<<<< end_of_chunk >>>>>
{"present_sessions": [0]}
[2, null, [[0, 2]]]`

	builder := parseReport(t, reportJSON, chunks)

	if len(builder.samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(builder.samples))
	}
	if builder.samples[0].SourceFileID != model.ContentID("a.rs") {
		t.Errorf("first sample file = %d", builder.samples[0].SourceFileID)
	}
	if builder.samples[1].SourceFileID != model.ContentID("b.rs") {
		t.Errorf("second sample file = %d", builder.samples[1].SourceFileID)
	}
}

func TestParseChunksNullChunk(t *testing.T) {
	reportJSON := `{
		"files": {"b.rs": [1, [0, 1, 1, 0, 0, "100", 0, 0, 0, 0, 0, 0, 0], null, null]},
		"sessions": {"0": {"t": null}}
	}`
	chunks := `null
<<<<< end_of_chunk >>>>>
{"present_sessions": [0]}
[1, null, [[0, 1]]]`

	builder := parseReport(t, reportJSON, chunks)

	if len(builder.samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(builder.samples))
	}
	if builder.samples[0].SourceFileID != model.ContentID("b.rs") {
		t.Errorf("sample file = %d, want chunk 1's file", builder.samples[0].SourceFileID)
	}
}

func TestParseChunksUnknownSession(t *testing.T) {
	chunks := `{"present_sessions": [9]}
[1, null, [[9, 1]]]`

	builder := newTestBuilder()
	err := Parse(strings.NewReader(minimalReportJSON), strings.NewReader(chunks), builder)
	if err == nil {
		t.Fatal("session 9 resolved, want error")
	}
}

func TestParseChunksUnknownChunkIndex(t *testing.T) {
	chunks := `{"present_sessions": [0]}
[1, null, [[0, 1]]]
<<<<< end_of_chunk >>>>>
{"present_sessions": [0]}
[1, null, [[0, 1]]]`

	builder := newTestBuilder()
	err := Parse(strings.NewReader(minimalReportJSON), strings.NewReader(chunks), builder)
	if err == nil {
		t.Fatal("chunk 1 resolved without a file, want error")
	}
}

func TestParseChunksLabelOutsideIndex(t *testing.T) {
	// A label token with no index entry becomes a context named by the
	// token itself.
	chunks := `{"present_sessions": [0]}
[1, null, [[0, 1]], null, null, [[0, 1, null, ["some-test"]]]]`

	builder := parseReport(t, minimalReportJSON, chunks)
	if len(builder.contexts) != 1 || builder.contexts[0].Name != "some-test" {
		t.Fatalf("contexts = %+v", builder.contexts)
	}
}

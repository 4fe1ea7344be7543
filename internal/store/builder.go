package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ohler55/ojg/oj"

	"github.com/anthropics/pyreport/internal/model"
)

// maxSQLVariables is a conservative bound on SQLite's per-statement variable
// limit, used to size multi-row inserts.
const maxSQLVariables = 999

// Builder assembles a report database inside a single transaction. Nothing is
// visible to readers until Build commits. A Builder is not safe for
// concurrent use.
type Builder struct {
	db    *sql.DB
	path  string
	tx    *sql.Tx
	stmts map[string]*sql.Stmt

	// Local IDs count from 1 within each upload. Values supplied by the
	// caller on insert are ignored and overwritten.
	counters map[int64]*localCounters
}

type localCounters struct {
	sample, branch, method, span int64
}

// NewBuilder opens (or creates) the report database at path and begins the
// build transaction.
func NewBuilder(path string) (*Builder, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("begin build transaction: %w", err)
	}
	return &Builder{
		db:       db,
		path:     path,
		tx:       tx,
		stmts:    make(map[string]*sql.Stmt),
		counters: make(map[int64]*localCounters),
	}, nil
}

// Build commits all inserted rows and returns a Store reading the same
// database. The Builder must not be used afterwards.
func (b *Builder) Build() (*Store, error) {
	if err := b.tx.Commit(); err != nil {
		b.db.Close()
		return nil, fmt.Errorf("commit report: %w", err)
	}
	b.tx = nil
	return &Store{db: b.db, path: b.path}, nil
}

// Close abandons the build, rolling back anything inserted so far. It is a
// no-op after Build.
func (b *Builder) Close() error {
	if b.tx != nil {
		b.tx.Rollback()
		b.tx = nil
		return b.db.Close()
	}
	return nil
}

func (b *Builder) stmt(query string) (*sql.Stmt, error) {
	if stmt, ok := b.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := b.tx.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare %q: %w", query, err)
	}
	b.stmts[query] = stmt
	return stmt, nil
}

func (b *Builder) locals(rawUploadID int64) *localCounters {
	c, ok := b.counters[rawUploadID]
	if !ok {
		c = &localCounters{}
		b.counters[rawUploadID] = c
	}
	return c
}

// InsertFile inserts a source file, keyed by the content hash of its path.
// Inserting the same path twice is a no-op.
func (b *Builder) InsertFile(path string) (model.SourceFile, error) {
	file := model.SourceFile{ID: model.ContentID(path), Path: path}
	stmt, err := b.stmt("INSERT OR IGNORE INTO source_file (id, path) VALUES (?, ?)")
	if err != nil {
		return model.SourceFile{}, err
	}
	if _, err := stmt.Exec(file.ID, file.Path); err != nil {
		return model.SourceFile{}, fmt.Errorf("insert source file %q: %w", path, err)
	}
	return file, nil
}

// InsertContext inserts a context, keyed by the content hash of its name.
// Inserting the same name twice is a no-op.
func (b *Builder) InsertContext(name string) (model.Context, error) {
	context := model.Context{ID: model.ContentID(name), Name: name}
	stmt, err := b.stmt("INSERT OR IGNORE INTO context (id, name) VALUES (?, ?)")
	if err != nil {
		return model.Context{}, err
	}
	if _, err := stmt.Exec(context.ID, context.Name); err != nil {
		return model.Context{}, fmt.Errorf("insert context %q: %w", name, err)
	}
	return context, nil
}

// InsertRawUpload inserts an upload record. The upload's ID is assigned
// randomly; any caller-supplied value is ignored.
func (b *Builder) InsertRawUpload(upload model.RawUpload) (model.RawUpload, error) {
	upload.ID = randomID()
	flags := jsonColumn(upload.Flags != nil, upload.Flags)
	extras := jsonColumn(upload.SessionExtras != nil, upload.SessionExtras)

	stmt, err := b.stmt(`INSERT INTO raw_upload
		(id, session_index, timestamp, raw_upload_url, flags, provider, build, name, job_name, ci_run_url, state, env, session_type, session_extras)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return model.RawUpload{}, err
	}
	_, err = stmt.Exec(upload.ID, upload.SessionIndex, upload.Timestamp, upload.RawUploadURL, flags,
		upload.Provider, upload.Build, upload.Name, upload.JobName,
		upload.CIRunURL, upload.State, upload.Env, upload.SessionType, extras)
	if err != nil {
		return model.RawUpload{}, fmt.Errorf("insert raw upload: %w", err)
	}
	return upload, nil
}

// InsertCoverageSample inserts one coverage sample, assigning its local
// sample ID.
func (b *Builder) InsertCoverageSample(sample model.CoverageSample) (model.CoverageSample, error) {
	if err := b.MultiInsertCoverageSample([]*model.CoverageSample{&sample}); err != nil {
		return model.CoverageSample{}, err
	}
	return sample, nil
}

// MultiInsertCoverageSample bulk-inserts coverage samples, assigning each a
// local sample ID sequential within its upload. The passed-in rows are
// updated in place with the assigned IDs.
func (b *Builder) MultiInsertCoverageSample(samples []*model.CoverageSample) error {
	fields := []string{"raw_upload_id", "local_sample_id", "source_file_id", "line_no", "coverage_type", "hits", "hit_branches", "total_branches"}
	rows := make([][]any, 0, len(samples))
	for _, s := range samples {
		c := b.locals(s.RawUploadID)
		c.sample++
		s.LocalSampleID = c.sample
		rows = append(rows, []any{s.RawUploadID, s.LocalSampleID, s.SourceFileID, s.LineNo, string(s.CoverageType), s.Hits, s.HitBranches, s.TotalBranches})
	}
	return b.multiInsert("coverage_sample", fields, rows)
}

// InsertBranchesData inserts one branch row, assigning its local branch ID.
func (b *Builder) InsertBranchesData(branch model.BranchesData) (model.BranchesData, error) {
	if err := b.MultiInsertBranchesData([]*model.BranchesData{&branch}); err != nil {
		return model.BranchesData{}, err
	}
	return branch, nil
}

// MultiInsertBranchesData bulk-inserts branch rows, assigning local IDs.
func (b *Builder) MultiInsertBranchesData(branches []*model.BranchesData) error {
	fields := []string{"raw_upload_id", "local_branch_id", "source_file_id", "local_sample_id", "hits", "branch_format", "branch"}
	rows := make([][]any, 0, len(branches))
	for _, br := range branches {
		c := b.locals(br.RawUploadID)
		c.branch++
		br.LocalBranchID = c.branch
		rows = append(rows, []any{br.RawUploadID, br.LocalBranchID, br.SourceFileID, br.LocalSampleID, br.Hits, string(br.BranchFormat), br.Branch})
	}
	return b.multiInsert("branches_data", fields, rows)
}

// InsertMethodData inserts one method row, assigning its local method ID.
func (b *Builder) InsertMethodData(method model.MethodData) (model.MethodData, error) {
	if err := b.MultiInsertMethodData([]*model.MethodData{&method}); err != nil {
		return model.MethodData{}, err
	}
	return method, nil
}

// MultiInsertMethodData bulk-inserts method rows, assigning local IDs.
func (b *Builder) MultiInsertMethodData(methods []*model.MethodData) error {
	fields := []string{"raw_upload_id", "local_method_id", "source_file_id", "local_sample_id", "line_no", "hit_branches", "total_branches", "hit_complexity_paths", "total_complexity"}
	rows := make([][]any, 0, len(methods))
	for _, m := range methods {
		c := b.locals(m.RawUploadID)
		c.method++
		m.LocalMethodID = c.method
		rows = append(rows, []any{m.RawUploadID, m.LocalMethodID, m.SourceFileID, m.LocalSampleID, m.LineNo, m.HitBranches, m.TotalBranches, m.HitComplexityPaths, m.TotalComplexity})
	}
	return b.multiInsert("method_data", fields, rows)
}

// InsertSpanData inserts one span row, assigning its local span ID.
func (b *Builder) InsertSpanData(span model.SpanData) (model.SpanData, error) {
	if err := b.MultiInsertSpanData([]*model.SpanData{&span}); err != nil {
		return model.SpanData{}, err
	}
	return span, nil
}

// MultiInsertSpanData bulk-inserts span rows, assigning local IDs.
func (b *Builder) MultiInsertSpanData(spans []*model.SpanData) error {
	fields := []string{"raw_upload_id", "local_span_id", "source_file_id", "local_sample_id", "hits", "start_line", "start_col", "end_line", "end_col"}
	rows := make([][]any, 0, len(spans))
	for _, sp := range spans {
		c := b.locals(sp.RawUploadID)
		c.span++
		sp.LocalSpanID = c.span
		rows = append(rows, []any{sp.RawUploadID, sp.LocalSpanID, sp.SourceFileID, sp.LocalSampleID, sp.Hits, sp.StartLine, sp.StartCol, sp.EndLine, sp.EndCol})
	}
	return b.multiInsert("span_data", fields, rows)
}

// AssociateContext links a context to a measurement row.
func (b *Builder) AssociateContext(assoc model.ContextAssoc) (model.ContextAssoc, error) {
	if err := b.MultiAssociateContext([]*model.ContextAssoc{&assoc}); err != nil {
		return model.ContextAssoc{}, err
	}
	return assoc, nil
}

// MultiAssociateContext bulk-inserts context associations.
func (b *Builder) MultiAssociateContext(assocs []*model.ContextAssoc) error {
	fields := []string{"context_id", "raw_upload_id", "local_sample_id", "local_branch_id", "local_method_id", "local_span_id"}
	rows := make([][]any, 0, len(assocs))
	for _, a := range assocs {
		rows = append(rows, []any{a.ContextID, a.RawUploadID, a.LocalSampleID, a.LocalBranchID, a.LocalMethodID, a.LocalSpanID})
	}
	return b.multiInsert("context_assoc", fields, rows)
}

// multiInsert writes rows in chunks sized to stay under SQLite's statement
// variable limit.
func (b *Builder) multiInsert(table string, fields []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	chunkSize := maxSQLVariables / len(fields)
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(fields)-1), ", ") + ", ?)"

	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		chunk := rows[start:end]

		var q strings.Builder
		fmt.Fprintf(&q, "INSERT INTO %s (%s) VALUES ", table, strings.Join(fields, ", "))
		for i := range chunk {
			if i > 0 {
				q.WriteString(", ")
			}
			q.WriteString(placeholder)
		}

		args := make([]any, 0, len(chunk)*len(fields))
		for _, row := range chunk {
			args = append(args, row...)
		}

		stmt, err := b.stmt(q.String())
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

// randomID derives a random int64 from a v4 UUID. Upload IDs must be unique
// across independently-built reports for merge to be a plain concatenation.
func randomID() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]))
}

// jsonColumn serializes a value to JSON text for storage, or NULL when the
// value is absent.
func jsonColumn(present bool, v any) any {
	if !present {
		return nil
	}
	return oj.JSON(v)
}

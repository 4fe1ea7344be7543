package store

import (
	"database/sql"
	"fmt"

	"github.com/ohler55/ojg/oj"

	"github.com/anthropics/pyreport/internal/model"
)

// ListFiles returns every source file in the report.
func (s *Store) ListFiles() ([]model.SourceFile, error) {
	rows, err := s.db.Query("SELECT id, path FROM source_file ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list source files: %w", err)
	}
	defer rows.Close()

	var files []model.SourceFile
	for rows.Next() {
		var f model.SourceFile
		if err := rows.Scan(&f.ID, &f.Path); err != nil {
			return nil, fmt.Errorf("scan source file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListContexts returns every context in the report.
func (s *Store) ListContexts() ([]model.Context, error) {
	rows, err := s.db.Query("SELECT id, name FROM context ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var contexts []model.Context
	for rows.Next() {
		var c model.Context
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		contexts = append(contexts, c)
	}
	return contexts, rows.Err()
}

// ListRawUploads returns every upload in the report.
func (s *Store) ListRawUploads() ([]model.RawUpload, error) {
	rows, err := s.db.Query(`SELECT id, session_index, timestamp, raw_upload_url, flags, provider, build,
		name, job_name, ci_run_url, state, env, session_type, session_extras
		FROM raw_upload ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list raw uploads: %w", err)
	}
	defer rows.Close()

	var uploads []model.RawUpload
	for rows.Next() {
		u, err := scanRawUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

func scanRawUpload(rows *sql.Rows) (model.RawUpload, error) {
	var u model.RawUpload
	var flags, extras sql.NullString
	err := rows.Scan(&u.ID, &u.SessionIndex, &u.Timestamp, &u.RawUploadURL, &flags,
		&u.Provider, &u.Build, &u.Name, &u.JobName, &u.CIRunURL, &u.State, &u.Env,
		&u.SessionType, &extras)
	if err != nil {
		return model.RawUpload{}, fmt.Errorf("scan raw upload: %w", err)
	}
	if err := decodeUploadJSON(&u, flags, extras); err != nil {
		return model.RawUpload{}, err
	}
	return u, nil
}

// decodeUploadJSON fills the JSON-encoded raw_upload columns back into the
// model.
func decodeUploadJSON(u *model.RawUpload, flags, extras sql.NullString) error {
	if flags.Valid {
		parsed, err := oj.ParseString(flags.String)
		if err != nil {
			return fmt.Errorf("parse upload flags: %w", err)
		}
		list, _ := parsed.([]any)
		u.Flags = make([]string, 0, len(list))
		for _, f := range list {
			if s, ok := f.(string); ok {
				u.Flags = append(u.Flags, s)
			}
		}
	}
	if extras.Valid {
		parsed, err := oj.ParseString(extras.String)
		if err != nil {
			return fmt.Errorf("parse session extras: %w", err)
		}
		if m, ok := parsed.(map[string]any); ok {
			u.SessionExtras = m
		}
	}
	return nil
}

// ListCoverageSamples returns every sample, ordered by local sample ID then
// source file.
func (s *Store) ListCoverageSamples() ([]model.CoverageSample, error) {
	rows, err := s.db.Query(`SELECT raw_upload_id, local_sample_id, source_file_id, line_no,
		coverage_type, hits, hit_branches, total_branches
		FROM coverage_sample ORDER BY 2, 3`)
	if err != nil {
		return nil, fmt.Errorf("list coverage samples: %w", err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

// SamplesForFile returns every sample recorded against one source file.
func (s *Store) SamplesForFile(file model.SourceFile) ([]model.CoverageSample, error) {
	rows, err := s.db.Query(`SELECT raw_upload_id, local_sample_id, source_file_id, line_no,
		coverage_type, hits, hit_branches, total_branches
		FROM coverage_sample WHERE source_file_id = ? ORDER BY 2`, file.ID)
	if err != nil {
		return nil, fmt.Errorf("list samples for file: %w", err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

func scanSamples(rows *sql.Rows) ([]model.CoverageSample, error) {
	var samples []model.CoverageSample
	for rows.Next() {
		var cs model.CoverageSample
		var coverageType string
		err := rows.Scan(&cs.RawUploadID, &cs.LocalSampleID, &cs.SourceFileID,
			&cs.LineNo, &coverageType, &cs.Hits, &cs.HitBranches, &cs.TotalBranches)
		if err != nil {
			return nil, fmt.Errorf("scan coverage sample: %w", err)
		}
		cs.CoverageType = model.CoverageType(coverageType)
		samples = append(samples, cs)
	}
	return samples, rows.Err()
}

// BranchesForSample returns the branch rows attached to a sample.
func (s *Store) BranchesForSample(sample model.CoverageSample) ([]model.BranchesData, error) {
	rows, err := s.db.Query(`SELECT raw_upload_id, local_branch_id, source_file_id,
		local_sample_id, hits, branch_format, branch
		FROM branches_data WHERE raw_upload_id = ? AND local_sample_id = ? ORDER BY 2`,
		sample.RawUploadID, sample.LocalSampleID)
	if err != nil {
		return nil, fmt.Errorf("list branches for sample: %w", err)
	}
	defer rows.Close()

	var branches []model.BranchesData
	for rows.Next() {
		var b model.BranchesData
		var format string
		err := rows.Scan(&b.RawUploadID, &b.LocalBranchID, &b.SourceFileID,
			&b.LocalSampleID, &b.Hits, &format, &b.Branch)
		if err != nil {
			return nil, fmt.Errorf("scan branches data: %w", err)
		}
		b.BranchFormat = model.BranchFormat(format)
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// MethodForSample returns the method row attached to a sample, or nil.
func (s *Store) MethodForSample(sample model.CoverageSample) (*model.MethodData, error) {
	rows, err := s.db.Query(`SELECT raw_upload_id, local_method_id, source_file_id,
		local_sample_id, line_no, hit_branches, total_branches, hit_complexity_paths, total_complexity
		FROM method_data WHERE raw_upload_id = ? AND local_sample_id = ?`,
		sample.RawUploadID, sample.LocalSampleID)
	if err != nil {
		return nil, fmt.Errorf("list method data for sample: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var m model.MethodData
	err = rows.Scan(&m.RawUploadID, &m.LocalMethodID, &m.SourceFileID, &m.LocalSampleID,
		&m.LineNo, &m.HitBranches, &m.TotalBranches, &m.HitComplexityPaths, &m.TotalComplexity)
	if err != nil {
		return nil, fmt.Errorf("scan method data: %w", err)
	}
	return &m, nil
}

// SpansForSample returns the span rows attached to a sample.
func (s *Store) SpansForSample(sample model.CoverageSample) ([]model.SpanData, error) {
	rows, err := s.db.Query(`SELECT raw_upload_id, local_span_id, source_file_id,
		local_sample_id, hits, start_line, start_col, end_line, end_col
		FROM span_data WHERE raw_upload_id = ? AND local_sample_id = ? ORDER BY 2`,
		sample.RawUploadID, sample.LocalSampleID)
	if err != nil {
		return nil, fmt.Errorf("list spans for sample: %w", err)
	}
	defer rows.Close()

	var spans []model.SpanData
	for rows.Next() {
		var sp model.SpanData
		err := rows.Scan(&sp.RawUploadID, &sp.LocalSpanID, &sp.SourceFileID,
			&sp.LocalSampleID, &sp.Hits, &sp.StartLine, &sp.StartCol, &sp.EndLine, &sp.EndCol)
		if err != nil {
			return nil, fmt.Errorf("scan span data: %w", err)
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// ContextsForSample returns the contexts associated with a sample.
func (s *Store) ContextsForSample(sample model.CoverageSample) ([]model.Context, error) {
	rows, err := s.db.Query(`SELECT context.id, context.name FROM context
		INNER JOIN context_assoc ON context.id = context_assoc.context_id
		WHERE context_assoc.raw_upload_id = ? AND context_assoc.local_sample_id = ?
		ORDER BY context.name`,
		sample.RawUploadID, sample.LocalSampleID)
	if err != nil {
		return nil, fmt.Errorf("list contexts for sample: %w", err)
	}
	defer rows.Close()

	var contexts []model.Context
	for rows.Next() {
		var c model.Context
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		contexts = append(contexts, c)
	}
	return contexts, rows.Err()
}

// Merge folds the report database at otherPath into this one. Content-addressed
// tables union with INSERT OR IGNORE; measurement tables concatenate. The
// caller must guarantee the two reports were built with distinct upload IDs
// (they are random at creation, so this holds unless a database was copied).
func (s *Store) Merge(otherPath string) error {
	if _, err := s.db.Exec("ATTACH DATABASE ? AS other", otherPath); err != nil {
		return fmt.Errorf("attach %q: %w", otherPath, err)
	}
	defer s.db.Exec("DETACH DATABASE other")

	stmts := []string{
		"INSERT OR IGNORE INTO source_file SELECT * FROM other.source_file",
		"INSERT OR IGNORE INTO raw_upload SELECT * FROM other.raw_upload",
		"INSERT OR IGNORE INTO context SELECT * FROM other.context",
		"INSERT INTO coverage_sample SELECT * FROM other.coverage_sample",
		"INSERT INTO branches_data SELECT * FROM other.branches_data",
		"INSERT INTO method_data SELECT * FROM other.method_data",
		"INSERT INTO span_data SELECT * FROM other.span_data",
		"INSERT INTO context_assoc SELECT * FROM other.context_assoc",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("merge %q: %w", stmt, err)
		}
	}
	return nil
}

// Totals aggregates the whole report.
func (s *Store) Totals() (model.ReportTotals, error) {
	const query = `SELECT
		(SELECT COUNT(*) FROM source_file),
		(SELECT COUNT(*) FROM raw_upload),
		(SELECT COUNT(*) FROM context),
		COALESCE(SUM(coverage_type = 'l' AND hits > 0), 0),
		COALESCE(SUM(coverage_type = 'l'), 0),
		COALESCE(SUM(CASE WHEN coverage_type = 'b' THEN hit_branches END), 0),
		COALESCE(SUM(CASE WHEN coverage_type = 'b' THEN total_branches END), 0),
		COALESCE(SUM(coverage_type = 'b'), 0),
		COALESCE(SUM(coverage_type = 'm' AND hits > 0), 0),
		COALESCE(SUM(coverage_type = 'm'), 0),
		(SELECT COALESCE(SUM(hit_complexity_paths), 0) FROM method_data),
		(SELECT COALESCE(SUM(total_complexity), 0) FROM method_data)
	FROM coverage_sample`

	var t model.ReportTotals
	err := s.db.QueryRow(query).Scan(
		&t.Files, &t.Uploads, &t.TestCases,
		&t.Coverage.HitLines, &t.Coverage.TotalLines,
		&t.Coverage.HitBranches, &t.Coverage.TotalBranches, &t.Coverage.TotalBranchRoots,
		&t.Coverage.HitMethods, &t.Coverage.TotalMethods,
		&t.Coverage.HitComplexityPaths, &t.Coverage.TotalComplexity,
	)
	if err != nil {
		return model.ReportTotals{}, fmt.Errorf("compute totals: %w", err)
	}
	return t, nil
}

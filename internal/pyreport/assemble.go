package pyreport

import (
	"fmt"
	"strconv"

	"github.com/anthropics/pyreport/internal/model"
)

// assembler turns decoded report lines into relational rows and batches one
// chunk's worth for insertion. Local IDs are assigned by the builder at
// flush, so rows that reference a sample's local ID are held as pending
// until the samples have been inserted.
type assembler struct {
	ctx        *parseContext
	chunkIndex int64

	pending []*lineModels
}

// lineModels is every row derived from one (line, session) pair. The sample
// is inserted first; the dependent rows receive its local ID afterwards.
type lineModels struct {
	sample   model.CoverageSample
	branches []model.BranchesData
	method   *model.MethodData
	spans    []model.SpanData
	labels   []model.Context
}

func newAssembler(ctx *parseContext, chunkIndex int64) *assembler {
	return &assembler{ctx: ctx, chunkIndex: chunkIndex}
}

// addLine derives the rows for every session of one decoded line.
func (a *assembler) addLine(line *ReportLine) error {
	file, ok := a.ctx.files[a.chunkIndex]
	if !ok {
		return fmt.Errorf("no file with chunks index %d", a.chunkIndex)
	}

	for _, session := range line.Sessions {
		upload, ok := a.ctx.sessions[session.SessionID]
		if !ok {
			return fmt.Errorf("no session with index %d", session.SessionID)
		}

		hits, hitBranches, totalBranches := separateCoverage(session.Coverage)
		m := &lineModels{
			sample: model.CoverageSample{
				RawUploadID:   upload.ID,
				SourceFileID:  file.ID,
				LineNo:        line.LineNo,
				CoverageType:  line.Type,
				Hits:          hits,
				HitBranches:   hitBranches,
				TotalBranches: totalBranches,
			},
		}

		for _, mb := range session.MissingBranches {
			format, branch := formatBranch(mb)
			m.branches = append(m.branches, model.BranchesData{
				RawUploadID:  upload.ID,
				SourceFileID: file.ID,
				Hits:         0,
				BranchFormat: format,
				Branch:       branch,
			})
		}

		if session.Complexity != nil {
			covered, total := separateComplexity(session.Complexity)
			lineNo := line.LineNo
			m.method = &model.MethodData{
				RawUploadID:        upload.ID,
				SourceFileID:       file.ID,
				LineNo:             &lineNo,
				HitComplexityPaths: covered,
				TotalComplexity:    total,
			}
		}

		for _, partial := range session.Partials {
			lineNo := line.LineNo
			m.spans = append(m.spans, model.SpanData{
				RawUploadID:  upload.ID,
				SourceFileID: file.ID,
				Hits:         partial.Hits,
				StartLine:    &lineNo,
				StartCol:     partial.StartCol,
				EndLine:      &lineNo,
				EndCol:       partial.EndCol,
			})
		}

		for _, token := range line.Labels[session.SessionID] {
			context, err := a.ctx.resolveLabel(token)
			if err != nil {
				return err
			}
			m.labels = append(m.labels, context)
		}

		a.pending = append(a.pending, m)
	}
	return nil
}

// flush inserts the chunk's accumulated rows: samples first, which assigns
// their local IDs, then everything that references them.
func (a *assembler) flush() error {
	if len(a.pending) == 0 {
		return nil
	}
	defer func() { a.pending = nil }()

	samples := make([]*model.CoverageSample, len(a.pending))
	for i, m := range a.pending {
		samples[i] = &m.sample
	}
	if err := a.ctx.builder.MultiInsertCoverageSample(samples); err != nil {
		return err
	}

	var branches []*model.BranchesData
	var methods []*model.MethodData
	var spans []*model.SpanData
	var assocs []*model.ContextAssoc
	for _, m := range a.pending {
		localSampleID := m.sample.LocalSampleID
		for i := range m.branches {
			m.branches[i].LocalSampleID = localSampleID
			branches = append(branches, &m.branches[i])
		}
		if m.method != nil {
			m.method.LocalSampleID = localSampleID
			methods = append(methods, m.method)
		}
		for i := range m.spans {
			m.spans[i].LocalSampleID = localSampleID
			spans = append(spans, &m.spans[i])
		}
		for _, label := range m.labels {
			sampleID := localSampleID
			assocs = append(assocs, &model.ContextAssoc{
				ContextID:     label.ID,
				RawUploadID:   m.sample.RawUploadID,
				LocalSampleID: &sampleID,
			})
		}
	}

	if err := a.ctx.builder.MultiInsertBranchesData(branches); err != nil {
		return err
	}
	if err := a.ctx.builder.MultiInsertMethodData(methods); err != nil {
		return err
	}
	if err := a.ctx.builder.MultiInsertSpanData(spans); err != nil {
		return err
	}
	return a.ctx.builder.MultiAssociateContext(assocs)
}

// separateCoverage splits a normalized coverage value into the disjoint
// measurement columns of a coverage sample. The boolean partial form, if it
// survives normalization, means one of two branch paths.
func separateCoverage(c Coverage) (hits, hitBranches, totalBranches *int64) {
	switch c.Kind {
	case CoverageHitCount:
		n := int64(c.Hits)
		return &n, nil, nil
	case CoverageBranchesTaken:
		covered, total := int64(c.Covered), int64(c.Total)
		return nil, &covered, &total
	default:
		covered, total := int64(1), int64(2)
		return nil, &covered, &total
	}
}

func separateComplexity(c *Complexity) (covered, total *int64) {
	t := int64(c.Total)
	if c.Covered != nil {
		cov := int64(*c.Covered)
		return &cov, &t
	}
	return nil, &t
}

// formatBranch serializes a missing branch back to its notation's string
// form, tagged so the encoder can regurgitate it without re-parsing.
func formatBranch(mb MissingBranch) (model.BranchFormat, string) {
	switch mb.Kind {
	case MissingBranchCondition:
		if mb.Jump {
			return model.BranchFormatCondition, strconv.FormatUint(uint64(mb.Condition), 10) + ":jump"
		}
		return model.BranchFormatCondition, strconv.FormatUint(uint64(mb.Condition), 10)
	case MissingBranchBlockAndBranch:
		return model.BranchFormatBlockAndBranch,
			fmt.Sprintf("%d:%d", mb.Block, mb.Branch)
	default:
		return model.BranchFormatLine, strconv.FormatUint(uint64(mb.Line), 10)
	}
}

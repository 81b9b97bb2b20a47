// Package importers feeds typed input records through the upsert protocol.
// Each importer is an independent function over a shared upsert.Writer;
// they are meant to run in the order Groups, Users, Subjects, then any of
// Scans, Questionnaires, Genetics, Processings and MetaGen.
package importers

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/ident"
	"github.com/dusk-indust/cohortgraph/internal/logger"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/telemetry"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

// Importer names, used in reports, progress lines and metrics.
const (
	NameGroups         = "groups"
	NameUsers          = "users"
	NameSubjects       = "subjects"
	NameScans          = "scans"
	NameQuestionnaires = "questionnaires"
	NameGenetics       = "genetics"
	NameProcessings    = "processings"
	NameMetaGen        = "metagen"
)

// DefaultBatchSize bounds pending writes in the Genetics and MetaGen
// importers.
const DefaultBatchSize = 10000

// Options is the per-run configuration shared by every importer.
type Options struct {
	// Study is the study name; DataPath its data root.
	Study    string
	DataPath string
	// Center names the acquisition site. Defaults to Study.
	Center string

	Access   upsert.Access
	Security upsert.SecurityMode

	// BatchSize is the pending-write count that triggers a flush.
	BatchSize int
	Progress  Progress
}

func (o Options) withDefaults() Options {
	if o.Center == "" {
		o.Center = o.Study
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Progress == nil {
		o.Progress = noProgress{}
	}
	return o
}

// Report summarizes one importer run.
type Report struct {
	Importer string `json:"importer"`
	Records  int    `json:"records"`
	upsert.Counts
	Warnings int           `json:"warnings"`
	Took     time.Duration `json:"took"`

	// ProgressDropped counts progress lines the operator never saw.
	ProgressDropped int `json:"progressDropped,omitempty"`
}

// session holds what an importer resolves once per run.
type session struct {
	name string
	w    *upsert.Writer
	opts Options
	log  *logger.Logger

	study       string
	center      string
	subjects    map[string]string // codeInStudy -> id
	groups      map[string]string // name -> id
	assessments *upsert.Assessments
	warnings    int
}

func newSession(name string, w *upsert.Writer, opts Options) *session {
	return &session{
		name: name,
		w:    w,
		opts: opts.withDefaults(),
		log:  w.Logger().With("importer", name),
	}
}

func (s *session) fail(f *faults.Fault) error {
	telemetry.Faults.WithLabelValues(string(f.Kind)).Inc()
	s.log.Error("import fault", "kind", string(f.Kind), "error", f.Error())
	return f
}

func (s *session) warn(msg string, kv ...any) {
	s.warnings++
	s.log.Warn(msg, kv...)
}

// run wraps body with tracing, logging, a final commit and a report.
func (s *session) run(ctx context.Context, records int, body func(ctx context.Context, c *counter) error) (*Report, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "import."+s.name)
	defer span.End()

	start := time.Now()
	before := s.w.Counts()
	s.log.Info("import started", "records", records, "store_mode", s.w.Store().Mode().String())

	c := newCounter(s.name, s.opts.Progress, records)
	if err := body(ctx, c); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.w.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	telemetry.RecordsImported.WithLabelValues(s.name).Add(float64(c.done))

	rep := &Report{
		Importer: s.name,
		Records:  c.done,
		Counts:   s.w.Counts().Sub(before),
		Warnings: s.warnings,
		Took:     time.Since(start),
	}
	s.log.Info("import finished",
		"records", rep.Records,
		"created", rep.Created,
		"reused", rep.Reused,
		"linked", rep.Linked,
		"warnings", rep.Warnings,
		"took", rep.Took)
	return rep, nil
}

// ---------- Study / center ----------

// lookupStudy finds the study without creating it.
func (s *session) lookupStudy(ctx context.Context) (string, bool, error) {
	if s.opts.Study == "" {
		return "", false, s.fail(faults.New(faults.InvalidInput, "no study name configured"))
	}
	return s.w.Find(ctx, "Study", upsert.Uniqueness{Attr: "name", Value: s.opts.Study})
}

// resolveStudy resolves the study and the center, creating them on first
// use.
func (s *session) resolveStudy(ctx context.Context) error {
	if s.opts.Study == "" {
		return s.fail(faults.New(faults.InvalidInput, "no study name configured"))
	}
	attrs := map[string]any{"name": s.opts.Study}
	if s.opts.DataPath != "" {
		attrs["dataRootPath"] = s.opts.DataPath
	}
	study, _, err := s.w.ResolveByKey(ctx, "Study", attrs)
	if err != nil {
		return err
	}
	center, _, err := s.w.ResolveByKey(ctx, "Center", map[string]any{
		"name":       s.opts.Center,
		"identifier": ident.Hash(s.opts.Center),
	})
	if err != nil {
		return err
	}
	s.study, s.center = study, center
	return nil
}

// ---------- Subjects ----------

// loadSubjects builds the codeInStudy -> id map of the study's subjects with
// a single query.
func (s *session) loadSubjects(ctx context.Context) error {
	s.subjects = make(map[string]string)
	study, found, err := s.lookupStudy(ctx)
	if err != nil || !found {
		return err
	}
	nodes, err := s.w.Store().Query(ctx, graph.Pattern{
		Type:  "Subject",
		Links: []graph.Link{{Relation: schema.RelRelatedStudy, Target: study}},
	})
	if err != nil {
		return err
	}
	for _, n := range nodes {
		code := Attrs(n.Attrs).str("codeInStudy")
		if code == "" {
			continue
		}
		s.subjects[code] = n.ID
		s.w.Prime("Subject", upsert.Uniqueness{Attr: "identifier", Value: n.Key}, n.ID)
	}
	s.log.Debug("subjects loaded", "count", len(s.subjects))
	return nil
}

// requireSubjects fails with UnknownSubject on the first key that is not
// in the subject map. It runs before any write.
func (s *session) requireSubjects(keys []string) error {
	for _, key := range keys {
		if _, ok := s.subjects[key]; !ok {
			return s.fail(faults.New(faults.UnknownSubject, "subject %q is not part of study %q", key, s.opts.Study).
				With(faults.CtxSubject, key))
		}
	}
	return nil
}

// ---------- Groups / assessments ----------

// loadGroups reads every CWGroup once and prepares the assessment
// aggregator.
func (s *session) loadGroups(ctx context.Context) error {
	nodes, err := s.w.Store().Query(ctx, graph.Pattern{Type: "CWGroup"})
	if err != nil {
		return err
	}
	s.groups = make(map[string]string, len(nodes))
	for _, n := range nodes {
		s.groups[n.Key] = n.ID
	}
	s.assessments = upsert.NewAssessments(s.w, s.opts.Security, s.opts.Access, s.groups)
	return nil
}

// prepare runs the shared steps of every episode importer: subject map,
// unknown-subject check, study and center, group map.
func (s *session) prepare(ctx context.Context, subjectKeys []string) error {
	if err := s.loadSubjects(ctx); err != nil {
		return err
	}
	if err := s.requireSubjects(subjectKeys); err != nil {
		return err
	}
	if err := s.resolveStudy(ctx); err != nil {
		return err
	}
	return s.loadGroups(ctx)
}

// assessment resolves the episode's assessment for the given subjects.
func (s *session) assessment(ctx context.Context, attrs Attrs, deviceID string, subjectKeys ...string) (string, string, error) {
	identifier := attrs.str("identifier")
	subjects := make([]string, 0, len(subjectKeys))
	for _, key := range subjectKeys {
		subjects = append(subjects, s.subjects[key])
	}
	id, _, err := s.assessments.GetOrCreate(ctx, upsert.AssessmentRequest{
		Identifier: identifier,
		Attrs:      attrs.clone(),
		SubjectIDs: subjects,
		StudyID:    s.study,
		CenterID:   s.center,
		DeviceID:   deviceID,
	})
	return id, identifier, err
}

// episodeLinks writes the links every restricted episode entity carries.
// The entity is new, so they are unique by construction.
func (s *session) episodeLinks(ctx context.Context, id, assessment string, subjects ...string) error {
	if err := s.w.Link(ctx, id, schema.RelInAssessment, assessment, false); err != nil {
		return err
	}
	if err := s.w.Link(ctx, id, schema.RelRelatedStudy, s.study, false); err != nil {
		return err
	}
	seen := make(map[string]bool, len(subjects))
	for _, key := range subjects {
		sid := s.subjects[key]
		if seen[sid] {
			continue
		}
		seen[sid] = true
		if err := s.w.Link(ctx, id, schema.RelConcerns, sid, false); err != nil {
			return err
		}
	}
	return nil
}

// attachScores creates one ScoreValue per record, linked to parent, its
// ScoreDefinition and the assessment.
func (s *session) attachScores(ctx context.Context, parent, assessment string, scores []ScoreRecord) error {
	for _, sc := range scores {
		def, _, err := s.w.ResolveByKey(ctx, "ScoreDefinition", sc.Definition.clone())
		if err != nil {
			return err
		}
		value := sc.Value.clone()
		if _, ok := value["text"]; !ok {
			if v, ok := value["value"]; ok {
				value["text"] = asText(v)
			}
		}
		sv, err := s.w.Create(ctx, "ScoreValue", value)
		if err != nil {
			return err
		}
		if err := s.w.Link(ctx, parent, schema.RelScoreValues, sv, false); err != nil {
			return err
		}
		if err := s.w.Link(ctx, sv, schema.RelDefinition, def, false); err != nil {
			return err
		}
		if err := s.w.Link(ctx, sv, schema.RelInAssessment, assessment, false); err != nil {
			return err
		}
	}
	return nil
}

// attachFiles attaches a FileSet when the record carries one.
func (s *session) attachFiles(ctx context.Context, fileSet Attrs, files []Attrs, parent, assessment string) error {
	if fileSet == nil && len(files) == 0 {
		return nil
	}
	list := make([]map[string]any, 0, len(files))
	for _, f := range files {
		list = append(list, f.clone())
	}
	_, err := s.w.AttachFileSet(ctx, fileSet.clone(), list, parent, assessment)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

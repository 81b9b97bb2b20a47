package importers

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/store"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

var allModes = []store.Mode{store.Direct, store.Buffered, store.Bulk}

var toyOpts = Options{
	Study:    "toy",
	DataPath: "/data/toy",
	Center:   "Paris",
	Access:   upsert.Access{CanRead: true},
}

type env struct {
	eng *graph.MemGraph
	a   store.Adapter
}

func newEnv(t *testing.T, mode store.Mode) *env {
	t.Helper()
	eng := graph.NewMemGraph()
	a, err := store.New(eng, schema.Default(), store.Options{Mode: mode})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return &env{eng: eng, a: a}
}

// writer returns a fresh writer, as every importer run gets.
func (e *env) writer() *upsert.Writer { return upsert.NewWriter(e.a, nil) }

func (e *env) stats(t *testing.T) *graph.Stats {
	t.Helper()
	st, err := e.eng.Stats(context.Background())
	require.NoError(t, err)
	return st
}

func (e *env) nodes(t *testing.T, p graph.Pattern) []graph.Node {
	t.Helper()
	nodes, err := e.eng.FindNodes(context.Background(), p)
	require.NoError(t, err)
	return nodes
}

func (e *env) one(t *testing.T, p graph.Pattern) graph.Node {
	t.Helper()
	nodes := e.nodes(t, p)
	require.Len(t, nodes, 1, "pattern %s", p)
	return nodes[0]
}

func (e *env) edges(t *testing.T, p graph.EdgePattern) []graph.Edge {
	t.Helper()
	edges, err := e.eng.FindEdges(context.Background(), p)
	require.NoError(t, err)
	return edges
}

func targets(edges []graph.Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.To)
	}
	return out
}

func decode[T any](t *testing.T, doc string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(doc), &v))
	return v
}

const (
	toyGroups   = `["toy", "toy_V1"]`
	toySubjects = `{
		"s1": {"identifier": "toy_s1274", "codeInStudy": "s1", "gender": "male", "handedness": "right"},
		"s2": {"identifier": "toy_s2001", "codeInStudy": "s2", "gender": "female", "handedness": "left",
		       "groups": ["controls"], "protocols": ["prot-A"], "diagnostic": "healthy", "relatives": ["s1"]}
	}`
	toyScans = `{
		"s1": [{
			"Assessment": {"identifier": "toy_V1_s1", "timepoint": "V1"},
			"Scans": [{
				"Scan": {"identifier": "toy_V1_s1_t1", "label": "T1", "format": "Nifti", "type": "MRIData"},
				"TypeData": {"type": "MRIData", "voxelResX": 1, "voxelResY": 1, "voxelResZ": 1},
				"FileSet": {"identifier": "fs1", "name": "T1"},
				"ExternalResources": [{"identifier": "ext1", "name": "t1", "filepath": "/data/t1.nii.gz", "absolutePath": true}]
			}]
		}]
	}`
)

// seed runs Groups then Subjects.
func seed(t *testing.T, e *env) {
	t.Helper()
	ctx := context.Background()
	_, err := Groups(ctx, e.writer(), decode[GroupsInput](t, toyGroups), toyOpts)
	require.NoError(t, err)
	_, err = Subjects(ctx, e.writer(), decode[SubjectsInput](t, toySubjects), toyOpts)
	require.NoError(t, err)
}

// ---------- End to end ----------

func TestEndToEnd_SubjectThenScan(t *testing.T) {
	ctx := context.Background()
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEnv(t, mode)
			_, err := Groups(ctx, e.writer(), decode[GroupsInput](t, toyGroups), toyOpts)
			require.NoError(t, err)
			_, err = Subjects(ctx, e.writer(), decode[SubjectsInput](t,
				`{"s1": {"identifier": "toy_s1274", "codeInStudy": "s1", "gender": "male", "handedness": "right"}}`), toyOpts)
			require.NoError(t, err)
			rep, err := Scans(ctx, e.writer(), decode[ScansInput](t, toyScans), toyOpts)
			require.NoError(t, err)
			assert.Equal(t, 1, rep.Records)

			st := e.stats(t)
			assert.Equal(t, 1, st.NodesByType["Subject"])
			assert.Equal(t, 1, st.NodesByType["Assessment"])
			assert.Equal(t, 1, st.NodesByType["Scan"])
			assert.Equal(t, 1, st.NodesByType["MRIData"])
			assert.Equal(t, 1, st.NodesByType["FileSet"])
			assert.Equal(t, 1, st.NodesByType["ExternalFile"])

			study := e.one(t, graph.Pattern{Type: "Study", Key: "toy"})
			assert.Equal(t, "/data/toy", study.Attrs["dataRootPath"])
			center := e.one(t, graph.Pattern{Type: "Center", Attrs: map[string]any{"name": "Paris"}})
			subject := e.one(t, graph.Pattern{Type: "Subject", Key: "toy_s1274"})
			assessment := e.one(t, graph.Pattern{Type: "Assessment", Key: "toy_V1_s1"})
			scan := e.one(t, graph.Pattern{Type: "Scan", Key: "toy_V1_s1_t1"})

			assert.Equal(t, []string{subject.ID}, targets(e.edges(t, graph.EdgePattern{From: assessment.ID, Type: schema.RelConcerns})))
			assert.Equal(t, []string{study.ID}, targets(e.edges(t, graph.EdgePattern{From: assessment.ID, Type: schema.RelRelatedStudy})))
			assert.Len(t, e.edges(t, graph.EdgePattern{From: center.ID, Type: schema.RelHolds, To: assessment.ID}), 1)

			assert.Equal(t, []string{assessment.ID}, targets(e.edges(t, graph.EdgePattern{From: scan.ID, Type: schema.RelInAssessment})))
			assert.Equal(t, []string{subject.ID}, targets(e.edges(t, graph.EdgePattern{From: scan.ID, Type: schema.RelConcerns})))
			assert.Equal(t, []string{study.ID}, targets(e.edges(t, graph.EdgePattern{From: scan.ID, Type: schema.RelRelatedStudy})))

			data := e.edges(t, graph.EdgePattern{From: scan.ID, Type: schema.RelHasData})
			require.Len(t, data, 1)
			mri := e.one(t, graph.Pattern{Type: "MRIData"})
			assert.Equal(t, mri.ID, data[0].To)
			assert.EqualValues(t, 1, mri.Attrs["voxelResX"])

			fileSets := e.edges(t, graph.EdgePattern{From: scan.ID, Type: schema.RelFileSets})
			require.Len(t, fileSets, 1)
			files := e.edges(t, graph.EdgePattern{From: fileSets[0].To, Type: schema.RelExternalFiles})
			require.Len(t, files, 1)
			ext := e.one(t, graph.Pattern{Type: "ExternalFile"})
			assert.Equal(t, ext.ID, files[0].To)
			assert.Equal(t, "/data/t1.nii.gz", ext.Attrs["filepath"])

			toy := e.one(t, graph.Pattern{Type: "CWGroup", Key: "toy"})
			toyV1 := e.one(t, graph.Pattern{Type: "CWGroup", Key: "toy_V1"})
			readers := e.edges(t, graph.EdgePattern{Type: schema.RelCanRead, To: assessment.ID})
			var from []string
			for _, r := range readers {
				from = append(from, r.From)
			}
			assert.ElementsMatch(t, []string{toy.ID, toyV1.ID}, from)
		})
	}
}

// ---------- Reference data ----------

func TestSubjects_Idempotent(t *testing.T) {
	ctx := context.Background()
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEnv(t, mode)
			in := decode[SubjectsInput](t, toySubjects)

			first, err := Subjects(ctx, e.writer(), in, toyOpts)
			require.NoError(t, err)
			assert.Positive(t, first.Created)
			before := e.stats(t)

			second, err := Subjects(ctx, e.writer(), in, toyOpts)
			require.NoError(t, err)
			assert.Equal(t, 0, second.Created)
			assert.Equal(t, 0, second.Linked)
			assert.Equal(t, before, e.stats(t))

			assert.Len(t, e.nodes(t, graph.Pattern{Type: "Subject", Key: "toy_s1274"}), 1)
			assert.Len(t, e.nodes(t, graph.Pattern{Type: "Subject", Key: "toy_s2001"}), 1)
		})
	}
}

func TestSubjects_Links(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, store.Buffered)
	seed(t, e)

	s1 := e.one(t, graph.Pattern{Type: "Subject", Key: "toy_s1274"})
	s2 := e.one(t, graph.Pattern{Type: "Subject", Key: "toy_s2001"})
	assert.Equal(t, "s2", s2.Attrs["codeInStudy"])
	assert.Nil(t, s2.Attrs["groups"], "reserved keys are not attributes")

	group := e.one(t, graph.Pattern{Type: "SubjectGroup", Key: "controls"})
	assert.Len(t, e.edges(t, graph.EdgePattern{From: s2.ID, Type: schema.RelSubjectGroups, To: group.ID}), 1)
	protocol := e.one(t, graph.Pattern{Type: "Protocol", Key: "prot-A"})
	assert.Len(t, e.edges(t, graph.EdgePattern{From: s2.ID, Type: schema.RelRelatedProtocols, To: protocol.ID}), 1)
	diag := e.edges(t, graph.EdgePattern{From: s2.ID, Type: schema.RelDiagnosis})
	require.Len(t, diag, 1)

	// relatives is symmetric.
	assert.Len(t, e.edges(t, graph.EdgePattern{From: s2.ID, Type: schema.RelRelatives, To: s1.ID}), 1)
	assert.Len(t, e.edges(t, graph.EdgePattern{From: s1.ID, Type: schema.RelRelatives, To: s2.ID}), 1)

	_, err := Subjects(ctx, e.writer(), decode[SubjectsInput](t, toySubjects), toyOpts)
	require.NoError(t, err)
	assert.Len(t, e.edges(t, graph.EdgePattern{Type: schema.RelRelatives}), 2)
	assert.Len(t, e.edges(t, graph.EdgePattern{Type: schema.RelDiagnosis}), 1)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, store.Direct)
	seed(t, e)

	users := decode[UsersInput](t, `[{"login": "ada", "firstname": "Ada", "groups": ["toy", "toy_V1"]}]`)
	_, err := Users(ctx, e.writer(), users, toyOpts)
	require.NoError(t, err)
	ada := e.one(t, graph.Pattern{Type: "CWUser", Key: "ada"})
	assert.Len(t, e.edges(t, graph.EdgePattern{From: ada.ID, Type: schema.RelInGroup}), 2)

	_, err = Users(ctx, e.writer(), users, toyOpts)
	require.NoError(t, err)
	assert.Len(t, e.edges(t, graph.EdgePattern{From: ada.ID, Type: schema.RelInGroup}), 2)

	before := e.stats(t)
	_, err = Users(ctx, e.writer(), decode[UsersInput](t, `[{"login": "bob", "groups": ["admins"]}]`), toyOpts)
	assert.True(t, faults.Is(err, faults.MissingGroup))
	assert.Equal(t, before, e.stats(t))
}

// ---------- Assessments ----------

func TestScans_AssessmentSubjectsOnlyGrow(t *testing.T) {
	ctx := context.Background()
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEnv(t, mode)
			seed(t, e)
			shared := func(subject, scan string) string {
				return `{"` + subject + `": [{"Assessment": {"identifier": "toy_V1_pair", "timepoint": "V1"},
					"Scans": [{"Scan": {"identifier": "` + scan + `"}}]}]}`
			}

			_, err := Scans(ctx, e.writer(), decode[ScansInput](t, shared("s1", "pair_t1")), toyOpts)
			require.NoError(t, err)
			again, err := Scans(ctx, e.writer(), decode[ScansInput](t, shared("s1", "pair_t1")), toyOpts)
			require.NoError(t, err)
			assert.Equal(t, 0, again.Created)
			assert.Equal(t, 0, again.Linked)

			assessment := e.one(t, graph.Pattern{Type: "Assessment", Key: "toy_V1_pair"})
			s1 := e.one(t, graph.Pattern{Type: "Subject", Key: "toy_s1274"})
			s2 := e.one(t, graph.Pattern{Type: "Subject", Key: "toy_s2001"})
			assert.Equal(t, []string{s1.ID}, targets(e.edges(t, graph.EdgePattern{From: assessment.ID, Type: schema.RelConcerns})))

			_, err = Scans(ctx, e.writer(), decode[ScansInput](t, shared("s2", "pair_t2")), toyOpts)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{s1.ID, s2.ID}, targets(e.edges(t, graph.EdgePattern{From: assessment.ID, Type: schema.RelConcerns})))
			assert.Len(t, e.edges(t, graph.EdgePattern{From: assessment.ID, Type: schema.RelRelatedStudy}), 1)
			assert.Len(t, e.edges(t, graph.EdgePattern{Type: schema.RelHolds, To: assessment.ID}), 1)
			assert.Len(t, e.edges(t, graph.EdgePattern{Type: schema.RelCanRead, To: assessment.ID}), 2)
			assert.Equal(t, 2, e.stats(t).NodesByType["Scan"])
		})
	}
}

func TestScans_UnknownSubjectAbortsBeforeWrites(t *testing.T) {
	ctx := context.Background()
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEnv(t, mode)
			seed(t, e)
			before := e.stats(t)

			in := decode[ScansInput](t, toyScans)
			in["s9"] = in["s1"]
			_, err := Scans(ctx, e.writer(), in, toyOpts)
			require.Error(t, err)
			assert.True(t, faults.Is(err, faults.UnknownSubject))
			assert.Equal(t, before, e.stats(t))
			assert.Equal(t, 0, e.a.Pending())
		})
	}
}

func TestScans_UnknownStudy(t *testing.T) {
	e := newEnv(t, store.Direct)
	_, err := Scans(context.Background(), e.writer(), decode[ScansInput](t, toyScans), toyOpts)
	assert.True(t, faults.Is(err, faults.UnknownSubject))
	assert.Equal(t, 0, e.stats(t).NodeCount, "the study is not created either")
}

func TestScans_MissingGroup(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, store.Direct)
	_, err := Subjects(ctx, e.writer(), decode[SubjectsInput](t, toySubjects), toyOpts)
	require.NoError(t, err)

	_, err = Scans(ctx, e.writer(), decode[ScansInput](t, toyScans), toyOpts)
	assert.True(t, faults.Is(err, faults.MissingGroup))
	assert.Empty(t, e.nodes(t, graph.Pattern{Type: "Assessment"}))
}

func TestScans_DuplicateScanIsCorruption(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, store.Direct)
	seed(t, e)
	require.NoError(t, e.eng.Apply(ctx, graph.Batch{Nodes: []graph.Node{
		{ID: "dup-1", Type: "Scan", Key: "toy_V1_s1_t1", Attrs: map[string]any{"identifier": "toy_V1_s1_t1"}},
		{ID: "dup-2", Type: "Scan", Key: "toy_V1_s1_t1", Attrs: map[string]any{"identifier": "toy_V1_s1_t1"}},
	}}))

	_, err := Scans(ctx, e.writer(), decode[ScansInput](t, toyScans), toyOpts)
	assert.True(t, faults.Is(err, faults.DataCorruption))
	assert.Empty(t, e.nodes(t, graph.Pattern{Type: "FileSet"}))
}

func TestScans_RerunDoesNotDuplicateFileSets(t *testing.T) {
	ctx := context.Background()
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEnv(t, mode)
			seed(t, e)
			in := decode[ScansInput](t, toyScans)
			_, err := Scans(ctx, e.writer(), in, toyOpts)
			require.NoError(t, err)
			before := e.stats(t)

			_, err = Scans(ctx, e.writer(), in, toyOpts)
			require.NoError(t, err)
			assert.Equal(t, before, e.stats(t))
		})
	}
}

func TestScans_DeviceAndScores(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, store.Bulk)
	seed(t, e)
	device := `"Device": {"manufacturer": "Siemens", "model": "TrioTim", "serialNumber": "35276"},
		"ExamCard": {"FileSet": {"name": "examcard"}, "ExternalResources": [{"filepath": "/data/examcard.pdf"}]}`
	in := decode[ScansInput](t, `{
		"s1": [{"Assessment": {"identifier": "toy_V1_s1"}, `+device+`,
			"Scans": [{"Scan": {"identifier": "dev_t1"}, "Scores": [
				{"ScoreDefinition": {"name": "snr"}, "ScoreValue": {"value": 21.5}}
			]}]}],
		"s2": [{"Assessment": {"identifier": "toy_V1_s2"}, `+device+`,
			"Scans": [{"Scan": {"identifier": "dev_t2"}}]}]
	}`)
	_, err := Scans(ctx, e.writer(), in, toyOpts)
	require.NoError(t, err)

	dev := e.one(t, graph.Pattern{Type: "Device"})
	center := e.one(t, graph.Pattern{Type: "Center"})
	assert.Len(t, e.edges(t, graph.EdgePattern{From: dev.ID, Type: schema.RelDeviceCenter, To: center.ID}), 1)
	assert.Len(t, e.edges(t, graph.EdgePattern{From: dev.ID, Type: schema.RelFileSets}), 1, "exam card only on first creation")
	assert.Len(t, e.edges(t, graph.EdgePattern{Type: schema.RelUsesDevice, To: dev.ID}), 4, "two assessments and two scans")

	sv := e.one(t, graph.Pattern{Type: "ScoreValue"})
	assert.Equal(t, "21.5", sv.Attrs["text"])
	def := e.one(t, graph.Pattern{Type: "ScoreDefinition", Key: "snr"})
	assert.Len(t, e.edges(t, graph.EdgePattern{From: sv.ID, Type: schema.RelDefinition, To: def.ID}), 1)
	assert.Len(t, e.edges(t, graph.EdgePattern{From: sv.ID, Type: schema.RelInAssessment}), 1)
}

func TestScans_UnknownTypeData(t *testing.T) {
	e := newEnv(t, store.Direct)
	seed(t, e)
	before := e.stats(t)
	in := decode[ScansInput](t, `{"s1": [{"Assessment": {"identifier": "toy_V1_s1"},
		"Scans": [{"Scan": {"identifier": "x"}, "TypeData": {"type": "XRayData"}}]}]}`)
	_, err := Scans(context.Background(), e.writer(), in, toyOpts)
	assert.True(t, faults.Is(err, faults.InvalidInput))
	assert.Equal(t, before, e.stats(t))
}

// ---------- Questionnaires ----------

func TestParseQuestionKey(t *testing.T) {
	tests := []struct {
		key, text, kind string
		fault           faults.Kind
	}{
		{key: "mood", text: "mood"},
		{key: "anxiety: int", text: "anxiety", kind: AnswerInt},
		{key: " weight :FLOAT ", text: "weight", kind: AnswerFloat},
		{key: "comment: text", text: "comment", kind: AnswerText},
		{key: "a: int: float", fault: faults.InvalidAnnotation},
		{key: "date: date", fault: faults.InvalidAnnotation},
		{key: "time of day: morning", fault: faults.InvalidAnnotation},
		{key: "wake time: 07:30", fault: faults.InvalidAnnotation},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			text, kind, err := ParseQuestionKey(tt.key)
			if tt.fault != "" {
				assert.True(t, faults.Is(err, tt.fault))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.text, text)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

const toyQuestionnaires = `{"s1": [{
	"Assessment": {"identifier": "toy_V1_s1", "timepoint": "V1"},
	"Questionnaires": {"hads": {"anxiety: int": "7", "mood": "good", "weight: float": 71.5, "age": 42}}
}]}`

func TestQuestionnaires(t *testing.T) {
	ctx := context.Background()
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEnv(t, mode)
			seed(t, e)
			in := decode[QuestionnairesInput](t, toyQuestionnaires)
			rep, err := Questionnaires(ctx, e.writer(), in, toyOpts)
			require.NoError(t, err)
			assert.Equal(t, 1, rep.Records)

			st := e.stats(t)
			assert.Equal(t, 1, st.NodesByType["QuestionnaireRun"])
			assert.Equal(t, 1, st.NodesByType["Questionnaire"])
			assert.Equal(t, 4, st.NodesByType["Question"])
			assert.Equal(t, 4, st.NodesByType["Answer"])

			run := e.one(t, graph.Pattern{Type: "QuestionnaireRun", Key: "toy_V1_s1_hads"})
			assert.Len(t, e.edges(t, graph.EdgePattern{From: run.ID, Type: schema.RelAnswers}), 4)

			anxiety := e.one(t, graph.Pattern{Type: "Question", Attrs: map[string]any{"text": "anxiety"}})
			assert.Equal(t, AnswerInt, anxiety.Attrs["type"])
			answer := e.one(t, graph.Pattern{Type: "Answer", Links: []graph.Link{{Relation: schema.RelQuestion, Target: anxiety.ID}}})
			assert.EqualValues(t, 7, answer.Attrs["value"])

			age := e.one(t, graph.Pattern{Type: "Question", Attrs: map[string]any{"text": "age"}})
			assert.Equal(t, AnswerInt, age.Attrs["type"], "inferred from the value")

			// Second run: nothing new.
			before := e.stats(t)
			_, err = Questionnaires(ctx, e.writer(), in, toyOpts)
			require.NoError(t, err)
			assert.Equal(t, before, e.stats(t))
		})
	}
}

func TestQuestionnaires_BadAnnotationBeforeWrites(t *testing.T) {
	e := newEnv(t, store.Direct)
	seed(t, e)
	before := e.stats(t)
	in := decode[QuestionnairesInput](t, `{"s1": [{
		"Assessment": {"identifier": "toy_V1_s1"},
		"Questionnaires": {"hads": {"mood": "good", "anxiety: int: float": 3}}
	}]}`)
	_, err := Questionnaires(context.Background(), e.writer(), in, toyOpts)
	assert.True(t, faults.Is(err, faults.InvalidAnnotation))
	assert.Equal(t, before, e.stats(t))
}

// ---------- Genetics ----------

const toyGenetics = `{"V1": [{
	"Assessment": {"identifier": "toy_V1_gen"},
	"GenomicMeasures": [
		{"GenomicMeasure": {"identifier": "gm1", "type": "SNP"},
		 "GenomicPlatform": {"name": "chipA", "relatedSubjects": ["s1", "s2"], "relatedSnps": ["rs1", "rs2"]},
		 "FileSet": {"name": "vcf"}, "ExternalResources": [{"filepath": "/data/gm1.vcf"}]},
		{"GenomicMeasure": {"identifier": "gm2"},
		 "GenomicPlatform": {"name": "chipB", "relatedSubjects": ["s2"], "relatedSnps": ["rs2", "rs3"]}}
	]
}]}`

func TestGenetics(t *testing.T) {
	ctx := context.Background()
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEnv(t, mode)
			seed(t, e)
			opts := toyOpts
			opts.BatchSize = 2
			in := decode[GeneticsInput](t, toyGenetics)

			rep, err := Genetics(ctx, e.writer(), in, opts)
			require.NoError(t, err)
			assert.Equal(t, 2, rep.Records)

			st := e.stats(t)
			assert.Equal(t, 3, st.NodesByType["Snp"], "snps are shared across platforms")
			assert.Equal(t, 2, st.NodesByType["GenomicPlatform"])
			assert.Equal(t, 2, st.NodesByType["GenomicMeasure"])

			chipA := e.one(t, graph.Pattern{Type: "GenomicPlatform", Key: "chipA"})
			assert.Len(t, e.edges(t, graph.EdgePattern{From: chipA.ID, Type: schema.RelRelatedSnps}), 2)

			assessment := e.one(t, graph.Pattern{Type: "Assessment", Key: "toy_V1_gen"})
			assert.Equal(t, "V1", assessment.Attrs["timepoint"])
			assert.Len(t, e.edges(t, graph.EdgePattern{From: assessment.ID, Type: schema.RelConcerns}), 2)

			gm1 := e.one(t, graph.Pattern{Type: "GenomicMeasure", Key: "gm1"})
			assert.Len(t, e.edges(t, graph.EdgePattern{From: gm1.ID, Type: schema.RelConcerns}), 2)
			assert.Equal(t, []string{chipA.ID}, targets(e.edges(t, graph.EdgePattern{From: gm1.ID, Type: schema.RelPlatform})))
			assert.Len(t, e.edges(t, graph.EdgePattern{From: gm1.ID, Type: schema.RelFileSets}), 1)

			before := e.stats(t)
			again, err := Genetics(ctx, e.writer(), in, opts)
			require.NoError(t, err)
			assert.Equal(t, 0, again.Created)
			assert.Equal(t, before, e.stats(t))
		})
	}
}

func TestGenetics_UnknownSubject(t *testing.T) {
	e := newEnv(t, store.Buffered)
	seed(t, e)
	before := e.stats(t)
	in := decode[GeneticsInput](t, `{"V1": [{"Assessment": {"identifier": "toy_V1_gen"},
		"GenomicMeasures": [{"GenomicMeasure": {"identifier": "gm1"},
			"GenomicPlatform": {"name": "chipA", "relatedSubjects": ["nobody"]}}]}]}`)
	_, err := Genetics(context.Background(), e.writer(), in, toyOpts)
	assert.True(t, faults.Is(err, faults.UnknownSubject))
	assert.Equal(t, before, e.stats(t))
}

// ---------- Processings ----------

func TestProcessings(t *testing.T) {
	ctx := context.Background()
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEnv(t, mode)
			seed(t, e)
			_, err := Scans(ctx, e.writer(), decode[ScansInput](t, toyScans), toyOpts)
			require.NoError(t, err)

			in := decode[ProcessingsInput](t, `{"s1": [{
				"Assessment": {"identifier": "toy_V1_s1"},
				"Processings": [{
					"ProcessingRun": {"identifier": "proc1", "name": "fsl"},
					"Inputs": ["Scan identifier=toy_V1_s1_t1", "Scan label=T1", "Scan identifier=\"missing\""],
					"FileSets": [{"name": "out"}],
					"ExternalResources": [[{"filepath": "/out/a.nii"}, {"filepath": "/out/b.nii"}]],
					"Scores": [{"ScoreDefinition": {"name": "volume"}, "ScoreValue": {"text": "12.5"}}]
				}]
			}]}`)
			rep, err := Processings(ctx, e.writer(), in, toyOpts)
			require.NoError(t, err)
			assert.Equal(t, 1, rep.Warnings)

			run := e.one(t, graph.Pattern{Type: "ProcessingRun", Key: "proc1"})
			scan := e.one(t, graph.Pattern{Type: "Scan", Key: "toy_V1_s1_t1"})
			assert.Equal(t, []string{scan.ID}, targets(e.edges(t, graph.EdgePattern{From: run.ID, Type: schema.RelInputs})))

			fs := e.edges(t, graph.EdgePattern{From: run.ID, Type: schema.RelFileSets})
			require.Len(t, fs, 1)
			assert.Len(t, e.edges(t, graph.EdgePattern{From: fs[0].To, Type: schema.RelExternalFiles}), 2)
			assert.Len(t, e.edges(t, graph.EdgePattern{From: run.ID, Type: schema.RelScoreValues}), 1)

			assessment := e.one(t, graph.Pattern{Type: "Assessment", Key: "toy_V1_s1"})
			assert.Equal(t, []string{assessment.ID}, targets(e.edges(t, graph.EdgePattern{From: run.ID, Type: schema.RelInAssessment})))
		})
	}
}

func TestProcessings_BadInputPattern(t *testing.T) {
	e := newEnv(t, store.Direct)
	seed(t, e)
	before := e.stats(t)
	in := decode[ProcessingsInput](t, `{"s1": [{"Assessment": {"identifier": "toy_V1_s1"},
		"Processings": [{"ProcessingRun": {"identifier": "p"}, "Inputs": ["identifier=x"]}]}]}`)
	_, err := Processings(context.Background(), e.writer(), in, toyOpts)
	assert.True(t, faults.Is(err, faults.InvalidInput))
	assert.Equal(t, before, e.stats(t))
}

// ---------- MetaGen ----------

func TestMetaGen(t *testing.T) {
	ctx := context.Background()
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEnv(t, mode)
			in := decode[MetaGenInput](t, `{
				"Chromosomes": [{"name": "chr1"}, {"name": "chr17"}],
				"Genes": [{"Gene": {"name": "BRCA1", "start": 43044295}, "Chromosome": "chr17"}],
				"Snps": [
					{"Snp": {"rsId": "rs1"}, "Chromosome": "chr17", "Genes": ["BRCA1"]},
					{"Snp": {"rsId": "rs2"}, "Chromosome": "chr1", "Genes": ["NEW1"]}
				],
				"Platforms": [{"name": "chipA", "relatedSnps": ["rs1", "rs2"]}]
			}`)
			opts := Options{BatchSize: 3}
			rep, err := MetaGen(ctx, e.writer(), in, opts)
			require.NoError(t, err)
			assert.Equal(t, 6, rep.Records)

			st := e.stats(t)
			assert.Equal(t, 2, st.NodesByType["Chromosome"])
			assert.Equal(t, 2, st.NodesByType["Gene"])
			assert.Equal(t, 2, st.NodesByType["Snp"])
			assert.Equal(t, 1, st.NodesByType["GenomicPlatform"])

			brca := e.one(t, graph.Pattern{Type: "Gene", Key: "BRCA1"})
			rs1 := e.one(t, graph.Pattern{Type: "Snp", Key: "rs1"})
			assert.Len(t, e.edges(t, graph.EdgePattern{From: rs1.ID, Type: schema.RelSnpGenes, To: brca.ID}), 1)
			assert.Len(t, e.edges(t, graph.EdgePattern{From: brca.ID, Type: schema.RelGeneChromosome}), 1)

			before := e.stats(t)
			again, err := MetaGen(ctx, e.writer(), in, opts)
			require.NoError(t, err)
			assert.Equal(t, 0, again.Created)
			assert.Equal(t, before, e.stats(t))
		})
	}
}

// ---------- Progress ----------

func TestLineProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewLineProgress(&buf)
	p.Step("scans", 0, 4)
	p.Step("scans", 1, 4)
	p.Step("scans", 1, 4)
	p.Step("scans", 4, 4)
	assert.Equal(t, "scans   0% (0/4)\nscans  25% (1/4)\nscans 100% (4/4)\n", buf.String())
	assert.Equal(t, "groups 100% (0/0)", FormatRatio("groups", 0, 0))
}

func TestProgressIsMonotonic(t *testing.T) {
	e := newEnv(t, store.Direct)
	var seen []int
	opts := toyOpts
	opts.Progress = ProgressFunc(func(_ string, done, _ int) { seen = append(seen, done) })
	_, err := Groups(context.Background(), e.writer(), GroupsInput{"a", "b", "c"}, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, seen)
}

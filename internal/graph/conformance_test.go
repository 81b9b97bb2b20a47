package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineFactory returns a fresh, empty engine with its schema initialized.
type engineFactory func(t *testing.T) Engine

func nodeIDs(nodes []Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

// seedBatch is a small study: two subjects, one assessment linked to both,
// one scan.
func seedBatch() Batch {
	return Batch{
		Nodes: []Node{
			{ID: "study-1", Type: "Study", Key: "toy", Attrs: map[string]any{"name": "toy", "dataRootPath": "/data"}},
			{ID: "subj-1", Type: "Subject", Key: "toy_s1", Attrs: map[string]any{"identifier": "toy_s1", "codeInStudy": "s1", "gender": "male"}},
			{ID: "subj-2", Type: "Subject", Key: "toy_s2", Attrs: map[string]any{"identifier": "toy_s2", "codeInStudy": "s2", "gender": "female"}},
			{ID: "asm-1", Type: "Assessment", Key: "toy_V1_s1", Attrs: map[string]any{"identifier": "toy_V1_s1", "timepoint": "V1", "ageOfSubject": 31}},
			{ID: "scan-1", Type: "Scan", Key: "toy_V1_s1_t1", Attrs: map[string]any{"identifier": "toy_V1_s1_t1", "label": "T1"}},
		},
		Edges: []Edge{
			{From: "subj-1", Type: "related_study", To: "study-1"},
			{From: "subj-2", Type: "related_study", To: "study-1"},
			{From: "asm-1", Type: "concerns", To: "subj-1"},
			{From: "asm-1", Type: "concerns", To: "subj-2"},
			{From: "scan-1", Type: "in_assessment", To: "asm-1"},
		},
	}
}

func runConformance(t *testing.T, newEngine engineFactory) {
	ctx := context.Background()

	t.Run("InitSchemaIdempotent", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.InitSchema(ctx))
	})

	t.Run("ApplyAndGetNodes", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.Apply(ctx, seedBatch()))

		got, err := e.GetNodes(ctx, []string{"asm-1", "missing", "study-1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "asm-1", got[0].ID)
		assert.Equal(t, "Assessment", got[0].Type)
		assert.Equal(t, "toy_V1_s1", got[0].Key)
		assert.Equal(t, float64(31), got[0].Attrs["ageOfSubject"], "numbers read back as float64")
		assert.Equal(t, "study-1", got[1].ID)
	})

	t.Run("FindNodesByTypeAndKey", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.Apply(ctx, seedBatch()))

		got, err := e.FindNodes(ctx, Pattern{Type: "Subject", Key: "toy_s2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"subj-2"}, nodeIDs(got))

		got, err = e.FindNodes(ctx, Pattern{Type: "Subject"})
		require.NoError(t, err)
		assert.Equal(t, []string{"subj-1", "subj-2"}, nodeIDs(got))

		got, err = e.FindNodes(ctx, Pattern{Type: "Subject", Key: "nobody"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("FindNodesByAttrs", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.Apply(ctx, seedBatch()))

		got, err := e.FindNodes(ctx, Pattern{Type: "Subject", Attrs: map[string]any{"gender": "female"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"subj-2"}, nodeIDs(got))

		got, err = e.FindNodes(ctx, Pattern{Attrs: map[string]any{"ageOfSubject": 31}})
		require.NoError(t, err)
		assert.Equal(t, []string{"asm-1"}, nodeIDs(got), "int pattern value matches stored float")
	})

	t.Run("FindNodesByLinks", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.Apply(ctx, seedBatch()))

		got, err := e.FindNodes(ctx, Pattern{Type: "Subject", Links: []Link{{Relation: "related_study", Target: "study-1"}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"subj-1", "subj-2"}, nodeIDs(got))

		got, err = e.FindNodes(ctx, Pattern{Type: "Subject", Links: []Link{{Relation: "concerns", Target: "asm-1", Reverse: true}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"subj-1", "subj-2"}, nodeIDs(got))

		got, err = e.FindNodes(ctx, Pattern{Type: "Subject", Links: []Link{{Relation: "concerns", Target: "scan-1", Reverse: true}}})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("FindNodesLimit", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.Apply(ctx, seedBatch()))

		got, err := e.FindNodes(ctx, Pattern{Type: "Subject", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"subj-1"}, nodeIDs(got))
	})

	t.Run("FindEdges", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.Apply(ctx, seedBatch()))

		got, err := e.FindEdges(ctx, EdgePattern{From: "asm-1", Type: "concerns"})
		require.NoError(t, err)
		assert.Equal(t, []Edge{
			{From: "asm-1", Type: "concerns", To: "subj-1"},
			{From: "asm-1", Type: "concerns", To: "subj-2"},
		}, got)

		got, err = e.FindEdges(ctx, EdgePattern{To: "study-1"})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = e.FindEdges(ctx, EdgePattern{From: "asm-1", Type: "concerns", To: "subj-1"})
		require.NoError(t, err)
		assert.Len(t, got, 1)

		got, err = e.FindEdges(ctx, EdgePattern{})
		require.NoError(t, err)
		assert.Len(t, got, 5)
	})

	t.Run("ApplyRejectsUnknownEndpointAtomically", func(t *testing.T) {
		e := newEngine(t)
		err := e.Apply(ctx, Batch{
			Nodes: []Node{{ID: "lonely", Type: "Study", Key: "lonely", Attrs: map[string]any{"name": "lonely"}}},
			Edges: []Edge{{From: "lonely", Type: "holds", To: "ghost"}},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownNode)

		got, err := e.GetNodes(ctx, []string{"lonely"})
		require.NoError(t, err)
		assert.Empty(t, got, "no partial write")
	})

	t.Run("ApplyRejectsDuplicateID", func(t *testing.T) {
		e := newEngine(t)
		err := e.Apply(ctx, Batch{Nodes: []Node{{ID: "x", Type: "Study"}, {ID: "x", Type: "Study"}}})
		assert.Error(t, err)
	})

	t.Run("EdgesToExistingNodes", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.Apply(ctx, seedBatch()))
		require.NoError(t, e.Apply(ctx, Batch{
			Nodes: []Node{{ID: "center-1", Type: "Center", Key: "abc", Attrs: map[string]any{"name": "NS"}}},
			Edges: []Edge{{From: "center-1", Type: "holds", To: "asm-1"}},
		}))

		got, err := e.FindEdges(ctx, EdgePattern{Type: "holds"})
		require.NoError(t, err)
		assert.Equal(t, []Edge{{From: "center-1", Type: "holds", To: "asm-1"}}, got)
	})

	t.Run("LoadRoundTrip", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.Load(ctx, seedBatch()))

		got, err := e.FindNodes(ctx, Pattern{Type: "Scan", Key: "toy_V1_s1_t1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "T1", got[0].Attrs["label"])

		edges, err := e.FindEdges(ctx, EdgePattern{From: "scan-1"})
		require.NoError(t, err)
		assert.Equal(t, []Edge{{From: "scan-1", Type: "in_assessment", To: "asm-1"}}, edges)

		err = e.Load(ctx, Batch{Edges: []Edge{{From: "scan-1", Type: "filesets", To: "ghost"}}})
		assert.ErrorIs(t, err, ErrUnknownNode)
	})

	t.Run("StatsAndSync", func(t *testing.T) {
		e := newEngine(t)
		require.NoError(t, e.Apply(ctx, seedBatch()))
		require.NoError(t, e.Sync(ctx))

		st, err := e.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, st.NodeCount)
		assert.Equal(t, 5, st.EdgeCount)
		assert.Equal(t, 2, st.NodesByType["Subject"])
		assert.Equal(t, 2, st.EdgesByType["concerns"])
	})
}

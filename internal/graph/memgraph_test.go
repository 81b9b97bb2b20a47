package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemGraph_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Engine {
		return NewMemGraph()
	})
}

func TestSQLiteGraph_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Engine {
		g, err := NewSQLiteGraph(filepath.Join(t.TempDir(), "graph.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = g.Close() })
		require.NoError(t, g.InitSchema(context.Background()))
		return g
	})
}

func TestSQLiteGraph_InMemory(t *testing.T) {
	g, err := NewSQLiteGraph(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	ctx := context.Background()
	require.NoError(t, g.InitSchema(ctx))
	require.NoError(t, g.Apply(ctx, seedBatch()))

	st, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, st.NodeCount)
}

func TestSQLiteGraph_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "graph.db")
	ctx := context.Background()

	g, err := NewSQLiteGraph(path)
	require.NoError(t, err)
	require.NoError(t, g.InitSchema(ctx))
	require.NoError(t, g.Apply(ctx, seedBatch()))
	require.NoError(t, g.Sync(ctx))
	require.NoError(t, g.Close())

	g, err = NewSQLiteGraph(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	require.NoError(t, g.InitSchema(ctx))

	got, err := g.FindNodes(ctx, Pattern{Type: "Study", Key: "toy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"study-1"}, nodeIDs(got))
}

func TestMemGraph_ReturnsCopies(t *testing.T) {
	g := NewMemGraph()
	ctx := context.Background()
	require.NoError(t, g.Apply(ctx, seedBatch()))

	got, err := g.GetNodes(ctx, []string{"study-1"})
	require.NoError(t, err)
	got[0].Attrs["name"] = "mutated"

	again, err := g.GetNodes(ctx, []string{"study-1"})
	require.NoError(t, err)
	assert.Equal(t, "toy", again[0].Attrs["name"])
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		e, err := Open(ctx, Options{Kind: KindMemory})
		require.NoError(t, err)
		t.Cleanup(func() { _ = e.Close() })
		assert.IsType(t, &MemGraph{}, e)
	})

	t.Run("sqlite", func(t *testing.T) {
		e, err := Open(ctx, Options{Kind: KindSQLite, Path: filepath.Join(t.TempDir(), "g.db")})
		require.NoError(t, err)
		t.Cleanup(func() { _ = e.Close() })
		require.NoError(t, e.Apply(ctx, seedBatch()))
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := Open(ctx, Options{Kind: "cassandra"})
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" SQLite ")
	require.NoError(t, err)
	assert.Equal(t, KindSQLite, k)

	_, err = ParseKind("oracle")
	assert.ErrorIs(t, err, ErrUnsupported)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/cohortgraph/internal/export"
	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
)

const (
	groupsDoc   = `["toy", "toy_V1"]`
	subjectsDoc = `{"s1": {"identifier": "toy_s1274", "codeInStudy": "s1", "gender": "male", "handedness": "right"}}`
	scansDoc    = `{
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

// writeStudy writes the input documents and a configuration using a SQLite
// engine, and returns the configuration path.
func writeStudy(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	groups := write("groups.json", groupsDoc)
	subjects := write("subjects.json", subjectsDoc)
	scans := write("scans.json", scansDoc)

	cfg := strings.Join([]string{
		"engine:",
		"  kind: sqlite",
		"  path: " + filepath.Join(dir, "graph.db"),
		"storeMode: buffered",
		"logMode: dev",
		"study:",
		"  name: toy",
		"  dataPath: /data/toy",
		"center: Paris",
		"inputs:",
		"  groups: " + groups,
		"  subjects: " + subjects,
		"  scans: " + scans,
	}, "\n") + "\n"
	return write("cohortgraph.yml", cfg)
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestUnknownCommand(t *testing.T) {
	_, err := runCmd(t, "frobnicate")
	require.ErrorIs(t, err, errUsage)

	_, err = runCmd(t)
	require.ErrorIs(t, err, errUsage)
}

func TestGroups(t *testing.T) {
	out, err := runCmd(t, "groups", "toy_V1_s1", "solo")
	require.NoError(t, err)
	assert.Equal(t, "toy_V1_s1: toy, toy_V1\nsolo: solo\n", out)

	out, err = runCmd(t, "groups", "-security", "flat", "toy_V1_s1")
	require.NoError(t, err)
	assert.Equal(t, "toy_V1_s1: users, guests\n", out)

	_, err = runCmd(t, "groups")
	require.Error(t, err)

	_, err = runCmd(t, "groups", "_V1_s1")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.InvalidInput))
}

func TestParseStages(t *testing.T) {
	stages, err := parseStages("groups, Scans")
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "groups", stages[0].String())
	assert.Equal(t, "scans", stages[1].String())

	stages, err = parseStages("")
	require.NoError(t, err)
	assert.Nil(t, stages)

	_, err = parseStages("groups,nope")
	require.Error(t, err)
}

func TestImportStatsExport(t *testing.T) {
	cfgPath := writeStudy(t)

	out, err := runCmd(t, "import", "-config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "[toy] Stage 0: groups")
	assert.Contains(t, out, "✓ scans complete")
	assert.Contains(t, out, "IMPORTER")

	// A second run reuses everything.
	_, err = runCmd(t, "import", "-config", cfgPath)
	require.NoError(t, err)

	out, err = runCmd(t, "stats", "-config", cfgPath, "-json")
	require.NoError(t, err)
	var stats graph.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.NodesByType["Assessment"])
	assert.Equal(t, 1, stats.NodesByType["Scan"])
	assert.Equal(t, 1, stats.NodesByType["Subject"])
	assert.Equal(t, 2, stats.NodesByType["CWGroup"])

	out, err = runCmd(t, "stats", "-config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ENTITIES")
	assert.Contains(t, out, "RELATIONS")

	out, err = runCmd(t, "export", "-config", cfgPath, "-type", "Assessment", "-key", "toy_V1_s1")
	require.NoError(t, err)
	var exp export.GraphExport
	require.NoError(t, json.Unmarshal([]byte(out), &exp))
	assert.Equal(t, "toy_V1_s1", exp.Root.Key)
	assert.NotEmpty(t, exp.Relations)

	out, err = runCmd(t, "export", "-config", cfgPath, "-type", "Assessment", "-key", "toy_V1_s1", "-format", "mermaid")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph LR\n"))

	_, err = runCmd(t, "export", "-config", cfgPath, "-type", "Assessment", "-key", "missing")
	require.ErrorIs(t, err, export.ErrNotFound)
}

func TestImport_StopsOnFault(t *testing.T) {
	cfgPath := writeStudy(t)

	// Without groups the scans stage cannot attach its assessment.
	_, err := runCmd(t, "import", "-config", cfgPath, "-stages", "subjects,scans")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.MissingGroup))
}

func TestLoad_FlagOverrides(t *testing.T) {
	_, err := runCmd(t, "stats", "-dir", t.TempDir(), "-engine", "oracle")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.UnsupportedBackend))

	_, err = runCmd(t, "stats", "-dir", t.TempDir(), "-store-mode", "eventual")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.UnsupportedBackend))
}

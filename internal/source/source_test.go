package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/cohortgraph/internal/config"
	"github.com/dusk-indust/cohortgraph/internal/faults"
)

// fakeS3 serves objects from a map keyed by "bucket/key".
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	gets    int
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseS3(t *testing.T) {
	tests := []struct {
		ref, bucket, key string
		ok               bool
	}{
		{"s3://cohorts/toy/scans.json", "cohorts", "toy/scans.json", true},
		{"s3://cohorts/", "", "", false},
		{"s3://", "", "", false},
		{"/data/scans.json", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, key, ok := ParseS3(tt.ref)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeS3{objects: map[string]string{
		"cohorts/toy/scans.json": `{"s1": [{"Assessment": {"identifier": "toy_V1_s1"}, "Scans": []}]}`,
	}}
	l := NewLoader(Options{Client: fake})

	docs, err := LoadAll(context.Background(), l, config.Inputs{
		Groups:   writeFile(t, dir, "groups.json", `["toy", "toy_V1"]`),
		Subjects: writeFile(t, dir, "subjects.json", `{"s1": {"identifier": "toy_s1", "groups": ["g"]}}`),
		Scans:    "s3://cohorts/toy/scans.json",
		MetaGen:  writeFile(t, dir, "metagen.json", `{"Chromosomes": [{"name": "chr1"}]}`),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"toy", "toy_V1"}, []string(docs.Groups))
	require.Contains(t, docs.Subjects, "s1")
	assert.Equal(t, []string{"g"}, docs.Subjects["s1"].Groups)
	require.Len(t, docs.Scans["s1"], 1)
	require.NotNil(t, docs.MetaGen)
	assert.Len(t, docs.MetaGen.Chromosomes, 1)
	assert.Nil(t, docs.Users)
	assert.Nil(t, docs.Genetics)
	assert.Equal(t, 1, fake.gets)
}

func TestLoadAll_Errors(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(Options{Client: &fakeS3{objects: map[string]string{}}})

	_, err := LoadAll(context.Background(), l, config.Inputs{Groups: writeFile(t, dir, "bad.json", `{not json`)})
	assert.True(t, faults.Is(err, faults.InvalidInput))

	_, err = LoadAll(context.Background(), l, config.Inputs{Scans: "s3://cohorts/missing.json"})
	assert.ErrorContains(t, err, "NoSuchKey")

	_, err = LoadAll(context.Background(), l, config.Inputs{Subjects: filepath.Join(dir, "absent.json")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = l.Read(context.Background(), "s3://bucket-only")
	assert.True(t, faults.Is(err, faults.InvalidInput))
}

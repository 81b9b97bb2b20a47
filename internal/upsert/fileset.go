package upsert

import (
	"context"

	"github.com/dusk-indust/cohortgraph/internal/schema"
)

// AttachFileSet creates a FileSet holding one ExternalFile per entry of
// files and links it to parentID and assessmentID.
//
// Nothing here is checked for uniqueness: callers only attach file sets to
// parents they created in the same run.
func (w *Writer) AttachFileSet(ctx context.Context, fileSet map[string]any, files []map[string]any, parentID, assessmentID string) (string, error) {
	fsID, err := w.Create(ctx, "FileSet", fileSet)
	if err != nil {
		return "", err
	}
	if err := w.Link(ctx, parentID, schema.RelFileSets, fsID, false); err != nil {
		return "", err
	}
	if err := w.Link(ctx, fsID, schema.RelInAssessment, assessmentID, false); err != nil {
		return "", err
	}
	for _, f := range files {
		efID, err := w.Create(ctx, "ExternalFile", f)
		if err != nil {
			return "", err
		}
		if err := w.Link(ctx, fsID, schema.RelExternalFiles, efID, false); err != nil {
			return "", err
		}
		if err := w.Link(ctx, efID, schema.RelInAssessment, assessmentID, false); err != nil {
			return "", err
		}
	}
	return fsID, nil
}

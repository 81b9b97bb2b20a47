package upsert

import (
	"context"
	"strings"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/schema"
)

// SecurityMode selects how an assessment's access groups are chosen.
type SecurityMode int

const (
	// Derived groups come from the assessment identifier.
	Derived SecurityMode = iota
	// Flat uses the two fixed groups "users" and "guests".
	Flat
)

// FlatGroups are the groups every assessment is attached to in Flat mode.
var FlatGroups = []string{"users", "guests"}

func (m SecurityMode) String() string {
	if m == Flat {
		return "flat"
	}
	return "derived"
}

// ParseSecurityMode maps "derived" (or "") and "flat".
func ParseSecurityMode(s string) (SecurityMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "derived":
		return Derived, nil
	case "flat":
		return Flat, nil
	}
	return Derived, faults.New(faults.InvalidInput, "unknown security mode %q", s)
}

// Access says which access edges groups get on a new assessment.
type Access struct {
	CanRead   bool
	CanUpdate bool
}

// DeriveGroupNames returns the group names implied by an assessment
// identifier: its first "_" token, then the first two tokens joined by "_".
// A single-token identifier yields one name. Empty tokens are kept as they
// are; GetOrCreate rejects them.
func DeriveGroupNames(identifier string) []string {
	tokens := strings.Split(identifier, "_")
	names := []string{tokens[0]}
	if len(tokens) > 1 {
		names = append(names, tokens[0]+"_"+tokens[1])
	}
	return names
}

// CheckGroupTokens reports an InvalidInput fault when a token that names a
// derived group of identifier is empty.
func CheckGroupTokens(identifier string) error {
	if f := checkGroupTokens(identifier); f != nil {
		return f
	}
	return nil
}

func checkGroupTokens(identifier string) *faults.Fault {
	tokens := strings.SplitN(identifier, "_", 3)
	if tokens[0] == "" || (len(tokens) > 1 && tokens[1] == "") {
		return faults.New(faults.InvalidInput, "assessment %q: empty token in derived group name", identifier).
			With(faults.CtxIdentifier, identifier)
	}
	return nil
}

// AssessmentRequest describes one call to GetOrCreate.
type AssessmentRequest struct {
	Identifier string
	Attrs      map[string]any
	SubjectIDs []string
	StudyID    string
	CenterID   string
	// DeviceID is optional.
	DeviceID string
}

type assessmentState struct {
	id       string
	subjects map[string]bool
}

// Assessments is the AssessmentAggregator. It memoizes every assessment it
// has resolved for the lifetime of one importer run.
type Assessments struct {
	w      *Writer
	mode   SecurityMode
	access Access
	groups map[string]string
	memo   map[string]*assessmentState
}

// NewAssessments builds an aggregator. groups maps group names to ids and
// may be nil; names missing from it are looked up in the store.
func NewAssessments(w *Writer, mode SecurityMode, access Access, groups map[string]string) *Assessments {
	g := make(map[string]string, len(groups))
	for k, v := range groups {
		g[k] = v
	}
	return &Assessments{
		w:      w,
		mode:   mode,
		access: access,
		groups: g,
		memo:   make(map[string]*assessmentState),
	}
}

// GroupNames returns the groups a new assessment with this identifier gets.
func (a *Assessments) GroupNames(identifier string) []string {
	if a.mode == Flat {
		return append([]string(nil), FlatGroups...)
	}
	return DeriveGroupNames(identifier)
}

// GetOrCreate returns the assessment for req.Identifier. A new assessment
// is linked to its study, center, device, subjects and access groups; an
// existing one only gains the subjects it was not linked to yet.
func (a *Assessments) GetOrCreate(ctx context.Context, req AssessmentRequest) (string, bool, error) {
	if req.Identifier == "" {
		return "", false, a.w.fail(faults.New(faults.InvalidInput, "assessment without identifier").
			With(faults.CtxEntityType, "Assessment"))
	}
	if st, ok := a.memo[req.Identifier]; ok {
		return st.id, false, a.addSubjects(ctx, st, req.SubjectIDs)
	}

	u := Uniqueness{Attr: "identifier", Value: req.Identifier}
	id, found, err := a.w.Find(ctx, "Assessment", u)
	if err != nil {
		return "", false, err
	}
	if found {
		st, err := a.loadState(ctx, id)
		if err != nil {
			return "", false, err
		}
		a.memo[req.Identifier] = st
		return id, false, a.addSubjects(ctx, st, req.SubjectIDs)
	}

	// Groups are checked before anything is written.
	groupIDs, err := a.groupIDs(ctx, req.Identifier)
	if err != nil {
		return "", false, err
	}

	id, _, err = a.w.Resolve(ctx, "Assessment", u, req.Attrs)
	if err != nil {
		return "", false, err
	}
	st := &assessmentState{id: id, subjects: make(map[string]bool)}
	a.memo[req.Identifier] = st

	// Fresh assessment: its edges are unique by construction.
	if req.StudyID != "" {
		if err := a.w.Link(ctx, id, schema.RelRelatedStudy, req.StudyID, false); err != nil {
			return "", false, err
		}
	}
	if req.CenterID != "" {
		if err := a.w.Link(ctx, req.CenterID, schema.RelHolds, id, false); err != nil {
			return "", false, err
		}
	}
	if req.DeviceID != "" {
		if err := a.w.Link(ctx, id, schema.RelUsesDevice, req.DeviceID, false); err != nil {
			return "", false, err
		}
	}
	if err := a.addSubjects(ctx, st, req.SubjectIDs); err != nil {
		return "", false, err
	}
	for _, gid := range groupIDs {
		if a.access.CanRead {
			if err := a.w.Link(ctx, gid, schema.RelCanRead, id, false); err != nil {
				return "", false, err
			}
		}
		if a.access.CanUpdate {
			if err := a.w.Link(ctx, gid, schema.RelCanUpdate, id, false); err != nil {
				return "", false, err
			}
		}
	}
	return id, true, nil
}

// loadState reads the subjects an existing assessment already concerns.
func (a *Assessments) loadState(ctx context.Context, id string) (*assessmentState, error) {
	edges, err := a.w.store.Edges(ctx, graph.EdgePattern{From: id, Type: schema.RelConcerns})
	if err != nil {
		return nil, err
	}
	st := &assessmentState{id: id, subjects: make(map[string]bool, len(edges))}
	for _, e := range edges {
		st.subjects[e.To] = true
	}
	return st, nil
}

// addSubjects links the subjects not yet in the cached set.
func (a *Assessments) addSubjects(ctx context.Context, st *assessmentState, subjects []string) error {
	for _, sid := range subjects {
		if sid == "" || st.subjects[sid] {
			continue
		}
		if err := a.w.Link(ctx, st.id, schema.RelConcerns, sid, false); err != nil {
			return err
		}
		st.subjects[sid] = true
	}
	return nil
}

func (a *Assessments) groupIDs(ctx context.Context, identifier string) ([]string, error) {
	if !a.access.CanRead && !a.access.CanUpdate {
		return nil, nil
	}
	if a.mode == Derived {
		if f := checkGroupTokens(identifier); f != nil {
			return nil, a.w.fail(f)
		}
	}
	names := a.GroupNames(identifier)
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, err := a.group(ctx, name, identifier)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *Assessments) group(ctx context.Context, name, identifier string) (string, error) {
	if id, ok := a.groups[name]; ok {
		return id, nil
	}
	id, found, err := a.w.Find(ctx, "CWGroup", Uniqueness{Attr: "name", Value: name})
	if err != nil {
		return "", err
	}
	if !found {
		return "", a.w.fail(faults.New(faults.MissingGroup, "group %q required by assessment %q does not exist", name, identifier).
			With(faults.CtxGroup, name).
			With(faults.CtxIdentifier, identifier))
	}
	a.groups[name] = id
	return id, nil
}

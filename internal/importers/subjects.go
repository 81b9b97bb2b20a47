package importers

import (
	"context"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

// ---------- Groups ----------

// Groups creates the access-control groups that do not exist yet.
func Groups(ctx context.Context, w *upsert.Writer, in GroupsInput, opts Options) (*Report, error) {
	s := newSession(NameGroups, w, opts)
	return s.run(ctx, len(in), func(ctx context.Context, c *counter) error {
		for _, name := range in {
			if _, _, err := w.ResolveByKey(ctx, "CWGroup", map[string]any{"name": name}); err != nil {
				return err
			}
			c.step()
		}
		return nil
	})
}

// ---------- Users ----------

// Users creates users by login and links them to existing groups.
func Users(ctx context.Context, w *upsert.Writer, in UsersInput, opts Options) (*Report, error) {
	s := newSession(NameUsers, w, opts)
	return s.run(ctx, len(in), func(ctx context.Context, c *counter) error {
		if err := s.loadGroups(ctx); err != nil {
			return err
		}
		for _, u := range in {
			if err := s.requireGroups(ctx, u.Attrs.str("login"), u.Groups); err != nil {
				return err
			}
		}
		for _, u := range in {
			user, created, err := w.ResolveByKey(ctx, "CWUser", u.Attrs.clone())
			if err != nil {
				return err
			}
			for _, g := range dedupe(u.Groups) {
				if err := w.Link(ctx, user, schema.RelInGroup, s.groups[g], !created); err != nil {
					return err
				}
			}
			c.step()
		}
		return nil
	})
}

// requireGroups fails with MissingGroup when one of names is unknown.
func (s *session) requireGroups(ctx context.Context, owner string, names []string) error {
	for _, name := range names {
		if _, ok := s.groups[name]; ok {
			continue
		}
		id, found, err := s.w.Find(ctx, "CWGroup", upsert.Uniqueness{Attr: "name", Value: name})
		if err != nil {
			return err
		}
		if !found {
			return s.fail(faults.New(faults.MissingGroup, "group %q required by %q does not exist", name, owner).
				With(faults.CtxGroup, name))
		}
		s.groups[name] = id
	}
	return nil
}

// ---------- Subjects ----------

// Subjects imports subjects into the configured study, with their subject
// groups, protocols, diagnostic and relatives. Subject keys are their codes
// in the study.
func Subjects(ctx context.Context, w *upsert.Writer, in SubjectsInput, opts Options) (*Report, error) {
	s := newSession(NameSubjects, w, opts)
	keys := sortedKeys(in)
	return s.run(ctx, len(in), func(ctx context.Context, c *counter) error {
		if err := s.loadSubjects(ctx); err != nil {
			return err
		}
		for _, key := range keys {
			for _, rel := range in[key].Relatives {
				if _, inDoc := in[rel]; !inDoc {
					if err := s.requireSubjects([]string{rel}); err != nil {
						return err
					}
				}
			}
		}
		if err := s.resolveStudy(ctx); err != nil {
			return err
		}

		for _, key := range keys {
			if err := s.subject(ctx, key, in[key]); err != nil {
				return err
			}
			c.step()
		}
		// Relatives last: both ends must exist.
		for _, key := range keys {
			for _, rel := range dedupe(in[key].Relatives) {
				if err := w.Link(ctx, s.subjects[key], schema.RelRelatives, s.subjects[rel], true); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *session) subject(ctx context.Context, key string, rec SubjectRecord) error {
	attrs := rec.Attrs.clone()
	if _, ok := attrs["codeInStudy"]; !ok {
		attrs["codeInStudy"] = key
	}
	id, created, err := s.w.ResolveByKey(ctx, "Subject", attrs)
	if err != nil {
		return err
	}
	s.subjects[key] = id
	if err := s.w.Link(ctx, id, schema.RelRelatedStudy, s.study, !created); err != nil {
		return err
	}

	for _, name := range dedupe(rec.Groups) {
		g, _, err := s.w.ResolveByKey(ctx, "SubjectGroup", map[string]any{"name": name})
		if err != nil {
			return err
		}
		if err := s.w.Link(ctx, id, schema.RelSubjectGroups, g, !created); err != nil {
			return err
		}
	}
	for _, name := range dedupe(rec.Protocols) {
		p, pCreated, err := s.w.ResolveByKey(ctx, "Protocol", map[string]any{"name": name})
		if err != nil {
			return err
		}
		if err := s.w.Link(ctx, p, schema.RelRelatedStudy, s.study, !pCreated); err != nil {
			return err
		}
		if err := s.w.Link(ctx, id, schema.RelRelatedProtocols, p, !created); err != nil {
			return err
		}
	}
	// Diagnostic has no natural key: only a new subject gets one.
	if rec.Diagnostic != "" && created {
		d, err := s.w.Create(ctx, "Diagnostic", map[string]any{"label": rec.Diagnostic})
		if err != nil {
			return err
		}
		if err := s.w.Link(ctx, id, schema.RelDiagnosis, d, false); err != nil {
			return err
		}
	}
	return nil
}

// dedupe drops repeated and empty strings, keeping the first occurrence.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

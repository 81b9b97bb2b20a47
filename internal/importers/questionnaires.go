package importers

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/ident"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

// Answer value types selectable with a "question: type" annotation.
const (
	AnswerText  = "text"
	AnswerInt   = "int"
	AnswerFloat = "float"
)

// annotationSep separates a question text from its answer type.
const annotationSep = ":"

// question is one parsed "text[: type]" key with its converted answer.
type question struct {
	text  string
	kind  string
	value any
}

// ParseQuestionKey splits a questionnaire key into the question text and
// its declared answer type ("" when not annotated). Every ":" in a key is
// read as the annotation operator, so question text cannot contain a colon:
// "time: morning" names the unknown type "morning". More than one
// annotation operator, or an unknown type, is an InvalidAnnotation fault.
func ParseQuestionKey(key string) (text, kind string, err error) {
	text, kind, f := parseKey(key)
	if f != nil {
		return "", "", f
	}
	return text, kind, nil
}

func parseKey(key string) (text, kind string, f *faults.Fault) {
	switch strings.Count(key, annotationSep) {
	case 0:
		return strings.TrimSpace(key), "", nil
	case 1:
		text, kind, _ = strings.Cut(key, annotationSep)
		text = strings.TrimSpace(text)
		kind = strings.ToLower(strings.TrimSpace(kind))
		switch kind {
		case AnswerText, AnswerInt, AnswerFloat:
			return text, kind, nil
		}
		return "", "", faults.New(faults.InvalidAnnotation, "question %q: unknown answer type %q", key, kind).
			With(faults.CtxIdentifier, key)
	default:
		return "", "", faults.New(faults.InvalidAnnotation, "question %q has more than one %q annotation", key, annotationSep).
			With(faults.CtxIdentifier, key)
	}
}

// parseQuestion parses a key and converts its answer to the declared type,
// or infers the type from the value when the key is not annotated.
func parseQuestion(key string, value any) (question, *faults.Fault) {
	text, kind, f := parseKey(key)
	if f != nil {
		return question{}, f
	}
	if text == "" {
		return question{}, faults.New(faults.InvalidAnnotation, "question %q has no text", key).
			With(faults.CtxIdentifier, key)
	}
	if kind == "" {
		kind = inferKind(value)
	}
	converted, ok := convertAnswer(value, kind)
	if !ok {
		return question{}, faults.New(faults.InvalidInput, "question %q: answer %v is not %s", text, value, kind).
			With(faults.CtxIdentifier, key)
	}
	return question{text: text, kind: kind, value: converted}, nil
}

func inferKind(v any) string {
	if f, ok := v.(float64); ok {
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return AnswerInt
		}
		return AnswerFloat
	}
	return AnswerText
}

func convertAnswer(v any, kind string) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch kind {
	case AnswerInt:
		switch x := v.(type) {
		case float64:
			if x != math.Trunc(x) {
				return nil, false
			}
			return int64(x), true
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			return n, err == nil
		}
		return nil, false
	case AnswerFloat:
		switch x := v.(type) {
		case float64:
			return x, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			return f, err == nil
		}
		return nil, false
	default:
		return asText(v), true
	}
}

// Questionnaires imports questionnaire runs. All question keys are parsed
// before the first write, so a bad annotation aborts the run cleanly.
func Questionnaires(ctx context.Context, w *upsert.Writer, in QuestionnairesInput, opts Options) (*Report, error) {
	s := newSession(NameQuestionnaires, w, opts)
	keys := sortedKeys(in)
	total := 0
	for _, eps := range in {
		for _, ep := range eps {
			total += len(ep.Questionnaires)
		}
	}
	return s.run(ctx, total, func(ctx context.Context, c *counter) error {
		for _, key := range keys {
			for _, ep := range in[key] {
				if ep.Assessment.str("identifier") == "" {
					return s.fail(faults.New(faults.InvalidInput, "questionnaire episode of %q without assessment identifier", key).
						With(faults.CtxSubject, key))
				}
				for _, answers := range ep.Questionnaires {
					for qkey, value := range answers {
						if _, f := parseQuestion(qkey, value); f != nil {
							return s.fail(f)
						}
					}
				}
			}
		}
		if err := s.prepare(ctx, keys); err != nil {
			return err
		}
		for _, key := range keys {
			for _, ep := range in[key] {
				if err := s.questionnaireEpisode(ctx, key, ep, c); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *session) questionnaireEpisode(ctx context.Context, subject string, ep QuestionnaireEpisode, c *counter) error {
	assessment, identifier, err := s.assessment(ctx, ep.Assessment, "", subject)
	if err != nil {
		return err
	}
	for _, name := range sortedKeys(ep.Questionnaires) {
		if err := s.questionnaireRun(ctx, subject, assessment, identifier, name, ep.Questionnaires[name]); err != nil {
			return err
		}
		c.step()
	}
	return nil
}

func (s *session) questionnaireRun(ctx context.Context, subject, assessment, identifier, name string, answers map[string]any) error {
	qnr, _, err := s.w.ResolveByKey(ctx, "Questionnaire", map[string]any{"name": name})
	if err != nil {
		return err
	}
	run, created, err := s.w.ResolveByKey(ctx, "QuestionnaireRun", map[string]any{
		"identifier": identifier + "_" + name,
		"name":       name,
	})
	if err != nil {
		return err
	}
	if !created {
		s.log.Debug("questionnaire run already imported", "identifier", identifier+"_"+name)
		return nil
	}
	if err := s.episodeLinks(ctx, run, assessment, subject); err != nil {
		return err
	}
	if err := s.w.Link(ctx, run, schema.RelInstanceOf, qnr, false); err != nil {
		return err
	}

	parsed := make([]question, 0, len(answers))
	for key, value := range answers {
		q, f := parseQuestion(key, value)
		if f != nil {
			return s.fail(f)
		}
		parsed = append(parsed, q)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].text < parsed[j].text })

	for i, q := range parsed {
		qid, qCreated, err := s.w.ResolveByKey(ctx, "Question", map[string]any{
			"identifier": ident.Hash(name + annotationSep + q.text),
			"text":       q.text,
			"type":       q.kind,
			"position":   i,
		})
		if err != nil {
			return err
		}
		if err := s.w.Link(ctx, qnr, schema.RelQuestions, qid, !qCreated); err != nil {
			return err
		}
		ans, err := s.w.Create(ctx, "Answer", map[string]any{"value": q.value, "type": q.kind})
		if err != nil {
			return err
		}
		if err := s.w.Link(ctx, run, schema.RelAnswers, ans, false); err != nil {
			return err
		}
		if err := s.w.Link(ctx, ans, schema.RelQuestion, qid, false); err != nil {
			return err
		}
		if err := s.w.Link(ctx, ans, schema.RelInAssessment, assessment, false); err != nil {
			return err
		}
	}
	return nil
}

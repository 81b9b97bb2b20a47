package importers

import (
	"encoding/json"
	"fmt"
)

// Attrs is a free-form attribute set as it appears in input documents.
type Attrs map[string]any

// clone returns a shallow copy of a, never nil.
func (a Attrs) clone() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// str returns a[key] as a string, "" when absent.
func (a Attrs) str(key string) string { return asText(a[key]) }

func asText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// splitReserved decodes a JSON object, moving the reserved keys into a
// separate map and returning everything else as attributes.
func splitReserved(data []byte, reserved ...string) (Attrs, map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	special := make(map[string]json.RawMessage)
	for _, k := range reserved {
		if v, ok := raw[k]; ok {
			special[k] = v
			delete(raw, k)
		}
	}
	attrs := make(Attrs, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		attrs[k] = val
	}
	return attrs, special, nil
}

func decodeReserved(special map[string]json.RawMessage, key string, dst any) error {
	raw, ok := special[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// ---------- Groups / Users ----------

// GroupsInput lists access-control group names.
type GroupsInput []string

// UserRecord is one CWUser; "groups" names the groups it belongs to.
type UserRecord struct {
	Attrs  Attrs
	Groups []string
}

func (r *UserRecord) UnmarshalJSON(data []byte) error {
	attrs, special, err := splitReserved(data, "groups")
	if err != nil {
		return err
	}
	r.Attrs = attrs
	return decodeReserved(special, "groups", &r.Groups)
}

// UsersInput lists users.
type UsersInput []UserRecord

// ---------- Subjects ----------

// SubjectRecord is one subject. The reserved keys groups, protocols,
// diagnostic and relatives become links; the rest are Subject attributes.
type SubjectRecord struct {
	Attrs      Attrs
	Groups     []string
	Protocols  []string
	Diagnostic string
	// Relatives are subject keys of the same document or already imported
	// codes in the study.
	Relatives []string
}

func (r *SubjectRecord) UnmarshalJSON(data []byte) error {
	attrs, special, err := splitReserved(data, "groups", "protocols", "diagnostic", "relatives")
	if err != nil {
		return err
	}
	r.Attrs = attrs
	if err := decodeReserved(special, "groups", &r.Groups); err != nil {
		return err
	}
	if err := decodeReserved(special, "protocols", &r.Protocols); err != nil {
		return err
	}
	if err := decodeReserved(special, "diagnostic", &r.Diagnostic); err != nil {
		return err
	}
	return decodeReserved(special, "relatives", &r.Relatives)
}

// SubjectsInput maps subject keys (codes in the study) to records.
type SubjectsInput map[string]SubjectRecord

// ---------- Shared parts ----------

// ScoreRecord is one score attached to a scan or processing run.
type ScoreRecord struct {
	Definition Attrs `json:"ScoreDefinition"`
	Value      Attrs `json:"ScoreValue"`
}

// FileSetRecord is a FileSet and the external files it holds.
type FileSetRecord struct {
	FileSet           Attrs   `json:"FileSet"`
	ExternalResources []Attrs `json:"ExternalResources"`
}

// ---------- Scans ----------

// ScanRecord is one scan of an episode.
type ScanRecord struct {
	Scan              Attrs         `json:"Scan"`
	TypeData          Attrs         `json:"TypeData"`
	FileSet           Attrs         `json:"FileSet"`
	ExternalResources []Attrs       `json:"ExternalResources"`
	Scores            []ScoreRecord `json:"Scores,omitempty"`
}

// ScanEpisode groups the scans of one assessment.
type ScanEpisode struct {
	Assessment Attrs `json:"Assessment"`
	// Device holds manufacturer, model and serialNumber.
	Device Attrs `json:"Device,omitempty"`
	// ExamCard is attached to the device when the device is first created.
	ExamCard *FileSetRecord `json:"ExamCard,omitempty"`
	Scans    []ScanRecord   `json:"Scans"`
}

// ScansInput maps subject keys to episodes.
type ScansInput map[string][]ScanEpisode

// ---------- Questionnaires ----------

// QuestionnaireEpisode holds the answers of one assessment, per
// questionnaire name then per question key.
type QuestionnaireEpisode struct {
	Assessment     Attrs                     `json:"Assessment"`
	Questionnaires map[string]map[string]any `json:"Questionnaires"`
}

// QuestionnairesInput maps subject keys to episodes.
type QuestionnairesInput map[string][]QuestionnaireEpisode

// ---------- Genetics ----------

// PlatformRecord is a genomic platform. RelatedSubjects are subject keys.
type PlatformRecord struct {
	Name            string   `json:"name"`
	RelatedSubjects []string `json:"relatedSubjects,omitempty"`
	RelatedSnps     []string `json:"relatedSnps,omitempty"`
}

// GenomicMeasureRecord is one measure of an episode.
type GenomicMeasureRecord struct {
	GenomicMeasure    Attrs          `json:"GenomicMeasure"`
	GenomicPlatform   PlatformRecord `json:"GenomicPlatform"`
	FileSet           Attrs          `json:"FileSet"`
	ExternalResources []Attrs        `json:"ExternalResources"`
}

// GeneticsEpisode groups the measures of one assessment.
type GeneticsEpisode struct {
	Assessment      Attrs                  `json:"Assessment"`
	GenomicMeasures []GenomicMeasureRecord `json:"GenomicMeasures"`
}

// GeneticsInput maps timepoints to episodes.
type GeneticsInput map[string][]GeneticsEpisode

// ---------- Processings ----------

// ProcessingRecord is one processing run. Inputs are entity patterns (see
// graph.ParsePattern) naming upstream entities; ExternalResources[i] belongs
// to FileSets[i].
type ProcessingRecord struct {
	ProcessingRun     Attrs         `json:"ProcessingRun"`
	Inputs            []string      `json:"Inputs,omitempty"`
	FileSets          []Attrs       `json:"FileSets,omitempty"`
	ExternalResources [][]Attrs     `json:"ExternalResources,omitempty"`
	Scores            []ScoreRecord `json:"Scores,omitempty"`
}

// ProcessingEpisode groups the runs of one assessment.
type ProcessingEpisode struct {
	Assessment  Attrs              `json:"Assessment"`
	Processings []ProcessingRecord `json:"Processings"`
}

// ProcessingsInput maps subject keys to episodes.
type ProcessingsInput map[string][]ProcessingEpisode

// ---------- MetaGen ----------

// GeneRecord is a reference gene on a chromosome.
type GeneRecord struct {
	Gene       Attrs  `json:"Gene"`
	Chromosome string `json:"Chromosome"`
}

// SnpRecord is a reference SNP with its chromosome and genes.
type SnpRecord struct {
	Snp        Attrs    `json:"Snp"`
	Chromosome string   `json:"Chromosome,omitempty"`
	Genes      []string `json:"Genes,omitempty"`
}

// MetaGenInput is reference genomics data.
type MetaGenInput struct {
	Chromosomes []Attrs          `json:"Chromosomes,omitempty"`
	Genes       []GeneRecord     `json:"Genes,omitempty"`
	Snps        []SnpRecord      `json:"Snps,omitempty"`
	Platforms   []PlatformRecord `json:"Platforms,omitempty"`
}

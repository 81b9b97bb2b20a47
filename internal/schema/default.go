package schema

// Relation names used by the importers.
const (
	RelRelatedStudy     = "related_study"
	RelHolds            = "holds"
	RelConcerns         = "concerns"
	RelUsesDevice       = "uses_device"
	RelDeviceCenter     = "device_center"
	RelInAssessment     = "in_assessment"
	RelCanRead          = "can_read"
	RelCanUpdate        = "can_update"
	RelInGroup          = "in_group"
	RelSubjectGroups    = "subject_groups"
	RelRelatedProtocols = "related_protocols"
	RelDiagnosis        = "diagnosis"
	RelRelatives        = "relatives"
	RelHasData          = "has_data"
	RelFileSets         = "filesets"
	RelExternalFiles    = "external_files"
	RelScoreValues      = "score_values"
	RelDefinition       = "definition"
	RelInstanceOf       = "instance_of"
	RelQuestions        = "questions"
	RelAnswers          = "answers"
	RelQuestion         = "question"
	RelPlatform         = "platform"
	RelRelatedSnps      = "related_snps"
	RelSnpChromosome    = "snp_chromosome"
	RelGeneChromosome   = "gene_chromosome"
	RelSnpGenes         = "snp_genes"
	RelInputs           = "inputs"
)

// TypeDataTypes are the typed sub-records a Scan may own through has_data.
var TypeDataTypes = []string{"MRIData", "DMRIData", "FMRIData", "PETData", "CTData", "EEGData"}

// IsTypeData reports whether t names a scan typed-data entity.
func IsTypeData(t string) bool {
	for _, candidate := range TypeDataTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

var (
	episodes      = []string{"Scan", "QuestionnaireRun", "GenomicMeasure", "ProcessingRun"}
	fileSetOwners = []string{"Scan", "ProcessingRun", "GenomicMeasure", "Device", "BioSample"}
)

func list(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Default returns the declarations for neuroimaging and genomic cohorts.
func Default() *Registry {
	entities := []EntityDecl{
		{Type: "Study", Key: "name", Required: []string{"name"}},
		{Type: "Center", Key: "identifier", Required: []string{"name", "identifier"}},
		{Type: "Subject", Key: "identifier", Required: []string{"identifier", "codeInStudy"}},
		{Type: "SubjectGroup", Key: "name", Required: []string{"name"}},
		{Type: "Protocol", Key: "name", Required: []string{"name"}},
		{Type: "Diagnostic"},
		{Type: "Assessment", Key: "identifier", Required: []string{"identifier"}},
		{Type: "CWGroup", Key: "name", Required: []string{"name"}},
		{Type: "CWUser", Key: "login", Required: []string{"login"}},
		{Type: "Device", Key: "identifier", Required: []string{"identifier"}},
		{Type: "BioSample", Key: "identifier", Required: []string{"identifier"}},

		{Type: "Scan", Key: "identifier", Required: []string{"identifier"}, Restricted: true},
		{Type: "QuestionnaireRun", Key: "identifier", Required: []string{"identifier"}, Restricted: true},
		{Type: "GenomicMeasure", Key: "identifier", Required: []string{"identifier"}, Restricted: true},
		{Type: "ProcessingRun", Key: "identifier", Required: []string{"identifier"}, Restricted: true},
		{Type: "FileSet", Restricted: true},
		{Type: "ExternalFile", Required: []string{"filepath"}, Restricted: true},
		{Type: "ScoreValue", Required: []string{"text"}, Restricted: true},
		{Type: "Answer", Restricted: true},

		{Type: "ScoreDefinition", Key: "name", Required: []string{"name"}},
		{Type: "Questionnaire", Key: "name", Required: []string{"name"}},
		{Type: "Question", Key: "identifier", Required: []string{"identifier", "text"}},
		{Type: "GenomicPlatform", Key: "name", Required: []string{"name"}},
		{Type: "Snp", Key: "rsId", Required: []string{"rsId"}},
		{Type: "Chromosome", Key: "name", Required: []string{"name"}},
		{Type: "Gene", Key: "name", Required: []string{"name"}},
	}
	for _, t := range TypeDataTypes {
		entities = append(entities, EntityDecl{Type: t})
	}

	relations := []RelationDecl{
		{Name: RelRelatedStudy, From: list([]string{"Subject", "Assessment", "Protocol"}, episodes), To: []string{"Study"}},
		{Name: RelHolds, From: []string{"Center"}, To: []string{"Assessment"}},
		{Name: RelConcerns, From: list([]string{"Assessment"}, episodes), To: []string{"Subject"}},
		{Name: RelUsesDevice, From: []string{"Assessment", "Scan"}, To: []string{"Device"}},
		{Name: RelDeviceCenter, From: []string{"Device"}, To: []string{"Center"}},
		{Name: RelInAssessment, From: list(episodes, []string{"FileSet", "ExternalFile", "ScoreValue", "Answer"}), To: []string{"Assessment"}},
		{Name: RelCanRead, From: []string{"CWGroup"}, To: []string{"Assessment"}},
		{Name: RelCanUpdate, From: []string{"CWGroup"}, To: []string{"Assessment"}},
		{Name: RelInGroup, From: []string{"CWUser"}, To: []string{"CWGroup"}},
		{Name: RelSubjectGroups, From: []string{"Subject"}, To: []string{"SubjectGroup"}},
		{Name: RelRelatedProtocols, From: []string{"Subject"}, To: []string{"Protocol"}},
		{Name: RelDiagnosis, From: []string{"Subject"}, To: []string{"Diagnostic"}},
		{Name: RelRelatives, From: []string{"Subject"}, To: []string{"Subject"}, Symmetric: true},
		{Name: RelHasData, From: []string{"Scan"}, To: TypeDataTypes},
		{Name: RelFileSets, From: fileSetOwners, To: []string{"FileSet"}},
		{Name: RelExternalFiles, From: []string{"FileSet"}, To: []string{"ExternalFile"}},
		{Name: RelScoreValues, From: []string{"Scan", "ProcessingRun", "QuestionnaireRun"}, To: []string{"ScoreValue"}},
		{Name: RelDefinition, From: []string{"ScoreValue"}, To: []string{"ScoreDefinition"}},
		{Name: RelInstanceOf, From: []string{"QuestionnaireRun"}, To: []string{"Questionnaire"}},
		{Name: RelQuestions, From: []string{"Questionnaire"}, To: []string{"Question"}},
		{Name: RelAnswers, From: []string{"QuestionnaireRun"}, To: []string{"Answer"}},
		{Name: RelQuestion, From: []string{"Answer"}, To: []string{"Question"}},
		{Name: RelPlatform, From: []string{"GenomicMeasure"}, To: []string{"GenomicPlatform"}},
		{Name: RelRelatedSnps, From: []string{"GenomicPlatform"}, To: []string{"Snp"}},
		{Name: RelSnpChromosome, From: []string{"Snp"}, To: []string{"Chromosome"}},
		{Name: RelGeneChromosome, From: []string{"Gene"}, To: []string{"Chromosome"}},
		{Name: RelSnpGenes, From: []string{"Snp"}, To: []string{"Gene"}},
		{Name: RelInputs, From: []string{"ProcessingRun"}, To: []string{Any}},
	}
	return MustRegistry(entities, relations)
}

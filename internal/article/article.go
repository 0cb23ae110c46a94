// Package article defines the records the classification pipeline operates on.
package article

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidExternalID is returned when an identifier cannot be derived from input.
var ErrInvalidExternalID = errors.New("invalid external identifier")

// Relevance is the outcome of the relevance filter.
type Relevance string

const (
	RelevanceRelevant Relevance = "relevant"
	RelevanceRejected Relevance = "rejected"
	RelevanceUnknown  Relevance = "unknown"
)

// Status tracks where a record sits in the classification lifecycle.
type Status string

const (
	StatusScored       Status = "scored"
	StatusRejected     Status = "rejected"
	StatusPendingRetry Status = "pending_retry"
)

// Flag names an operator-controlled curation flag.
type Flag string

const (
	FlagKeyStudy Flag = "is_key_study"
	FlagHidden   Flag = "hidden_from_dashboard"
)

// ParseFlag maps user input (including short aliases) to a Flag.
func ParseFlag(s string) (Flag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "is_key_study", "key_study", "key":
		return FlagKeyStudy, nil
	case "hidden_from_dashboard", "hidden", "hide":
		return FlagHidden, nil
	}
	return "", fmt.Errorf("unknown flag %q", s)
}

// Raw is an article as handed over by a literature source.
type Raw struct {
	ExternalID       string
	Title            string
	Abstract         string
	Journal          string
	Authors          []string
	PublicationDate  string // YYYY, YYYY-MM or YYYY-MM-DD; may be empty
	DOI              string
	URL              string
	PublicationTypes []string
	Keywords         []string
	MeshTerms        []string
	Source           string
}

// Breakdown is the per-dimension score detail of one classification run.
type Breakdown struct {
	Journal    float64 `json:"journal"`
	Design     float64 `json:"design"`
	Population float64 `json:"population"`
	Specialty  float64 `json:"specialty"`
	Novelty    float64 `json:"novelty"`
	Penalty    float64 `json:"penalty"`
	Total      float64 `json:"total"`

	Prevalence      float64 `json:"prevalence"`
	Hospitalization float64 `json:"hospitalization"`

	Participants    int      `json:"participants,omitempty"`
	NoveltyTerms    []string `json:"novelty_terms,omitempty"`
	PenaltyReasons  []string `json:"penalty_reasons,omitempty"`
	MatchedTerms    []string `json:"matched_terms,omitempty"`
	PrevalenceTerms []string `json:"prevalence_terms,omitempty"`
	HospitalTerms   []string `json:"hospitalization_terms,omitempty"`
}

// Record is the canonical stored article.
type Record struct {
	ID         int64
	ExternalID string

	Title            string
	Abstract         string
	Journal          string
	Authors          []string
	PublicationDate  string
	DOI              string
	URL              string
	PublicationTypes []string
	Keywords         []string
	MeshTerms        []string
	Source           string

	Relevance          Relevance
	RelevanceReason    string
	MedicalCategory    Category
	ArticleType        Type
	RankingScore       *int
	JournalTier        int
	ClinicalBottomLine string
	Tags               []string
	Breakdown          *Breakdown
	InputHash          string

	Status     Status
	RetryCount int
	LastError  string

	IsKeyStudy bool
	Hidden     bool

	CreatedAt    string
	UpdatedAt    string
	ClassifiedAt string
}

// NewRecord builds an unclassified record from source data.
func NewRecord(raw Raw) *Record {
	return &Record{
		ExternalID:       strings.TrimSpace(raw.ExternalID),
		Title:            strings.TrimSpace(raw.Title),
		Abstract:         strings.TrimSpace(raw.Abstract),
		Journal:          strings.TrimSpace(raw.Journal),
		Authors:          raw.Authors,
		PublicationDate:  NormalizeDate(raw.PublicationDate),
		DOI:              strings.TrimSpace(raw.DOI),
		URL:              raw.URL,
		PublicationTypes: raw.PublicationTypes,
		Keywords:         raw.Keywords,
		MeshTerms:        raw.MeshTerms,
		Source:           raw.Source,
		Relevance:        RelevanceUnknown,
	}
}

// Raw returns the bibliographic part of the record in source form.
func (r *Record) Raw() Raw {
	return Raw{
		ExternalID:       r.ExternalID,
		Title:            r.Title,
		Abstract:         r.Abstract,
		Journal:          r.Journal,
		Authors:          r.Authors,
		PublicationDate:  r.PublicationDate,
		DOI:              r.DOI,
		URL:              r.URL,
		PublicationTypes: r.PublicationTypes,
		Keywords:         r.Keywords,
		MeshTerms:        r.MeshTerms,
		Source:           r.Source,
	}
}

// Ranked reports whether the record belongs in ranked listings.
func (r *Record) Ranked() bool {
	return r.Relevance == RelevanceRelevant && r.RankingScore != nil
}

// AuthorString joins authors the way they are displayed.
func (r *Record) AuthorString() string {
	return strings.Join(r.Authors, "; ")
}

var (
	pmidPathRe = regexp.MustCompile(`/(\d+)/?$`)
	digitsRe   = regexp.MustCompile(`^\d+$`)
)

// ExtractPMID accepts a bare PubMed identifier or a PubMed URL.
func ExtractPMID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if digitsRe.MatchString(s) {
		return s, nil
	}
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		if m := pmidPathRe.FindStringSubmatch(u.Path); m != nil {
			return m[1], nil
		}
		if id := u.Query().Get("term"); digitsRe.MatchString(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidExternalID, input)
}

// PubMedURL returns the canonical page for a PubMed identifier.
func PubMedURL(pmid string) string {
	return "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/"
}

// ContentHash fingerprints the fields classification depends on.
func (r *Record) ContentHash() string {
	h := sha256.New()
	for _, part := range []string{
		r.Title, r.Abstract, r.Journal, r.PublicationDate,
		strings.Join(r.PublicationTypes, "|"),
		strings.Join(r.Keywords, "|"),
		strings.Join(r.MeshTerms, "|"),
	} {
		h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(part), " "))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

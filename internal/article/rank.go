package article

import (
	"cmp"
	"slices"
	"strconv"
)

// Kind distinguishes the variants of a Rankable.
type Kind string

const (
	KindArticle Kind = "article"
	KindStudy   Kind = "study"
)

// SortKey carries the fields of the ranking tie-break chain.
type SortKey struct {
	Score    int
	HasScore bool
	Date     string // DateSortKey form
	Tier     int
	Created  string // created_at, comparable across kinds
	Kind     Kind
	Seq      int64 // row id, only ordered within one kind
}

// Rankable is anything the dashboard lists in ranked order.
type Rankable interface {
	Kind() Kind
	DisplayTitle() string
	Score() (int, bool)
	Specialty() Category
	State() string
	SortKey() SortKey
}

// Kind implements Rankable.
func (r *Record) Kind() Kind { return KindArticle }

// DisplayTitle implements Rankable.
func (r *Record) DisplayTitle() string { return r.Title }

// Score implements Rankable.
func (r *Record) Score() (int, bool) {
	if r.RankingScore == nil {
		return 0, false
	}
	return *r.RankingScore, true
}

// Specialty implements Rankable.
func (r *Record) Specialty() Category { return r.MedicalCategory }

// State implements Rankable.
func (r *Record) State() string {
	switch {
	case r.Hidden:
		return "hidden"
	case r.IsKeyStudy:
		return "key_study"
	}
	return string(r.Status)
}

// SortKey implements Rankable.
func (r *Record) SortKey() SortKey {
	score, ok := r.Score()
	return SortKey{
		Score:    score,
		HasScore: ok,
		Date:     DateSortKey(r.PublicationDate),
		Tier:     r.JournalTier,
		Created:  r.CreatedAt,
		Kind:     KindArticle,
		Seq:      r.ID,
	}
}

// Study is an operator-submitted study that is listed next to ingested articles.
type Study struct {
	ID             int64
	Title          string
	Authors        string
	Journal        string
	Year           int
	SpecialtyName  Category
	Abstract       string
	DOI            string
	RankingScore   *int
	JournalTier    int
	IsMajorJournal bool
	SubmittedBy    string
	CreatedAt      string
}

// Kind implements Rankable.
func (s *Study) Kind() Kind { return KindStudy }

// DisplayTitle implements Rankable.
func (s *Study) DisplayTitle() string { return s.Title }

// Score implements Rankable.
func (s *Study) Score() (int, bool) {
	if s.RankingScore == nil {
		return 0, false
	}
	return *s.RankingScore, true
}

// Specialty implements Rankable.
func (s *Study) Specialty() Category { return s.SpecialtyName }

// State implements Rankable.
func (s *Study) State() string { return "submitted" }

// SortKey implements Rankable.
func (s *Study) SortKey() SortKey {
	score, ok := s.Score()
	date := ""
	if s.Year > 0 {
		date = DateSortKey(PartialDate(strconv.Itoa(s.Year), "", ""))
	}
	return SortKey{
		Score:    score,
		HasScore: ok,
		Date:     date,
		Tier:     s.JournalTier,
		Created:  s.CreatedAt,
		Kind:     KindStudy,
		Seq:      s.ID,
	}
}

// Compare orders two keys by score desc, date desc, tier desc, then insertion
// order. Unscored items sort after scored ones. Insertion order is created_at;
// row ids only break ties within one kind, and articles precede studies otherwise.
func Compare(a, b SortKey) int {
	if a.HasScore != b.HasScore {
		if a.HasScore {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Date, a.Date); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Tier, a.Tier); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Created, b.Created); c != 0 {
		return c
	}
	if a.Kind != b.Kind {
		return cmp.Compare(kindOrder(a.Kind), kindOrder(b.Kind))
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// Rank sorts items in ranking order.
func Rank(items []Rankable) {
	slices.SortStableFunc(items, func(a, b Rankable) int {
		return Compare(a.SortKey(), b.SortKey())
	})
}

func kindOrder(k Kind) int {
	if k == KindArticle {
		return 0
	}
	return 1
}

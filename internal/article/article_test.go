package article

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestExtractPMID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"38012345", "38012345"},
		{" 38012345 ", "38012345"},
		{"https://pubmed.ncbi.nlm.nih.gov/38012345/", "38012345"},
		{"https://pubmed.ncbi.nlm.nih.gov/38012345", "38012345"},
		{"https://www.ncbi.nlm.nih.gov/pubmed/?term=38012345", "38012345"},
	}
	for _, c := range cases {
		got, err := ExtractPMID(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	_, err := ExtractPMID("not-an-id")
	assert.ErrorIs(t, err, ErrInvalidExternalID)
}

func TestPartialDate(t *testing.T) {
	assert.Equal(t, "2024-03-15", PartialDate("2024", "Mar", "15"))
	assert.Equal(t, "2024-03", PartialDate("2024", "03", ""))
	assert.Equal(t, "2024", PartialDate("2024", "", "7"))
	assert.Equal(t, "2024-12-01", PartialDate("2024", "December", "1"))
	assert.Equal(t, "", PartialDate("", "Mar", "15"))
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2024-03-15", NormalizeDate("2024-03-15T10:00:00Z"))
	assert.Equal(t, "2024-03-15", NormalizeDate("2024/3/15"))
	assert.Equal(t, "2024-03", NormalizeDate("2024 Mar"))
	assert.Equal(t, "", NormalizeDate("unknown"))
}

func TestDateSortKeyOrdersPartialDates(t *testing.T) {
	assert.Less(t, DateSortKey(""), DateSortKey("2023"))
	assert.Less(t, DateSortKey("2024"), DateSortKey("2024-01"))
	assert.Less(t, DateSortKey("2024-01"), DateSortKey("2024-01-01"))
	assert.Less(t, DateSortKey("2023-12-31"), DateSortKey("2024"))
}

func TestParseFlag(t *testing.T) {
	f, err := ParseFlag("key")
	require.NoError(t, err)
	assert.Equal(t, FlagKeyStudy, f)

	f, err = ParseFlag("HIDDEN")
	require.NoError(t, err)
	assert.Equal(t, FlagHidden, f)

	_, err = ParseFlag("bookmark")
	assert.Error(t, err)
}

func TestParseCategoryAndType(t *testing.T) {
	assert.Equal(t, CategoryCardiology, ParseCategory("cardiology"))
	assert.Equal(t, CategoryOther, ParseCategory("dermatology"))
	assert.Equal(t, TypeRCT, ParseType("rct"))
	assert.Equal(t, TypeOther, ParseType("preprint"))
}

func TestRankTieBreakChain(t *testing.T) {
	older := &Record{ID: 1, Title: "older", RankingScore: intPtr(7), PublicationDate: "2024-01-10", JournalTier: 2}
	newer := &Record{ID: 2, Title: "newer", RankingScore: intPtr(7), PublicationDate: "2024-02-01"}
	top := &Record{ID: 3, Title: "top", RankingScore: intPtr(9), PublicationDate: "2023-01-01"}
	tierLow := &Record{ID: 4, Title: "tier-low", RankingScore: intPtr(5), PublicationDate: "2024-05-05"}
	tierHigh := &Record{ID: 5, Title: "tier-high", RankingScore: intPtr(5), PublicationDate: "2024-05-05", JournalTier: 1}
	firstIn := &Record{ID: 6, Title: "first-in", RankingScore: intPtr(3)}
	secondIn := &Record{ID: 7, Title: "second-in", RankingScore: intPtr(3)}
	unscored := &Record{ID: 0, Title: "unscored"}

	items := []Rankable{secondIn, unscored, tierLow, older, firstIn, newer, tierHigh, top}
	Rank(items)

	var titles []string
	for _, it := range items {
		titles = append(titles, it.DisplayTitle())
	}
	assert.Equal(t, []string{"top", "newer", "older", "tier-high", "tier-low", "first-in", "second-in", "unscored"}, titles)
}

func TestRankMixesStudiesAndArticles(t *testing.T) {
	art := &Record{ID: 1, Title: "article", RankingScore: intPtr(6), PublicationDate: "2024-03-01", MedicalCategory: CategoryCardiology}
	study := &Study{ID: 1, Title: "study", RankingScore: intPtr(8), Year: 2022, SpecialtyName: CategoryNephrology}

	items := []Rankable{art, study}
	Rank(items)

	require.Len(t, items, 2)
	assert.Equal(t, KindStudy, items[0].Kind())
	assert.Equal(t, CategoryNephrology, items[0].Specialty())
	assert.Equal(t, "submitted", items[0].State())
	assert.Equal(t, KindArticle, items[1].Kind())
}

func TestRecordState(t *testing.T) {
	r := &Record{Status: StatusScored}
	assert.Equal(t, "scored", r.State())
	r.IsKeyStudy = true
	assert.Equal(t, "key_study", r.State())
	r.Hidden = true
	assert.Equal(t, "hidden", r.State())
}

func TestNewRecordTrimsAndNormalizes(t *testing.T) {
	r := NewRecord(Raw{ExternalID: " 42 ", Title: " T ", PublicationDate: "2024 Mar 5", Authors: []string{"A B", "C D"}})
	assert.Equal(t, "42", r.ExternalID)
	assert.Equal(t, "T", r.Title)
	assert.Equal(t, "2024-03-05", r.PublicationDate)
	assert.Equal(t, RelevanceUnknown, r.Relevance)
	assert.Equal(t, "A B; C D", r.AuthorString())
	assert.False(t, r.Ranked())
}

func TestContentHashIgnoresWhitespaceAndCase(t *testing.T) {
	a := &Record{Title: "Drug D  in Heart Failure", Abstract: "500 patients"}
	b := &Record{Title: "drug d in heart failure", Abstract: " 500   patients "}
	c := &Record{Title: "drug d in heart failure", Abstract: "600 patients"}
	assert.Equal(t, a.ContentHash(), b.ContentHash())
	assert.NotEqual(t, a.ContentHash(), c.ContentHash())
	assert.Len(t, a.ContentHash(), 64)
}

func TestRankUsesCreationTimeAcrossKinds(t *testing.T) {
	art := &Record{ID: 1, Title: "article", RankingScore: intPtr(6), PublicationDate: "2024", CreatedAt: "2024-06-02 09:00:00"}
	study := &Study{ID: 40, Title: "study", RankingScore: intPtr(6), Year: 2024, CreatedAt: "2024-06-01 09:00:00"}

	items := []Rankable{art, study}
	Rank(items)
	assert.Equal(t, "study", items[0].DisplayTitle(), "created first, despite the larger row id")

	study.CreatedAt = art.CreatedAt
	items = []Rankable{study, art}
	Rank(items)
	assert.Equal(t, "article", items[0].DisplayTitle())
}

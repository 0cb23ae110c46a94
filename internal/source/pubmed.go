package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/meddash/internal/article"
)

// DefaultEutilsURL is the NCBI E-utilities endpoint.
const DefaultEutilsURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

const (
	defaultBatchSize  = 100
	defaultMaxResults = 1000
	maxResponseBytes  = 32 << 20
	toolName          = "meddash"
)

// PubMedConfig configures the E-utilities client.
type PubMedConfig struct {
	BaseURL           string
	Email             string
	APIKey            string
	Journals          []string
	BatchSize         int
	MaxResults        int
	RequestsPerSecond float64
	Timeout           time.Duration
	Prescreen         PrescreenConfig
}

// PubMedClient searches PubMed by journal and publication date and fetches
// records in batches.
type PubMedClient struct {
	cfg     PubMedConfig
	client  *http.Client
	limiter *rate.Limiter
	screen  *Prescreen
	logger  *zap.Logger
}

// NewPubMedClient creates a client. Without an API key NCBI allows three
// requests per second.
func NewPubMedClient(cfg PubMedConfig, logger *zap.Logger) (*PubMedClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultEutilsURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
		if cfg.APIKey != "" {
			cfg.RequestsPerSecond = 10
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	screen, err := NewPrescreen(cfg.Prescreen)
	if err != nil {
		return nil, err
	}
	return &PubMedClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		screen:  screen,
		logger:  logger,
	}, nil
}

// Name identifies the source in run logs.
func (c *PubMedClient) Name() string { return "pubmed" }

// Stats returns the prescreen counters accumulated by this client.
func (c *PubMedClient) Stats() FilterStats { return c.screen.Stats() }

// Articles returns the records matching q as a lazy sequence. A failing
// request yields its error and ends the sequence.
func (c *PubMedClient) Articles(ctx context.Context, q Query) iter.Seq2[article.Raw, error] {
	return func(yield func(article.Raw, error) bool) {
		ids := q.IDs
		if len(ids) == 0 {
			var err error
			ids, err = c.Search(ctx, q)
			if err != nil {
				yield(article.Raw{}, err)
				return
			}
		}
		for batch := range slices.Chunk(ids, c.cfg.BatchSize) {
			raws, err := c.Fetch(ctx, batch)
			if err != nil {
				yield(article.Raw{}, err)
				return
			}
			for _, raw := range raws {
				if !yield(raw, nil) {
					return
				}
			}
		}
	}
}

// SearchTerm builds the esearch term for a journal list and publication window.
func SearchTerm(journals []string, from, to string) string {
	var parts []string
	if len(journals) > 0 {
		quoted := make([]string, len(journals))
		for i, j := range journals {
			quoted[i] = fmt.Sprintf("%q[journal]", j)
		}
		parts = append(parts, "("+strings.Join(quoted, " OR ")+")")
	}
	if from != "" || to != "" {
		if to == "" {
			to = time.Now().Format("2006-01-02")
		}
		if from == "" {
			from = to
		}
		parts = append(parts, fmt.Sprintf("%s:%s[pdat]", pdat(from), pdat(to)))
	}
	return strings.Join(parts, " AND ")
}

func pdat(date string) string {
	return strings.ReplaceAll(date, "-", "/")
}

type esearchResult struct {
	Count int      `xml:"Count"`
	IDs   []string `xml:"IdList>Id"`
	Error string   `xml:"ERROR"`
}

// Search returns the PMIDs matching the query window.
func (c *PubMedClient) Search(ctx context.Context, q Query) ([]string, error) {
	if q.From == "" && q.To == "" {
		return nil, ErrEmptyQuery
	}
	term := SearchTerm(c.cfg.Journals, q.From, q.To)
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmax":  {strconv.Itoa(c.cfg.MaxResults)},
		"retmode": {"xml"},
	}
	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("pubmed search: %w", err)
	}
	var res esearchResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parsing pubmed search response: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("pubmed search: %s", res.Error)
	}
	c.logger.Info("pubmed search",
		zap.String("term", term),
		zap.Int("count", res.Count),
		zap.Int("returned", len(res.IDs)),
	)
	return res.IDs, nil
}

// Fetch retrieves and converts one batch of PMIDs, dropping records the
// prescreen rejects.
func (c *PubMedClient) Fetch(ctx context.Context, ids []string) ([]article.Raw, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"xml"},
		"rettype": {"abstract"},
	}
	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("pubmed fetch: %w", err)
	}
	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parsing pubmed records: %w", err)
	}

	out := make([]article.Raw, 0, len(set.Articles))
	for _, pa := range set.Articles {
		raw := pa.raw()
		if raw.ExternalID == "" {
			continue
		}
		if reason, skip := c.screen.Skip(raw, pa.aheadOfPrint()); skip {
			c.logger.Debug("prescreen dropped record",
				zap.String("external_id", raw.ExternalID),
				zap.String("reason", reason),
			)
			continue
		}
		out = append(out, raw)
	}
	c.logger.Debug("pubmed batch fetched", zap.Int("requested", len(ids)), zap.Int("kept", len(out)))
	return out, nil
}

func (c *PubMedClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params.Set("tool", toolName)
	if c.cfg.Email != "" {
		params.Set("email", c.cfg.Email)
	}
	if c.cfg.APIKey != "" {
		params.Set("api_key", c.cfg.APIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}
	return body, nil
}

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Journal struct {
				Title   string     `xml:"Title"`
				PubDate pubmedDate `xml:"JournalIssue>PubDate"`
			} `xml:"Journal"`
			Title       markup         `xml:"ArticleTitle"`
			Abstract    []abstractText `xml:"Abstract>AbstractText"`
			Authors     []pubmedAuthor `xml:"AuthorList>Author"`
			ELocations  []typedID      `xml:"ELocationID"`
			PubTypes    []string       `xml:"PublicationTypeList>PublicationType"`
			ArticleDate []pubmedDate   `xml:"ArticleDate"`
		} `xml:"Article"`
		Keywords []markup `xml:"KeywordList>Keyword"`
		Mesh     []string `xml:"MeshHeadingList>MeshHeading>DescriptorName"`
	} `xml:"MedlineCitation"`
	Data struct {
		Status string    `xml:"PublicationStatus"`
		IDs    []typedID `xml:"ArticleIdList>ArticleId"`
	} `xml:"PubmedData"`
}

type markup struct {
	Inner string `xml:",innerxml"`
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	Inner string `xml:",innerxml"`
}

type pubmedAuthor struct {
	LastName   string `xml:"LastName"`
	ForeName   string `xml:"ForeName"`
	Collective string `xml:"CollectiveName"`
}

type typedID struct {
	EIDType string `xml:"EIdType,attr"`
	IDType  string `xml:"IdType,attr"`
	Value   string `xml:",chardata"`
}

type pubmedDate struct {
	Year        string `xml:"Year"`
	Month       string `xml:"Month"`
	Day         string `xml:"Day"`
	MedlineDate string `xml:"MedlineDate"`
}

func (d pubmedDate) String() string {
	if d.Year != "" {
		return article.PartialDate(d.Year, d.Month, d.Day)
	}
	// MedlineDate looks like "2024 Jan-Feb" or "2023 Dec-2024 Jan".
	if f := strings.Fields(d.MedlineDate); len(f) > 0 {
		month := ""
		if len(f) > 1 {
			month = strings.SplitN(f[1], "-", 2)[0]
		}
		return article.PartialDate(f[0], month, "")
	}
	return ""
}

func (pa *pubmedArticle) aheadOfPrint() bool {
	return strings.EqualFold(strings.TrimSpace(pa.Data.Status), "aheadofprint")
}

func (pa *pubmedArticle) raw() article.Raw {
	a := pa.Citation.Article
	pmid := strings.TrimSpace(pa.Citation.PMID)

	var parts []string
	for _, at := range a.Abstract {
		text := StripMarkup(at.Inner)
		if text == "" {
			continue
		}
		if at.Label != "" {
			text = at.Label + ": " + text
		}
		parts = append(parts, text)
	}

	var authors []string
	for _, au := range a.Authors {
		switch {
		case au.ForeName != "" && au.LastName != "":
			authors = append(authors, au.ForeName+" "+au.LastName)
		case au.LastName != "":
			authors = append(authors, au.LastName)
		case au.Collective != "":
			authors = append(authors, StripMarkup(au.Collective))
		}
	}

	doi := ""
	for _, id := range a.ELocations {
		if strings.EqualFold(id.EIDType, "doi") {
			doi = strings.TrimSpace(id.Value)
			break
		}
	}
	if doi == "" {
		for _, id := range pa.Data.IDs {
			if strings.EqualFold(id.IDType, "doi") {
				doi = strings.TrimSpace(id.Value)
				break
			}
		}
	}

	date := a.Journal.PubDate.String()
	if date == "" && len(a.ArticleDate) > 0 {
		date = a.ArticleDate[0].String()
	}

	var keywords []string
	for _, k := range pa.Citation.Keywords {
		if s := StripMarkup(k.Inner); s != "" {
			keywords = append(keywords, s)
		}
	}

	raw := article.Raw{
		ExternalID:       pmid,
		Title:            StripMarkup(a.Title.Inner),
		Abstract:         strings.Join(parts, "  "),
		Journal:          strings.TrimSpace(a.Journal.Title),
		Authors:          authors,
		PublicationDate:  date,
		DOI:              doi,
		PublicationTypes: a.PubTypes,
		Keywords:         keywords,
		MeshTerms:        pa.Citation.Mesh,
		Source:           "pubmed",
	}
	if pmid != "" {
		raw.URL = article.PubMedURL(pmid)
	}
	return raw
}

// Package digest renders the top-ranked articles of a window as Markdown and HTML.
package digest

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/database"
)

const (
	defaultTopN = 10
	defaultDays = 7
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Options selects the digest window.
type Options struct {
	TopN int
	Days int
	// Now anchors the window; zero means time.Now.
	Now time.Time
}

// Digest is the selected articles of one window.
type Digest struct {
	From       string
	To         string
	KeyStudies []*article.Record
	Top        []*article.Record
}

// Builder selects digest content from the store.
type Builder struct {
	db *database.DB
}

// NewBuilder creates a digest builder.
func NewBuilder(db *database.DB) *Builder {
	return &Builder{db: db}
}

// Build selects key studies and the top-N other articles added in the last
// Days days. Hidden articles are left out; key studies come first.
func (b *Builder) Build(opts Options) (*Digest, error) {
	if opts.TopN <= 0 {
		opts.TopN = defaultTopN
	}
	if opts.Days <= 0 {
		opts.Days = defaultDays
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	d := &Digest{
		From: now.AddDate(0, 0, -opts.Days).Format("2006-01-02"),
		To:   now.Format("2006-01-02"),
	}

	keys, err := b.db.QueryRelevant(database.QueryOptions{KeyStudiesOnly: true, CreatedSince: d.From})
	if err != nil {
		return nil, fmt.Errorf("selecting key studies: %w", err)
	}
	d.KeyStudies = keys

	ranked, err := b.db.QueryRelevant(database.QueryOptions{CreatedSince: d.From, Limit: opts.TopN + len(keys)})
	if err != nil {
		return nil, fmt.Errorf("selecting top articles: %w", err)
	}
	for _, r := range ranked {
		if r.IsKeyStudy {
			continue
		}
		if len(d.Top) == opts.TopN {
			break
		}
		d.Top = append(d.Top, r)
	}
	return d, nil
}

// Markdown renders the digest.
func (d *Digest) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Literature digest: %s to %s\n\n",
		database.FormatDateDisplay(d.From), database.FormatDateDisplay(d.To))

	if len(d.KeyStudies) == 0 && len(d.Top) == 0 {
		sb.WriteString("No relevant articles in this window.\n")
		return sb.String()
	}
	n := 1
	if len(d.KeyStudies) > 0 {
		sb.WriteString("## Key studies\n\n")
		for _, r := range d.KeyStudies {
			writeEntry(&sb, n, r)
			n++
		}
	}
	if len(d.Top) > 0 {
		sb.WriteString("## Top ranked\n\n")
		for _, r := range d.Top {
			writeEntry(&sb, n, r)
			n++
		}
	}
	return sb.String()
}

func writeEntry(sb *strings.Builder, n int, r *article.Record) {
	score, _ := r.Score()
	fmt.Fprintf(sb, "### %d. %s (%d/10)\n\n", n, r.Title, score)

	var meta []string
	if r.Journal != "" {
		meta = append(meta, "*"+r.Journal+"*")
	}
	if r.PublicationDate != "" {
		meta = append(meta, database.FormatDateDisplay(r.PublicationDate))
	}
	if r.MedicalCategory != "" && r.MedicalCategory != article.CategoryOther {
		meta = append(meta, string(r.MedicalCategory))
	}
	if r.ArticleType != "" && r.ArticleType != article.TypeOther {
		meta = append(meta, string(r.ArticleType))
	}
	if len(meta) > 0 {
		sb.WriteString(strings.Join(meta, " | ") + "\n\n")
	}
	if r.ClinicalBottomLine != "" {
		sb.WriteString(r.ClinicalBottomLine + "\n\n")
	}
	if len(r.Tags) > 0 {
		tags := make([]string, len(r.Tags))
		for i, t := range r.Tags {
			tags[i] = "`" + t + "`"
		}
		sb.WriteString("Tags: " + strings.Join(tags, " ") + "\n\n")
	}
	if r.URL != "" {
		fmt.Fprintf(sb, "[Read on PubMed](%s)\n\n", r.URL)
	}
}

// RenderHTML converts Markdown to an HTML fragment.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

// Package logo downloads brand logos for enriched rows: the first <img>
// whose source mentions "logo", else the page's og:image, falling back to a
// placeholder image.
package logo

import (
	"bytes"
	"context"
	"encoding/csv"
	"image"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/merchant-enrich/internal/compose"
	"github.com/sells-group/merchant-enrich/internal/fetcher"
	"github.com/sells-group/merchant-enrich/internal/resilience"
	"github.com/sells-group/merchant-enrich/internal/sheet"
)

// ReportName is the file written next to the logos.
const ReportName = "scraping_report.csv"

// Result statuses.
const (
	StatusScraped  = "scraped from URL"
	StatusFallback = "fallback used"
)

// Fetcher is the subset of fetcher.Fetcher the scraper needs.
type Fetcher interface {
	FetchPage(ctx context.Context, url string) (*fetcher.Page, error)
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Target is one logo to produce.
type Target struct {
	Filename string
	Name     string
	Website  string
	Social   string
}

// Source returns the page the logo is scraped from.
func (t Target) Source() string {
	if t.Website != "" {
		return t.Website
	}
	return t.Social
}

// Result records what happened for one target.
type Result struct {
	Filename string
	Status   string
	Source   string
}

// Options configures a Scraper.
type Options struct {
	Dir string
	// Fallback is copied when no logo can be scraped. Empty means a
	// generated placeholder.
	Fallback string
	Workers  int
}

// Scraper downloads logos into a directory.
type Scraper struct {
	fetch Fetcher
	opts  Options
}

// New creates a Scraper.
func New(f Fetcher, opts Options) *Scraper {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Scraper{fetch: f, opts: opts}
}

// TargetsFromTable collects logo targets from an enriched output table, one
// per distinct logo filename, in first-seen order.
func TargetsFromTable(t sheet.Table) ([]Target, error) {
	fileCol := t.Index(compose.HeaderLogo)
	if fileCol < 0 {
		return nil, eris.Errorf("logo: column %q not found", compose.HeaderLogo)
	}
	nameCol := t.Index(compose.HeaderCleanedName)
	webCol := t.Index(compose.HeaderWebsite)
	socialCol := t.Index(compose.HeaderSocials)

	cell := func(r, c int) string {
		if c < 0 {
			return ""
		}
		return strings.TrimSpace(t.Cell(r, c))
	}

	seen := make(map[string]bool)
	var out []Target
	for r := range t.Rows {
		name := cell(r, fileCol)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Target{
			Filename: name,
			Name:     cell(r, nameCol),
			Website:  cell(r, webCol),
			Social:   cell(r, socialCol),
		})
	}
	return out, nil
}

// Run produces every target's logo and writes the report. progress, if
// set, is called after each target from a single goroutine at a time.
func (s *Scraper) Run(ctx context.Context, targets []Target, progress func(done, total int, name string)) ([]Result, error) {
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "logo: create output dir")
	}
	fallback, err := s.fallbackImage()
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(targets))
	done := make(chan int)
	reported := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	go func() {
		defer close(reported)
		n := 0
		for i := range done {
			n++
			if progress != nil {
				progress(n, len(targets), targets[i].Name)
			}
		}
	}()

	for i, t := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.scrape(gctx, t, fallback)
			if err != nil {
				return err
			}
			results[i] = res
			done <- i
			return nil
		})
	}
	err = g.Wait()
	close(done)
	<-reported
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "logo: canceled")
	}

	if err := WriteReport(filepath.Join(s.opts.Dir, ReportName), results); err != nil {
		return results, err
	}
	return results, nil
}

// scrape handles one target. Only local file errors are returned; remote
// failures fall back to the placeholder.
func (s *Scraper) scrape(ctx context.Context, t Target, fallback []byte) (Result, error) {
	name := filepath.Base(t.Filename)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return Result{}, eris.Errorf("logo: invalid filename %q", t.Filename)
	}
	path := filepath.Join(s.opts.Dir, name)
	log := zap.L().With(zap.String("logo", name))

	source := t.Source()
	if source == "" {
		return s.useFallback(path, name, fallback, "no URL available")
	}

	page, err := s.fetch.FetchPage(ctx, source)
	if err != nil {
		log.Debug("logo: page fetch failed", zap.String("url", source), zap.Error(err))
		return s.useFallback(path, name, fallback, "scrape failed: "+shorten(err.Error()))
	}
	logoURL, err := FindLogo(page.URL, page.Body)
	if err != nil || logoURL == "" {
		return s.useFallback(path, name, fallback, "logo not found on page")
	}
	if _, err := s.fetch.DownloadToFile(ctx, logoURL, path); err != nil {
		log.Debug("logo: download failed", zap.String("url", logoURL), zap.Error(err))
		return s.useFallback(path, name, fallback, "download failed: "+shorten(err.Error()))
	}
	return Result{Filename: name, Status: StatusScraped, Source: logoURL}, nil
}

func (s *Scraper) useFallback(path, name string, fallback []byte, reason string) (Result, error) {
	if err := os.WriteFile(path, fallback, 0o644); err != nil {
		return Result{}, eris.Wrapf(err, "logo: write fallback %s", name)
	}
	return Result{Filename: name, Status: StatusFallback + " - " + reason}, nil
}

func (s *Scraper) fallbackImage() ([]byte, error) {
	if s.opts.Fallback != "" {
		data, err := os.ReadFile(s.opts.Fallback)
		if err != nil {
			return nil, eris.Wrap(err, "logo: read fallback image")
		}
		return data, nil
	}
	return Placeholder()
}

// Placeholder renders a plain grey square PNG.
func Placeholder() ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 0xDD
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, eris.Wrap(err, "logo: encode placeholder")
	}
	return buf.Bytes(), nil
}

// FindLogo returns the absolute URL of the most likely logo on the page.
func FindLogo(pageURL string, body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "logo: parse html")
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", eris.Wrap(err, "logo: parse page url")
	}

	var found string
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		for _, attr := range []string{"src", "data-src"} {
			src, ok := sel.Attr(attr)
			if ok && strings.Contains(strings.ToLower(src), "logo") {
				found = resolve(base, src)
				return found == ""
			}
		}
		return true
	})
	if found != "" {
		return found, nil
	}

	if content, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		return resolve(base, content), nil
	}
	return "", nil
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || ref == "" {
		return ""
	}
	return base.ResolveReference(u).String()
}

func shorten(s string) string {
	return resilience.Truncate(s, 120)
}

// WriteReport writes the scraping report as CSV.
func WriteReport(path string, results []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "logo: create report")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Logo Filename", "Status", "Source"}); err != nil {
		return eris.Wrap(err, "logo: write report")
	}
	for _, r := range results {
		if err := w.Write([]string{r.Filename, r.Status, r.Source}); err != nil {
			return eris.Wrap(err, "logo: write report")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "logo: flush report")
}

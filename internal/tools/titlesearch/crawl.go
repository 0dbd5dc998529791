package titlesearch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/MrWong99/campusagent/internal/observe"
)

// Layout selects how a crawler parses list and article pages.
type Layout string

const (
	// LayoutNews reads "li > a" list entries titled by ".yy-ifo h3" and
	// fetches each article page for its date and body paragraphs.
	LayoutNews Layout = "news"

	// LayoutCard reads anchors wrapping a "div.text" card titled by its h6.
	// Articles are stored as title and link only.
	LayoutCard Layout = "card"
)

// TitleListHeader opens a title list written by [Crawler].
const TitleListHeader = "--- article titles ---"

const (
	crawlUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
	maxPageBytes    = 4 << 20
	pagePlaceholder = "{page}"
)

var (
	unsafeChars  = regexp.MustCompile(`[\\/:*?"<>|]`)
	publishedAt  = regexp.MustCompile(`时间[:：]\s*(\d{4}/\d{2}/\d{2})`)
	dateOnly     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	numberedLine = regexp.MustCompile(`^\d+\.`)

	skipClasses   = []string{"flex", "bounce"}
	skipFragments = []string{"信息来源:", "供稿", "编辑", "浏览量:", "图片来源", "HIGHLIGHTS"}
)

// CrawlConfig configures a [Crawler].
type CrawlConfig struct {
	// ListURL is the article list page. A "{page}" placeholder is replaced by
	// 1..MaxPages; crawling stops at the first page that lists no articles.
	ListURL string

	// MaxPages defaults to 1 and is ignored without a placeholder.
	MaxPages int

	Layout Layout

	// TitleList and ContentDir are the files the matching [Index] reads.
	// ContentDir defaults to the directory of TitleList.
	TitleList  string
	ContentDir string

	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// CrawlReport summarises one crawl.
type CrawlReport struct {
	Pages   int
	Added   []string
	Skipped int
	Failed  int
}

// Crawler fills an article collection from a website.
type Crawler struct {
	cfg CrawlConfig
}

type listEntry struct {
	title string
	link  string
}

// NewCrawler validates cfg and returns a Crawler.
func NewCrawler(cfg CrawlConfig) (*Crawler, error) {
	var errs []error
	if cfg.ListURL == "" {
		errs = append(errs, errors.New("list URL must not be empty"))
	}
	if cfg.TitleList == "" {
		errs = append(errs, errors.New("title list path must not be empty"))
	}
	if cfg.Layout != LayoutNews && cfg.Layout != LayoutCard {
		errs = append(errs, fmt.Errorf("unknown layout %q", cfg.Layout))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("titlesearch: crawl: %w", err)
	}
	if cfg.MaxPages < 1 || !strings.Contains(cfg.ListURL, pagePlaceholder) {
		cfg.MaxPages = 1
	}
	if cfg.ContentDir == "" {
		cfg.ContentDir = filepath.Dir(cfg.TitleList)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Crawler{cfg: cfg}, nil
}

// Run crawls the list pages, writes one "<title>.txt" file per new article
// and appends the new titles to the title list. Articles whose file already
// exists are skipped, so repeated runs only add what is new. A list page or
// article that cannot be fetched is logged and skipped.
func (c *Crawler) Run(ctx context.Context) (*CrawlReport, error) {
	if err := os.MkdirAll(c.cfg.ContentDir, 0o755); err != nil {
		return nil, fmt.Errorf("titlesearch: crawl: %w", err)
	}
	log := observe.Logger(ctx)
	rep := &CrawlReport{}

	for page := 1; page <= c.cfg.MaxPages; page++ {
		pageURL := strings.ReplaceAll(c.cfg.ListURL, pagePlaceholder, strconv.Itoa(page))
		doc, base, err := c.fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return rep, fmt.Errorf("titlesearch: crawl: %w", ctx.Err())
			}
			log.Warn("list page failed", "url", pageURL, "err", err)
			continue
		}
		rep.Pages++

		entries := c.parseList(doc, base)
		if len(entries) == 0 {
			log.Info("list page has no articles, stopping", "url", pageURL)
			break
		}
		for _, e := range entries {
			added, err := c.store(ctx, e)
			switch {
			case ctx.Err() != nil:
				return rep, fmt.Errorf("titlesearch: crawl: %w", ctx.Err())
			case err != nil:
				rep.Failed++
				log.Warn("article skipped", "title", e.title, "url", e.link, "err", err)
			case added == "":
				rep.Skipped++
			default:
				rep.Added = append(rep.Added, added)
			}
		}
	}

	if len(rep.Added) > 0 {
		if err := appendTitles(c.cfg.TitleList, rep.Added); err != nil {
			return rep, fmt.Errorf("titlesearch: crawl: %w", err)
		}
	}
	log.Info("crawl finished", "pages", rep.Pages, "added", len(rep.Added), "skipped", rep.Skipped, "failed", rep.Failed)
	return rep, nil
}

// store writes the file for e and returns the title it was stored under, or
// "" when the article already exists.
func (c *Crawler) store(ctx context.Context, e listEntry) (string, error) {
	title := safeTitle(e.title)
	if title == "" {
		return "", fmt.Errorf("title %q is empty once sanitised", e.title)
	}
	path, err := safePath(c.cfg.ContentDir, title+".txt")
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	var body string
	switch c.cfg.Layout {
	case LayoutNews:
		doc, _, err := c.fetch(ctx, e.link)
		if err != nil {
			return "", err
		}
		text, date := parseArticle(doc)
		if strings.TrimSpace(text) == "" {
			return "", errors.New("no article text found")
		}
		body = fmt.Sprintf("Title: %s\nDate: %s\n\n%s", e.title, date, text)
	case LayoutCard:
		body = fmt.Sprintf("Title: %s\nURL: %s\n", e.title, e.link)
	}

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", err
	}
	return title, nil
}

// fetch GETs pageURL and parses it as HTML. The returned URL is the final
// one after redirects, for resolving relative links.
func (c *Crawler) fetch(ctx context.Context, pageURL string) (*html.Node, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", crawlUserAgent)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, resp.Request.URL, nil
}

func (c *Crawler) parseList(doc *html.Node, base *url.URL) []listEntry {
	var entries []listEntry
	for _, a := range findAll(doc, isElement(atom.A)) {
		href := attr(a, "href")
		if href == "" {
			continue
		}
		var title string
		switch c.cfg.Layout {
		case LayoutNews:
			if a.Parent == nil || a.Parent.DataAtom != atom.Li {
				continue
			}
			if info := find(a, hasClass("yy-ifo")); info != nil {
				if h3 := find(info, isElement(atom.H3)); h3 != nil {
					title = textOf(h3)
				}
			}
		case LayoutCard:
			card := find(a, func(n *html.Node) bool { return n.DataAtom == atom.Div && hasClass("text")(n) })
			if card == nil {
				continue
			}
			if h6 := find(a, isElement(atom.H6)); h6 != nil {
				title = textOf(h6)
			}
			if title == "" {
				title = strings.TrimSpace(attr(a, "title"))
			}
		}
		link, err := base.Parse(href)
		if title == "" || err != nil {
			continue
		}
		entries = append(entries, listEntry{title: title, link: link.String()})
	}
	return entries
}

// parseArticle extracts the body paragraphs and publication date of a news
// article page. Boilerplate paragraphs (source, editor, view counter, image
// credits) are dropped.
func parseArticle(doc *html.Node) (text, date string) {
	date = "unknown"
	container := find(doc, hasClass("content-pg"))
	if container == nil {
		container = find(doc, func(n *html.Node) bool {
			return n.DataAtom == atom.Form && attr(n, "name") == "_newscontent_fromname"
		})
	}
	if container == nil {
		return "", date
	}

	info := find(container, func(n *html.Node) bool { return n.DataAtom == atom.Div && hasClass("c-ifo")(n) })
	if info != nil {
		if m := publishedAt.FindStringSubmatch(textOf(info)); m != nil {
			date = strings.ReplaceAll(m[1], "/", "-")
		}
	}

	var paragraphs []string
	for _, p := range findAll(container, isElement(atom.P)) {
		t := textOf(p)
		if t == "" || dateOnly.MatchString(t) || within(p, info) || containsAny(t, skipFragments) {
			continue
		}
		if hasAnyClass(p, skipClasses) {
			continue
		}
		paragraphs = append(paragraphs, t)
	}
	return strings.Join(paragraphs, "\n\n"), date
}

// appendTitles numbers titles after the entries already in path, writing
// the header first when the list is new.
func appendTitles(path string, titles []string) error {
	existing, err := countNumbered(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open title list: %w", err)
	}
	w := bufio.NewWriter(f)
	if existing == 0 {
		fmt.Fprintf(w, "%s\n\n", TitleListHeader)
	}
	for i, t := range titles {
		fmt.Fprintf(w, "%d. %s\n", existing+i+1, t)
	}
	return errors.Join(w.Flush(), f.Close())
}

func countNumbered(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open title list: %w", err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if numberedLine.MatchString(strings.TrimSpace(sc.Text())) {
			n++
		}
	}
	return n, sc.Err()
}

// safeTitle drops characters that are not allowed in file names and folds
// whitespace so the title fits on one title list line.
func safeTitle(title string) string {
	return strings.Join(strings.Fields(unsafeChars.ReplaceAllString(title, "")), " ")
}

// ── HTML helpers ──────────────────────────────────────────────────────────────

func isElement(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.DataAtom == a }
}

func hasClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasAnyClass(n, []string{class})
	}
}

func hasAnyClass(n *html.Node, classes []string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		for _, want := range classes {
			if c == want {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// find returns the first descendant of n, in document order, matching pred.
func find(n *html.Node, pred func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if pred(c) {
			return c
		}
		if m := find(c, pred); m != nil {
			return m
		}
	}
	return nil
}

func findAll(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if pred(c) {
			out = append(out, c)
		}
		out = append(out, findAll(c, pred)...)
	}
	return out
}

// textOf concatenates the trimmed text nodes below n.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func within(n, ancestor *html.Node) bool {
	if ancestor == nil {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

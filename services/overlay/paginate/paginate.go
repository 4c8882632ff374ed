// Package paginate pulls the sibling result pages of a listing search
// into the current document so the whole result set can be browsed,
// hidden and annotated as one list.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"daftie-backend/lib/htmlutil"
	"daftie-backend/lib/telemetry"
	"daftie-backend/services/overlay/locator"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("services/overlay/paginate")

const (
	// lazy image placeholders are promoted in batches of this size
	swapBatchSize = 6
	swapInterval  = time.Millisecond * 250
	// upper bound in milliseconds on the politeness jitter before each
	// sibling page fetch
	maxFetchJitterMs = 400
)

type Prefetcher struct {
	client *resty.Client
}

func NewPrefetcher(userAgent string) *Prefetcher {
	client := resty.New()
	client.SetTransport(cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport))
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "services/overlay/paginate")
	return &Prefetcher{client: client}
}

// one sibling page's extracted markup, keyed by its position in the
// pagination sequence
type fragment struct {
	ordinal int
	html    string
	cards   int
}

// Prefetch discovers the numbered pagination links on the document,
// fetches every sibling page, and splices their card subtrees into the
// current results container in ordinal order relative to the local
// page. The pagination control is re-homed to the end of the extended
// list. A failed sibling fetch contributes nothing but never blocks
// the other pages; all failures come back joined alongside the count
// of cards added.
func (p *Prefetcher) Prefetch(ctx context.Context, doc *goquery.Document, pageURL string) (added int, err error) {
	ctx, span := tracer.Start(ctx, "Prefetch")
	defer span.End()

	container := locator.ResultsContainer(doc)
	if container.Length() == 0 {
		return 0, nil
	}
	local := locator.Locate(ctx, doc, pageURL)
	if len(local) == 0 {
		return 0, nil
	}

	current, links := discoverLinks(doc, pageURL)
	if len(links) == 0 {
		return 0, nil
	}

	var (
		wg         sync.WaitGroup
		resultLock sync.Mutex
		fragments  []fragment
		errList    []error
	)
	for ordinal, href := range links {
		wg.Add(1)
		go func(ordinal int, href string) {
			defer wg.Done()

			if ms, err := random.IntRange(0, maxFetchJitterMs); err == nil {
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
				case <-ctx.Done():
					return
				}
			}

			frag, err := p.fetchPage(ctx, ordinal, href)
			if err != nil {
				slog.ErrorContext(ctx, "failed to prefetch sibling page",
					"ordinal", ordinal, "href", href, "err", err)
				resultLock.Lock()
				errList = append(errList, err)
				resultLock.Unlock()
				return
			}

			resultLock.Lock()
			fragments = append(fragments, frag)
			resultLock.Unlock()
		}(ordinal, href)
	}
	wg.Wait()

	sort.Slice(fragments, func(i, j int) bool {
		return fragments[i].ordinal < fragments[j].ordinal
	})

	// earlier pages stack up before the first local card in ascending
	// order, later pages append to the container end
	firstCard := local[0].Root
	for _, frag := range fragments {
		if frag.ordinal < current {
			firstCard.BeforeHtml(frag.html)
		} else {
			container.AppendHtml(frag.html)
		}
		added += frag.cards
	}

	rehomePagination(doc, container)

	span.SetAttributes(
		attribute.Int("pages", len(fragments)),
		attribute.Int("cards_added", added),
	)
	return added, errors.Join(errList...)
}

func (p *Prefetcher) fetchPage(ctx context.Context, ordinal int, href string) (fragment, error) {
	res, err := p.client.R().SetContext(ctx).Get(href)
	if err != nil {
		return fragment{}, err
	}
	if res.StatusCode() >= 300 {
		return fragment{}, fmt.Errorf("fetch '%s': status code %d", href, res.StatusCode())
	}

	pageDoc, err := goquery.NewDocumentFromReader(strings.NewReader(res.String()))
	if err != nil {
		return fragment{}, err
	}

	cards := locator.Locate(ctx, pageDoc, href)
	if len(cards) == 0 {
		return fragment{}, fmt.Errorf("no cards on sibling page '%s'", href)
	}

	// keep each card together with any script siblings that follow it;
	// some layout generations hydrate cards from those inline scripts
	var b strings.Builder
	for _, card := range cards {
		b.WriteString(htmlutil.OuterHtml(card.Root))
		card.Root.NextUntil(":not(script)").Each(func(_ int, sel *goquery.Selection) {
			b.WriteString(htmlutil.OuterHtml(sel))
		})
	}
	return fragment{ordinal: ordinal, html: b.String(), cards: len(cards)}, nil
}

// discoverLinks returns the current page's ordinal and a map of
// sibling ordinal -> absolute href. Arrow links and the current page's
// own entry carry no new content and are skipped.
func discoverLinks(doc *goquery.Document, pageURL string) (current int, links map[int]string) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return 1, nil
	}
	current = ordinalOf(base, "")
	links = map[int]string{}

	paginationNav(doc).Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := sel.AttrOr("href", "")
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		ordinal := ordinalOf(u, htmlutil.CleanText(sel))
		if ordinal <= 0 || ordinal == current {
			return
		}
		links[ordinal] = u.String()
	})
	return current, links
}

func paginationNav(doc *goquery.Document) *goquery.Selection {
	for _, selector := range []string{
		`[data-testid="pagination"]`,
		"ul.pagination",
		"div.paging",
	} {
		if nav := doc.Find(selector).First(); nav.Length() > 0 {
			return nav
		}
	}
	return doc.Find("nav-pagination-missing")
}

// ordinalOf derives the 1-based page number from a pagination URL.
// Newer layouts paginate with from/pageSize offsets, older ones with a
// page query parameter, and the oldest only number the link text.
func ordinalOf(u *url.URL, text string) int {
	query := u.Query()
	if page := query.Get("page"); page != "" {
		if n, err := strconv.Atoi(page); err == nil {
			return n
		}
	}
	if from := query.Get("from"); from != "" {
		offset, err := strconv.Atoi(from)
		if err != nil {
			return 0
		}
		pageSize := 20
		if ps, err := strconv.Atoi(query.Get("pageSize")); err == nil && ps > 0 {
			pageSize = ps
		}
		return offset/pageSize + 1
	}
	if text != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
			return n
		}
	}
	if u.RawQuery == "" {
		return 1
	}
	return 0
}

// rehomePagination moves the pagination control to the end of the
// extended list so it stays reachable after the splice.
func rehomePagination(doc *goquery.Document, container *goquery.Selection) {
	nav := paginationNav(doc)
	if nav.Length() == 0 {
		return
	}
	container.AppendSelection(nav.Remove())
}

// SwapLazyImages promotes lazy image placeholders to real sources in
// fixed-size batches until none remain. Spliced-in cards arrive with
// their images unloaded because the host page's own lazy loader never
// sees them.
func SwapLazyImages(ctx context.Context, doc *goquery.Document) int {
	swapped := 0
	for {
		batch := doc.Find("img[data-src]")
		if batch.Length() == 0 {
			return swapped
		}
		if batch.Length() > swapBatchSize {
			batch = batch.Slice(0, swapBatchSize)
		}
		batch.Each(func(_ int, sel *goquery.Selection) {
			src := sel.AttrOr("data-src", "")
			sel.SetAttr("src", src)
			sel.RemoveAttr("data-src")
			sel.RemoveAttr("loading")
			swapped++
		})

		if doc.Find("img[data-src]").Length() == 0 {
			return swapped
		}
		select {
		case <-time.After(swapInterval):
		case <-ctx.Done():
			return swapped
		}
	}
}

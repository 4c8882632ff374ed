package locator

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("services/overlay/locator")

type TransactionType string

const (
	Sale TransactionType = "sale"
	Rent TransactionType = "rent"
)

func TransactionTypeFromURL(pageURL string) TransactionType {
	if strings.Contains(pageURL, "for-sale") {
		return Sale
	}
	return Rent
}

type Meta struct {
	Beds  int
	Baths int
	Size  int
	Type  string
}

// Card is one scraped listing entry. Node references are owned by the
// parsed document of the current pass and must never outlive it; every
// pass re-locates from scratch.
type Card struct {
	ID          string
	Href        string
	Address     string
	Price       string
	Meta        Meta
	Transaction TransactionType

	Root    *goquery.Selection
	Details *goquery.Selection
	Link    *goquery.Selection
}

// Locate extracts the listing cards from the current document. It is a
// pure function of the document: no caching across calls. The site has
// shipped several incompatible result-page templates over time, so each
// known layout is probed in priority order; a probe that yields zero
// cards falls through to the next. Zero cards overall means the page is
// not a supported listing page, which is a result, not an error.
func Locate(ctx context.Context, doc *goquery.Document, pageURL string) []Card {
	_, span := tracer.Start(ctx, "Locate")
	defer span.End()

	transaction := TransactionTypeFromURL(pageURL)

	for _, v := range variants {
		cards := v.locate(doc, pageURL, transaction)
		if len(cards) == 0 {
			continue
		}
		span.SetAttributes(
			attribute.String("variant", v.name),
			attribute.Int("cards", len(cards)),
		)
		return cards
	}
	return nil
}

// ResultsContainer returns the element that holds the result cards for
// whichever layout variant is present, or an empty selection.
func ResultsContainer(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{`[data-testid="results"]`, `ul#results`, `ul#sr_content`} {
		container := doc.Find(sel).First()
		if container.Length() > 0 {
			return container
		}
	}
	return doc.Find(`[data-testid="results"]`)
}

// identity derivation: a structural identifier from the markup is
// preferred; failing that, the last hyphen-delimited numeric segment of
// the listing URL path; failing that, the full href (weakest, but still
// stable per distinct listing URL)
func deriveID(structural string, href string) string {
	if structural != "" {
		return structural
	}
	if id := idFromHref(href); id != "" {
		return id
	}
	return href
}

func idFromHref(href string) string {
	if href == "" {
		return ""
	}
	link, err := url.Parse(href)
	if err != nil {
		return ""
	}
	path := strings.Trim(link.Path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	chunks := strings.Split(segments[len(segments)-1], "-")
	last := chunks[len(chunks)-1]
	if last == "" || !isDigits(last) {
		return ""
	}
	return last
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func absoluteHref(pageURL string, href string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	link, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(link).String()
}

package locator

import (
	"strconv"
	"strings"

	"daftie-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

type variant struct {
	name   string
	locate func(doc *goquery.Document, pageURL string, transaction TransactionType) []Card
}

// probed in priority order, newest template first
var variants = []variant{
	{name: "testid", locate: locateTestID},
	{name: "propertycard", locate: locatePropertyCard},
	{name: "searchresult", locate: locateSearchResult},
}

// current generation: cards carry data-testid="result-<id>" and
// data-tracking attributes on the display spans
func locateTestID(doc *goquery.Document, pageURL string, transaction TransactionType) []Card {
	var cards []Card
	doc.Find(`[data-testid^="result-"]`).Each(func(_ int, root *goquery.Selection) {
		testid := root.AttrOr("data-testid", "")
		structural := strings.TrimPrefix(testid, "result-")

		link := root.Find("a").First()
		href := absoluteHref(pageURL, link.AttrOr("href", ""))

		cards = append(cards, Card{
			ID:          deriveID(structural, href),
			Href:        href,
			Address:     htmlutil.CleanText(root.Find(`[data-tracking="srp_address"]`).First()),
			Price:       htmlutil.CleanText(root.Find(`[data-tracking="srp_price"]`).First()),
			Meta:        parseMetaSpans(root.Find(`[data-tracking="srp_meta"]`).Find("span")),
			Transaction: transaction,
			Root:        root,
			Details:     root.Find(`[data-testid="card-container"]`).First(),
			Link:        link,
		})
	})
	return cards
}

// previous generation: styled-component class names, no stable data
// attributes, identity comes from the listing URL
func locatePropertyCard(doc *goquery.Document, pageURL string, transaction TransactionType) []Card {
	var cards []Card
	doc.Find(".PropertyCardContainer").Each(func(_ int, root *goquery.Selection) {
		link := root.Find("a").First()
		href := absoluteHref(pageURL, link.AttrOr("href", ""))

		cards = append(cards, Card{
			ID:          deriveID("", href),
			Href:        href,
			Address:     htmlutil.CleanText(root.Find(".PropertyInformationCommonStyles__addressCopy").First()),
			Price:       htmlutil.CleanText(root.Find(".PropertyInformationCommonStyles__costAmountCopy").First()),
			Meta:        parseMetaSpans(root.Find(".QuickPropertyDetails span")),
			Transaction: transaction,
			Root:        root,
			Details:     root.Find(".PropertyInformationCommonStyles").First(),
			Link:        link,
		})
	})
	return cards
}

// oldest supported generation: ul#sr_content with per-card data-adid
func locateSearchResult(doc *goquery.Document, pageURL string, transaction TransactionType) []Card {
	var cards []Card
	doc.Find("ul#sr_content li.sr_card").Each(func(_ int, root *goquery.Selection) {
		link := root.Find("a").First()
		href := absoluteHref(pageURL, link.AttrOr("href", ""))

		cards = append(cards, Card{
			ID:          deriveID(root.AttrOr("data-adid", ""), href),
			Href:        href,
			Address:     htmlutil.CleanText(root.Find(".sr_address").First()),
			Price:       htmlutil.CleanText(root.Find(".sr_price").First()),
			Meta:        parseMetaSpans(root.Find(".sr_info span")),
			Transaction: transaction,
			Root:        root,
			Details:     root.Find(".sr_info").First(),
			Link:        link,
		})
	})
	return cards
}

// display metadata is advisory: missing or unparseable spans default to
// zero rather than failing the pass
func parseMetaSpans(spans *goquery.Selection) Meta {
	meta := Meta{}
	spans.Each(func(_ int, span *goquery.Selection) {
		text := htmlutil.CleanText(span)
		if text == "" {
			return
		}
		switch {
		case strings.Contains(text, "Bed"):
			meta.Beds = leadingInt(text)
		case strings.Contains(text, "Bath"):
			meta.Baths = leadingInt(text)
		case strings.Contains(text, "m²"):
			meta.Size = leadingInt(text)
		default:
			meta.Type = text
		}
	})
	return meta
}

func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

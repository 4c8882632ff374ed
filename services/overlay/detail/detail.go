package detail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"daftie-backend/lib/htmlutil"
	"daftie-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
)

type Photo struct {
	Full  string
	Thumb string
}

type Coordinates struct {
	Longitude float64
	Latitude  float64
}

type Details struct {
	Title       string
	Description string
	Features    []string
	Photos      []Photo
	Coordinates *Coordinates
}

// embed url for a static map centered on the listing, with a marker
func (c Coordinates) MapURL() string {
	return fmt.Sprintf(
		"https://www.openstreetmap.org/export/embed.html?bbox=%f,%f,%f,%f&layer=mapnik&marker=%f,%f",
		c.Longitude-0.01, c.Latitude-0.01, c.Longitude+0.01, c.Latitude+0.01,
		c.Latitude, c.Longitude,
	)
}

// Fetcher lazily pulls a listing's own page and extracts the extended
// description, features, photos and map coordinates. Results cache by
// href for the fetcher's lifetime, which is the daemon's: listing
// pages change rarely enough that re-expanding a card after a reload
// should not cost another fetch. A second trigger while a fetch is in
// flight observes that fetch instead of issuing a duplicate.
type Fetcher struct {
	client *resty.Client
	group  singleflight.Group

	mu    sync.Mutex
	cache map[string]Details
}

func NewFetcher(userAgent string) *Fetcher {
	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	}
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "overlay/detail/http")

	return &Fetcher{
		client: client,
		cache:  map[string]Details{},
	}
}

func (f *Fetcher) Fetch(ctx context.Context, href string) (Details, error) {
	f.mu.Lock()
	cached, ok := f.cache[href]
	f.mu.Unlock()
	if ok {
		return cached, nil
	}

	v, err, _ := f.group.Do(href, func() (interface{}, error) {
		details, err := f.fetch(ctx, href)
		if err != nil {
			return Details{}, err
		}
		f.mu.Lock()
		f.cache[href] = details
		f.mu.Unlock()
		return details, nil
	})
	if err != nil {
		return Details{}, err
	}
	return v.(Details), nil
}

func (f *Fetcher) fetch(ctx context.Context, href string) (Details, error) {
	res, err := f.client.R().
		SetContext(ctx).
		Get(href)
	if err != nil {
		return Details{}, err
	}
	if res.IsError() {
		return Details{}, fmt.Errorf("listing page returned %s", res.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return Details{}, err
	}

	details, err := parseNextData(doc)
	if err == nil {
		return details, nil
	}
	// older site variant without the structured payload
	return parseLegacy(doc, err)
}

type nextData struct {
	Props struct {
		PageProps struct {
			Listing struct {
				Title       string   `json:"title"`
				Description string   `json:"description"`
				Features    []string `json:"features"`
				Media       struct {
					Images []map[string]string `json:"images"`
				} `json:"media"`
				Point struct {
					Coordinates []float64 `json:"coordinates"`
				} `json:"point"`
			} `json:"listing"`
		} `json:"pageProps"`
	} `json:"props"`
}

func parseNextData(doc *goquery.Document) (Details, error) {
	script := doc.Find(`script#__NEXT_DATA__`).First()
	if script.Length() == 0 {
		return Details{}, fmt.Errorf("structured listing payload not found")
	}

	var payload nextData
	err := json.Unmarshal([]byte(script.Text()), &payload)
	if err != nil {
		return Details{}, fmt.Errorf("structured listing payload: %w", err)
	}

	listing := payload.Props.PageProps.Listing
	if listing.Description == "" {
		return Details{}, fmt.Errorf("property description not found")
	}

	details := Details{
		Title:       listing.Title,
		Description: listing.Description,
		Features:    listing.Features,
	}
	for _, img := range listing.Media.Images {
		// just two sizes instead of all sizes
		photo := Photo{
			Full:  img["size1200x1200"],
			Thumb: img["size360x240"],
		}
		if photo.Full == "" || photo.Thumb == "" {
			continue
		}
		details.Photos = append(details.Photos, photo)
	}
	if coords := listing.Point.Coordinates; len(coords) == 2 {
		details.Coordinates = &Coordinates{
			Longitude: coords[0],
			Latitude:  coords[1],
		}
	}
	return details, nil
}

var photoURLRegex = regexp.MustCompile(`https?://[^"'\s\\]+\.(?:jpe?g|png)`)
var latitudeRegex = regexp.MustCompile(`["']?latitude["']?\s*[:=]\s*(-?[0-9]+\.[0-9]+)`)
var longitudeRegex = regexp.MustCompile(`["']?longitude["']?\s*[:=]\s*(-?[0-9]+\.[0-9]+)`)

// secondary extraction for pages predating the structured payload:
// scan embedded scripts for photo urls and coordinates, and take the
// description from the page body
func parseLegacy(doc *goquery.Document, payloadErr error) (Details, error) {
	details := Details{
		Title:       htmlutil.CleanText(doc.Find("h1").First()),
		Description: htmlutil.CleanText(doc.Find("#description").First()),
	}

	var scripts strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts.WriteString(s.Text())
		scripts.WriteString("\n")
	})
	seen := map[string]bool{}
	for _, u := range photoURLRegex.FindAllString(scripts.String(), -1) {
		if seen[u] {
			continue
		}
		seen[u] = true
		details.Photos = append(details.Photos, Photo{Full: u, Thumb: u})
	}

	lat := latitudeRegex.FindStringSubmatch(scripts.String())
	lng := longitudeRegex.FindStringSubmatch(scripts.String())
	if len(lat) == 2 && len(lng) == 2 {
		details.Coordinates = &Coordinates{
			Latitude:  parseFloat(lat[1]),
			Longitude: parseFloat(lng[1]),
		}
	}

	if details.Description == "" && len(details.Photos) == 0 {
		return Details{}, payloadErr
	}
	return details, nil
}

func parseFloat(s string) float64 {
	var f float64
	fmt.Sscanf(s, "%f", &f)
	return f
}

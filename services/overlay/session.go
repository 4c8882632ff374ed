package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"daftie-backend/lib/textutil"
	"daftie-backend/lib/timezone"
	"daftie-backend/services/overlay/detail"
	"daftie-backend/services/overlay/locator"
	"daftie-backend/services/stash"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("services/overlay")

// notified when a tracked listing's price drops below its previous
// recorded value
type PriceAlerter interface {
	PriceDropped(ctx context.Context, address, href, previous, current string)
}

// Session owns the overlay state for one results page: the metadata
// stash, the lazy detail fetcher and the hidden count. Documents are
// re-located from scratch on every pass; no node reference survives a
// pass. Construct with NewSession, then Bootstrap exactly once before
// anything else.
type Session struct {
	mu      sync.Mutex
	stash   *stash.Store
	fetcher *detail.Fetcher
	alerter PriceAlerter

	pageURL         string
	hiddenCount     int
	lastFingerprint uint64
}

func NewSession(store *stash.Store, fetcher *detail.Fetcher, alerter PriceAlerter) *Session {
	return &Session{
		stash:   store,
		fetcher: fetcher,
		alerter: alerter,
	}
}

// Bootstrap runs the first reconciliation pass. The bulk storage read
// completes before the pass so records loaded from previous sessions
// are never mistaken for new. Zero located cards means the page is not
// a supported listing page; the session reports unsupported and stays
// idle.
func (s *Session) Bootstrap(ctx context.Context, doc *goquery.Document, pageURL string) (supported bool, err error) {
	ctx, span := tracer.Start(ctx, "Bootstrap")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	cards := locator.Locate(ctx, doc, pageURL)
	if len(cards) == 0 {
		span.SetAttributes(attribute.Bool("supported", false))
		return false, nil
	}
	s.pageURL = pageURL

	keys := make([]string, len(cards))
	for i, card := range cards {
		keys[i] = stash.Key(card.ID)
	}
	err = s.stash.Load(ctx, keys)
	if err != nil {
		// in-memory state stays authoritative, the worst case is that
		// this session starts from empty records
		slog.ErrorContext(ctx, "failed to load stash", "err", err)
	}

	s.lastFingerprint = fingerprint(doc)
	s.reconcile(ctx, doc, cards)
	return true, nil
}

// Observe handles one mutation event from the page (infinite scroll,
// client-side re-render, pagination splice). Mutations caused by this
// system's own markup are recognized by an unchanged stripped
// fingerprint and skipped, which is what keeps observation from
// feeding back into itself.
func (s *Session) Observe(ctx context.Context, doc *goquery.Document) int {
	ctx, span := tracer.Start(ctx, "Observe")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	fp := fingerprint(doc)
	if fp == s.lastFingerprint {
		span.SetAttributes(attribute.Bool("self_caused", true))
		return s.hiddenCount
	}
	s.lastFingerprint = fp

	s.reconcile(ctx, doc, nil)
	return s.hiddenCount
}

// the reconciliation pipeline: locate -> merge with stash -> visibility
// -> overlay attach. Cheap to repeat, and repeating it is the primary
// correctness mechanism against DOM churn the system does not control.
func (s *Session) reconcile(ctx context.Context, doc *goquery.Document, cards []locator.Card) {
	ctx, span := tracer.Start(ctx, "reconcile")
	defer span.End()

	if cards == nil {
		cards = locator.Locate(ctx, doc, s.pageURL)
	}

	costsChanged := false
	for _, card := range cards {
		meta := s.stash.Get(stash.Key(card.ID))
		costsChanged = s.recordCost(ctx, card, meta) || costsChanged
	}

	s.hiddenCount = applyVisibility(doc, cards, s.stash)

	for _, card := range cards {
		attachControls(card, stash.Key(card.ID), s.stash.Get(stash.Key(card.ID)), false)
	}

	if costsChanged {
		s.stash.Save(ctx)
	}
	span.SetAttributes(
		attribute.Int("cards", len(cards)),
		attribute.Int("hidden", s.hiddenCount),
	)
}

func (s *Session) recordCost(ctx context.Context, card locator.Card, meta *stash.CardMetadata) bool {
	previous := ""
	if len(meta.Costs) > 0 {
		previous = meta.Costs[len(meta.Costs)-1].Value
	}
	if !meta.RecordCost(timezone.Now(), card.Price) {
		return false
	}
	if s.alerter != nil && previous != "" {
		prev := textutil.ParsePrice(previous)
		curr := textutil.ParsePrice(card.Price)
		if curr > 0 && curr < prev {
			// the alert is best-effort and may dial out; it must never
			// stall the reconciliation pass holding the session mutex
			go s.alerter.PriceDropped(
				context.WithoutCancel(ctx),
				card.Address, card.Href, previous, card.Price,
			)
		}
	}
	return true
}

// ToggleHide flips the manual hidden flag for one card and refreshes
// its overlay in place (force re-attach, so the hide button label and
// any expanded panels never go stale).
func (s *Session) ToggleHide(ctx context.Context, doc *goquery.Document, key string) (hidden bool, err error) {
	ctx, span := tracer.Start(ctx, "ToggleHide")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	card, err := s.findCard(ctx, doc, key)
	if err != nil {
		return false, err
	}

	meta := s.stash.Get(key)
	meta.Hidden = !meta.Hidden

	cards := locator.Locate(ctx, doc, s.pageURL)
	s.hiddenCount = applyVisibility(doc, cards, s.stash)
	attachControls(card, key, meta, true)
	s.stash.Save(ctx)
	return meta.Hidden, nil
}

func (s *Session) SaveNotes(ctx context.Context, doc *goquery.Document, key string, notes string) error {
	ctx, span := tracer.Start(ctx, "SaveNotes")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.stash.Get(key)
	meta.Notes = notes
	s.stash.Save(ctx)

	// refresh the overlay so the textarea content survives a forced
	// re-render; a missing card is fine, the notes are saved regardless
	card, err := s.findCard(ctx, doc, key)
	if err == nil {
		attachControls(card, key, meta, true)
	}
	return nil
}

// HideArea appends a place-name token to the global hide list, hiding
// every card whose address contains it.
func (s *Session) HideArea(ctx context.Context, doc *goquery.Document, area string) int {
	ctx, span := tracer.Start(ctx, "HideArea")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	area = textutil.NormalizeAddress(area)
	controls := s.stash.Controls()
	for _, t := range controls.HideList {
		if t == area {
			return s.hiddenCount
		}
	}
	controls.HideList = append(controls.HideList, area)
	s.stash.SetControls(controls)
	s.stash.Save(ctx)

	s.reconcile(ctx, doc, nil)
	return s.hiddenCount
}

// UpdateSettings applies new global controls pushed from the popup and
// immediately re-runs visibility so the change is visible without a
// reload.
func (s *Session) UpdateSettings(ctx context.Context, doc *goquery.Document, controls stash.GlobalControls) int {
	ctx, span := tracer.Start(ctx, "UpdateSettings")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stash.SetControls(controls)
	s.stash.Save(ctx)

	s.reconcile(ctx, doc, nil)
	return s.hiddenCount
}

// Details lazily fetches the extended description, photos and map
// coordinates for one card. Concurrent triggers for the same card share
// a single underlying fetch.
func (s *Session) Details(ctx context.Context, doc *goquery.Document, key string) (detail.Details, error) {
	ctx, span := tracer.Start(ctx, "Details")
	defer span.End()

	s.mu.Lock()
	card, err := s.findCard(ctx, doc, key)
	s.mu.Unlock()
	if err != nil {
		return detail.Details{}, err
	}
	return s.fetcher.Fetch(ctx, card.Href)
}

// Card returns the located card behind a stash key for callers that
// need its href or transaction type.
func (s *Session) Card(ctx context.Context, doc *goquery.Document, key string) (locator.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCard(ctx, doc, key)
}

func (s *Session) HiddenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hiddenCount
}

// a stale key is a recoverable miss: the page may have replaced the
// node subtree since the action was issued
func (s *Session) findCard(ctx context.Context, doc *goquery.Document, key string) (locator.Card, error) {
	for _, card := range locator.Locate(ctx, doc, s.pageURL) {
		if stash.Key(card.ID) == key {
			return card, nil
		}
	}
	return locator.Card{}, fmt.Errorf("no card on the current page for %s", key)
}

// Package popup exposes the overlay over a local HTTP API. The content
// script posts the page's current markup with each call and gets the
// annotated markup back; the popup uses the same surface for counts
// and settings.
package popup

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"daftie-backend/lib/htmlutil"
	"daftie-backend/lib/telemetry"
	"daftie-backend/services/overlay"
	"daftie-backend/services/overlay/locator"
	"daftie-backend/services/overlay/paginate"
	"daftie-backend/services/stash"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/popup")

type Options struct {
	// origin-site endpoint that accepts the update_note form post;
	// empty disables mirroring
	NoteSyncURL string
	UserAgent   string
}

type Service struct {
	session    *overlay.Session
	store      *stash.Store
	prefetcher *paginate.Prefetcher
	client     *resty.Client
	config     Options
}

func NewService(store *stash.Store, session *overlay.Session, options Options) *Service {
	client := resty.New()
	if options.UserAgent != "" {
		client.SetHeader("User-Agent", options.UserAgent)
	}
	client.SetTimeout(time.Second * 15)
	telemetry.InstrumentResty(client, "services/popup")

	return &Service{
		session:    session,
		store:      store,
		prefetcher: paginate.NewPrefetcher(options.UserAgent),
		client:     client,
		config:     options,
	}
}

// Router wires up the API. CORS is wide open: the only consumers are
// the extension's own contexts, and the server binds to loopback.
func (s *Service) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/page/bootstrap", s.bootstrapPage).Methods("POST")
	router.HandleFunc("/api/page/observe", s.observePage).Methods("POST")
	router.HandleFunc("/api/page/prefetch", s.prefetchPages).Methods("POST")

	router.HandleFunc("/api/card/toggle-hide", s.toggleHide).Methods("POST")
	router.HandleFunc("/api/card/notes", s.saveNotes).Methods("POST")
	router.HandleFunc("/api/card/details", s.cardDetails).Methods("POST")

	router.HandleFunc("/api/area/hide", s.hideArea).Methods("POST")

	router.HandleFunc("/api/message", s.message).Methods("POST")
	router.HandleFunc("/api/settings", s.getSettings).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "healthy"})
	}).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	})
	return c.Handler(router)
}

type pageRequest struct {
	Url  string `json:"url"`
	Html string `json:"html"`
}

type pageResponse struct {
	Supported   bool   `json:"supported"`
	Html        string `json:"html"`
	HiddenCount int    `json:"hiddenCount"`
	CardsAdded  int    `json:"cardsAdded,omitempty"`
}

type cardRequest struct {
	Html  string `json:"html"`
	Key   string `json:"key"`
	Notes string `json:"notes"`
}

type cardResponse struct {
	Html        string `json:"html"`
	Hidden      bool   `json:"hidden"`
	HiddenCount int    `json:"hiddenCount"`
}

type areaRequest struct {
	Html string `json:"html"`
	Area string `json:"area"`
}

type messageRequest struct {
	Type     string                `json:"type"`
	Html     string                `json:"html"`
	Settings *stash.GlobalControls `json:"settings"`
}

type messageResponse struct {
	Count int    `json:"count"`
	Html  string `json:"html,omitempty"`
}

type photoResponse struct {
	Full  string `json:"full"`
	Thumb string `json:"thumb"`
}

type detailsResponse struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Features    []string        `json:"features,omitempty"`
	Photos      []photoResponse `json:"photos,omitempty"`
	MapUrl      string          `json:"mapUrl,omitempty"`
}

func (s *Service) bootstrapPage(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "bootstrapPage")
	defer span.End()

	var req pageRequest
	doc, ok := decodePage(w, r, &req)
	if !ok {
		return
	}

	supported, err := s.session.Bootstrap(ctx, doc, req.Url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bootstrap failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.Bool("supported", supported))

	writeJSON(w, pageResponse{
		Supported:   supported,
		Html:        htmlutil.Render(doc),
		HiddenCount: s.session.HiddenCount(),
	})
}

func (s *Service) observePage(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "observePage")
	defer span.End()

	var req pageRequest
	doc, ok := decodePage(w, r, &req)
	if !ok {
		return
	}

	count := s.session.Observe(ctx, doc)
	writeJSON(w, pageResponse{
		Supported:   true,
		Html:        htmlutil.Render(doc),
		HiddenCount: count,
	})
}

func (s *Service) prefetchPages(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "prefetchPages")
	defer span.End()

	var req pageRequest
	doc, ok := decodePage(w, r, &req)
	if !ok {
		return
	}

	added, err := s.prefetcher.Prefetch(ctx, doc, req.Url)
	if err != nil {
		// partial results still get spliced and returned
		span.RecordError(err)
		slog.ErrorContext(ctx, "prefetch finished with errors", "err", err)
	}
	paginate.SwapLazyImages(ctx, doc)
	count := s.session.Observe(ctx, doc)

	writeJSON(w, pageResponse{
		Supported:   true,
		Html:        htmlutil.Render(doc),
		HiddenCount: count,
		CardsAdded:  added,
	})
}

func (s *Service) toggleHide(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "toggleHide")
	defer span.End()

	var req cardRequest
	doc, ok := decodeCard(w, r, &req)
	if !ok {
		return
	}

	hidden, err := s.session.ToggleHide(ctx, doc, req.Key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, cardResponse{
		Html:        htmlutil.Render(doc),
		Hidden:      hidden,
		HiddenCount: s.session.HiddenCount(),
	})
}

func (s *Service) saveNotes(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "saveNotes")
	defer span.End()

	var req cardRequest
	doc, ok := decodeCard(w, r, &req)
	if !ok {
		return
	}

	err := s.session.SaveNotes(ctx, doc, req.Key, req.Notes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// notes saved through this UI get mirrored to the origin site;
	// notes that arrived from the origin site never loop back
	s.mirrorNote(ctx, doc, req.Key, req.Notes)

	writeJSON(w, cardResponse{
		Html:        htmlutil.Render(doc),
		HiddenCount: s.session.HiddenCount(),
	})
}

func (s *Service) cardDetails(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "cardDetails")
	defer span.End()

	var req cardRequest
	doc, ok := decodeCard(w, r, &req)
	if !ok {
		return
	}

	details, err := s.session.Details(ctx, doc, req.Key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detail fetch failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	res := detailsResponse{
		Title:       details.Title,
		Description: details.Description,
		Features:    details.Features,
	}
	for _, photo := range details.Photos {
		res.Photos = append(res.Photos, photoResponse{Full: photo.Full, Thumb: photo.Thumb})
	}
	if details.Coordinates != nil {
		res.MapUrl = details.Coordinates.MapURL()
	}
	writeJSON(w, res)
}

func (s *Service) hideArea(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "hideArea")
	defer span.End()

	var req areaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, ok := parsePage(w, req.Html)
	if !ok {
		return
	}

	count := s.session.HideArea(ctx, doc, req.Area)
	writeJSON(w, pageResponse{
		Supported:   true,
		Html:        htmlutil.Render(doc),
		HiddenCount: count,
	})
}

// message mirrors the extension's cross-context messaging surface.
func (s *Service) message(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "message")
	defer span.End()

	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	span.SetAttributes(attribute.String("type", req.Type))

	switch req.Type {
	case "getHiddenCount":
		writeJSON(w, messageResponse{Count: s.session.HiddenCount()})

	case "settingsUpdated":
		if req.Settings == nil {
			http.Error(w, "settings payload required", http.StatusBadRequest)
			return
		}
		res := messageResponse{}
		if req.Html != "" {
			doc, ok := parsePage(w, req.Html)
			if !ok {
				return
			}
			res.Count = s.session.UpdateSettings(ctx, doc, *req.Settings)
			res.Html = htmlutil.Render(doc)
		} else {
			s.store.SetControls(*req.Settings)
			s.store.Save(ctx)
			res.Count = s.session.HiddenCount()
		}
		writeJSON(w, res)

	default:
		http.Error(w, "unknown message type", http.StatusBadRequest)
	}
}

func (s *Service) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Controls())
}

// mirrorNote fires the best-effort update_note form post at the origin
// site. Failures are logged and dropped.
func (s *Service) mirrorNote(ctx context.Context, doc *goquery.Document, key, notes string) {
	if s.config.NoteSyncURL == "" {
		return
	}
	ctx, span := tracer.Start(ctx, "mirrorNote")
	defer span.End()

	adType := "sale"
	if card, err := s.session.Card(ctx, doc, key); err == nil && card.Transaction == locator.Rent {
		adType = "rental"
	}

	res, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"action": "update_note",
			"note":   notes,
			"adId":   strings.TrimPrefix(key, "property:"),
			"adType": adType,
		}).
		Post(s.config.NoteSyncURL)
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "note mirror failed", "err", err)
		return
	}
	if res.StatusCode() >= 300 {
		slog.WarnContext(ctx, "note mirror rejected", "status", res.StatusCode())
	}
}

func decodePage(w http.ResponseWriter, r *http.Request, req *pageRequest) (*goquery.Document, bool) {
	if !decodeJSON(w, r, req) {
		return nil, false
	}
	return parsePage(w, req.Html)
}

func decodeCard(w http.ResponseWriter, r *http.Request, req *cardRequest) (*goquery.Document, bool) {
	if !decodeJSON(w, r, req) {
		return nil, false
	}
	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return nil, false
	}
	return parsePage(w, req.Html)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func parsePage(w http.ResponseWriter, html string) (*goquery.Document, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return doc, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

package popup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"daftie-backend/lib/testutil"
	"daftie-backend/services/overlay"
	"daftie-backend/services/overlay/detail"
	"daftie-backend/services/stash"
	"daftie-backend/services/stash/db"

	"github.com/stretchr/testify/require"
)

const pageURL = "https://www.daft.ie/property-for-sale/dublin"

func cardHTML(id, address string) string {
	return fmt.Sprintf(`<div data-testid="result-%s">
		<a href="/for-sale/listing/%s"></a>
		<div data-testid="card-container">
			<p data-tracking="srp_address">%s</p>
			<div data-tracking="srp_price"><p>€350,000</p></div>
		</div>
	</div>`, id, id, address)
}

func resultsPage(cards ...string) string {
	return `<html><body><div data-testid="results">` +
		strings.Join(cards, "\n") + `</div></body></html>`
}

func setupAPI(t *testing.T, options Options) (*httptest.Server, *stash.Store) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/popup",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	store := stash.NewStore(res.DB)
	session := overlay.NewSession(store, detail.NewFetcher(options.UserAgent), nil)
	server := httptest.NewServer(NewService(store, session, options).Router())
	t.Cleanup(server.Close)
	return server, store
}

func postJSON(t *testing.T, server *httptest.Server, path string, body any, out any) *http.Response {
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	res, err := http.Post(server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer res.Body.Close()

	if out != nil && res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res
}

func TestBootstrapRoundTrip(t *testing.T) {
	server, _ := setupAPI(t, Options{})

	var res pageResponse
	postJSON(t, server, "/api/page/bootstrap", pageRequest{
		Url:  pageURL,
		Html: resultsPage(cardHTML("1", "123 Main St, Dublin 4")),
	}, &res)

	require.True(t, res.Supported)
	require.Equal(t, 0, res.HiddenCount)
	require.Contains(t, res.Html, `data-df="controls"`)
}

func TestBootstrapUnsupportedPage(t *testing.T) {
	server, _ := setupAPI(t, Options{})

	var res pageResponse
	postJSON(t, server, "/api/page/bootstrap", pageRequest{
		Url:  "https://www.daft.ie/advice",
		Html: "<html><body><h1>Advice hub</h1></body></html>",
	}, &res)

	require.False(t, res.Supported)
	require.NotContains(t, res.Html, `data-df="controls"`)
}

func TestToggleHideThroughAPI(t *testing.T) {
	server, _ := setupAPI(t, Options{})
	page := resultsPage(cardHTML("1", "123 Main St, Dublin 4"))

	var boot pageResponse
	postJSON(t, server, "/api/page/bootstrap", pageRequest{Url: pageURL, Html: page}, &boot)

	var res cardResponse
	postJSON(t, server, "/api/card/toggle-hide", cardRequest{
		Html: boot.Html,
		Key:  stash.Key("1"),
	}, &res)

	require.True(t, res.Hidden)
	require.Equal(t, 1, res.HiddenCount)
	require.Contains(t, res.Html, "df-hidden")

	var msg messageResponse
	postJSON(t, server, "/api/message", messageRequest{Type: "getHiddenCount"}, &msg)
	require.Equal(t, 1, msg.Count)
}

func TestToggleHideUnknownKeyIs404(t *testing.T) {
	server, _ := setupAPI(t, Options{})
	page := resultsPage(cardHTML("1", "123 Main St, Dublin 4"))

	var boot pageResponse
	postJSON(t, server, "/api/page/bootstrap", pageRequest{Url: pageURL, Html: page}, &boot)

	res := postJSON(t, server, "/api/card/toggle-hide", cardRequest{
		Html: boot.Html,
		Key:  stash.Key("gone"),
	}, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSettingsUpdatedReappliesVisibility(t *testing.T) {
	server, store := setupAPI(t, Options{})
	page := resultsPage(
		cardHTML("1", "123 Main St, Dublin 4"),
		cardHTML("2", "456 Side St, Cork"),
	)

	var boot pageResponse
	postJSON(t, server, "/api/page/bootstrap", pageRequest{Url: pageURL, Html: page}, &boot)

	var msg messageResponse
	postJSON(t, server, "/api/message", messageRequest{
		Type: "settingsUpdated",
		Html: boot.Html,
		Settings: &stash.GlobalControls{
			HiddenEnabled: true,
			HideList:      []string{"cork"},
		},
	}, &msg)

	require.Equal(t, 1, msg.Count)
	require.Equal(t, []string{"cork"}, store.Controls().HideList)

	var get *http.Response
	get, err := http.Get(server.URL + "/api/settings")
	require.NoError(t, err)
	defer get.Body.Close()
	var controls stash.GlobalControls
	require.NoError(t, json.NewDecoder(get.Body).Decode(&controls))
	require.Equal(t, []string{"cork"}, controls.HideList)
}

func TestUnknownMessageTypeIs400(t *testing.T) {
	server, _ := setupAPI(t, Options{})
	res := postJSON(t, server, "/api/message", messageRequest{Type: "bogus"}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSaveNotesMirrorsToOrigin(t *testing.T) {
	var mirrored url.Values
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mirrored = r.PostForm
	}))
	defer origin.Close()

	server, store := setupAPI(t, Options{NoteSyncURL: origin.URL + "/save"})
	page := resultsPage(cardHTML("1", "123 Main St, Dublin 4"))

	var boot pageResponse
	postJSON(t, server, "/api/page/bootstrap", pageRequest{Url: pageURL, Html: page}, &boot)

	var res cardResponse
	postJSON(t, server, "/api/card/notes", cardRequest{
		Html:  boot.Html,
		Key:   stash.Key("1"),
		Notes: "ask about the boiler",
	}, &res)

	require.Equal(t, "update_note", mirrored.Get("action"))
	require.Equal(t, "ask about the boiler", mirrored.Get("note"))
	require.Equal(t, "1", mirrored.Get("adId"))
	require.Equal(t, "sale", mirrored.Get("adType"))
	require.Equal(t, "ask about the boiler", store.Get(stash.Key("1")).Notes)
}

func TestSaveNotesSkipsMirrorWhenUnconfigured(t *testing.T) {
	server, store := setupAPI(t, Options{})
	page := resultsPage(cardHTML("1", "123 Main St, Dublin 4"))

	var boot pageResponse
	postJSON(t, server, "/api/page/bootstrap", pageRequest{Url: pageURL, Html: page}, &boot)

	var res cardResponse
	postJSON(t, server, "/api/card/notes", cardRequest{
		Html:  boot.Html,
		Key:   stash.Key("1"),
		Notes: "no mirror",
	}, &res)
	require.Equal(t, "no mirror", store.Get(stash.Key("1")).Notes)
}

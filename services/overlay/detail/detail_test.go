package detail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"daftie-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const nextDataPage = `<html><body>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"listing":{
  "title":"Apartment 4, Smithfield Square, Dublin 7",
  "description":"Bright two-bed apartment.\nClose to the Luas.",
  "features":["Gas fired central heating","Double glazed windows"],
  "media":{"images":[
    {"size1200x1200":"https://img.example/1-1200.jpg","size360x240":"https://img.example/1-360.jpg"},
    {"size360x240":"https://img.example/2-360.jpg"}
  ]},
  "point":{"coordinates":[-6.278,53.348]}
}}}}
</script>
</body></html>`

const legacyPage = `<html><body>
<div id="description">A fine old cottage in need of work.</div>
<script>
var photos = ["https://img.example/a.jpg", "https://img.example/a.jpg", "https://img.example/b.png"];
var map = { latitude: 53.271, longitude: -9.048 };
</script>
</body></html>`

func TestFetchParsesStructuredPayload(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:overlay/detail")
	defer cleanup()

	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(nextDataPage))
	}))
	defer server.Close()

	f := NewFetcher("")
	d, err := f.Fetch(context.Background(), server.URL+"/listing/5812345")
	require.NoError(t, err)

	require.Equal(t, "Apartment 4, Smithfield Square, Dublin 7", d.Title)
	require.Contains(t, d.Description, "two-bed")
	require.Len(t, d.Features, 2)
	// the image missing a full-size url is dropped
	require.Len(t, d.Photos, 1)
	require.Equal(t, "https://img.example/1-1200.jpg", d.Photos[0].Full)
	require.NotNil(t, d.Coordinates)
	require.InDelta(t, 53.348, d.Coordinates.Latitude, 0.0001)

	// second expand hits the session cache
	_, err = f.Fetch(context.Background(), server.URL+"/listing/5812345")
	require.NoError(t, err)
	require.EqualValues(t, 1, requests.Load())
}

func TestConcurrentFetchesShareOneRequest(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:overlay/detail")
	defer cleanup()

	var requests atomic.Int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		w.Write([]byte(nextDataPage))
	}))
	defer server.Close()

	f := NewFetcher("")
	href := server.URL + "/listing/5812345"

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.Fetch(context.Background(), href)
		}(i)
	}
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.EqualValues(t, 1, requests.Load())
}

func TestFetchLegacyFallback(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:overlay/detail")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(legacyPage))
	}))
	defer server.Close()

	f := NewFetcher("")
	d, err := f.Fetch(context.Background(), server.URL+"/old-listing")
	require.NoError(t, err)

	require.Equal(t, "A fine old cottage in need of work.", d.Description)
	require.Len(t, d.Photos, 2)
	require.NotNil(t, d.Coordinates)
	require.InDelta(t, -9.048, d.Coordinates.Longitude, 0.0001)
}

func TestFetchErrorSurfaces(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:overlay/detail")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	f := NewFetcher("")
	_, err := f.Fetch(context.Background(), server.URL+"/missing")
	require.Error(t, err)
}

func TestMapURL(t *testing.T) {
	c := Coordinates{Longitude: -6.278, Latitude: 53.348}
	u := c.MapURL()
	require.Contains(t, u, "openstreetmap.org")
	require.Contains(t, u, "marker=53.348000,-6.278000")
}

package overlay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresOwnWrites(t *testing.T) {
	doc := parseDoc(t, resultsPage(
		cardHTML("1", "123 Main St, Dublin 4", "€350,000"),
		cardHTML("2", "456 Side St, Cork", "€295,000"),
	))
	before := fingerprint(doc)

	// everything this system writes into the page: overlay nodes,
	// df- classes on previously class-less elements
	doc.Find(`[data-testid="result-1"]`).AddClass("df-hidden")
	doc.Find(`[data-testid="card-container"]`).First().AppendHtml(
		`<div data-df="controls" data-df-key="property:1"><button class="df-button df-hide" data-df-action="hide">Hide</button></div>`,
	)
	require.Equal(t, before, fingerprint(doc))

	// a class added to an element that already carried one strips back
	// cleanly too
	doc.Find(`[data-testid="result-2"]`).SetAttr("class", "sr_card")
	withClass := fingerprint(doc)
	require.NotEqual(t, before, withClass)
	doc.Find(`[data-testid="result-2"]`).AddClass("df-hidden")
	require.Equal(t, withClass, fingerprint(doc))

	// an actual content mutation still registers
	doc.Find(`[data-testid="results"]`).AppendHtml(cardHTML("3", "7 New Rd, Galway", "€210,000"))
	require.NotEqual(t, withClass, fingerprint(doc))
}

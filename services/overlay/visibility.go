package overlay

import (
	"daftie-backend/lib/textutil"
	"daftie-backend/services/overlay/locator"
	"daftie-backend/services/stash"

	"github.com/PuerkitoBio/goquery"
)

// applyVisibility marks every card with its current hidden state and
// returns the hidden total. A card is hidden when its manual flag is
// set or its address contains any hide-list token. Nodes are never
// removed from the document, only classed, so counts and later
// re-scrapes stay accurate. Calling this twice with unchanged inputs
// changes nothing: AddClass and RemoveClass are both idempotent.
func applyVisibility(doc *goquery.Document, cards []locator.Card, store *stash.Store) int {
	controls := store.Controls()

	count := 0
	for _, card := range cards {
		meta := store.Get(stash.Key(card.ID))

		hidden := meta.Hidden
		if !hidden && card.Address != "" {
			hidden = textutil.MatchAddress(card.Address, controls.HideList)
		}
		if hidden {
			count++
			card.Root.AddClass("df-hidden")
		} else {
			card.Root.RemoveClass("df-hidden")
		}
	}

	// when the master switch is off, hidden cards stay in layout with a
	// distinguishing marker instead of being collapsed
	body := doc.Find("body")
	if controls.HiddenEnabled {
		body.RemoveClass("df-hidden-disabled")
	} else {
		body.AddClass("df-hidden-disabled")
	}

	return count
}

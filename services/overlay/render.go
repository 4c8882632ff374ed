package overlay

import (
	"fmt"
	"html"
	"strings"

	"daftie-backend/lib/textutil"
	"daftie-backend/services/overlay/locator"
	"daftie-backend/services/stash"
)

// attachControls adds the overlay control cluster to a card. The
// marker node (data-df="controls") is looked up inside the card's root,
// which covers both placements the layout variants call for: inside
// the details region or appended to the card itself. The invariant
// that holds regardless of variant is at most one overlay per card.
//
// With force false an already-decorated card is a no-op, which is what
// makes repeated reconciliation cheap. With force true the existing
// overlay is removed entirely, expanded panels included, before a
// fresh one is attached.
func attachControls(card locator.Card, key string, meta *stash.CardMetadata, force bool) {
	existing := card.Root.Find(`[data-df="controls"]`)
	if existing.Length() > 0 {
		if !force {
			return
		}
		existing.Remove()
	}

	target := card.Details
	if target == nil || target.Length() == 0 {
		target = card.Root
	}
	target.AppendHtml(renderControls(card, key, meta))
}

func renderControls(card locator.Card, key string, meta *stash.CardMetadata) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf(
		`<div class="df-controls-wrapper" data-df="controls" data-df-key="%s">`,
		html.EscapeString(key),
	))

	b.WriteString(`<div class="df-card-controls">`)
	hideLabel := "Hide"
	if meta.Hidden {
		hideLabel = "Unhide"
	}
	writeButton(&b, "hide", hideLabel, "")
	writeButton(&b, "notes", "Notes", "")
	writeButton(&b, "details", "Show Details", "")
	writeButton(&b, "photos", "Show Photos", "")
	writeButton(&b, "map", "Show Map", "")
	if area := textutil.ExtractPlaceName(card.Address); area != "" {
		writeButton(&b, "hide-area", "Hide all "+textutil.Capitalize(area), area)
	}
	b.WriteString(`</div>`)

	notesShown := ""
	if meta.Notes != "" {
		notesShown = " shown"
	}
	b.WriteString(fmt.Sprintf(
		`<div class="df-notes-container%s"><div class="df-notes-inner">`+
			`<textarea class="df-notes-text" rows="3" placeholder="Enter notes here">%s</textarea>`+
			`</div></div>`,
		notesShown,
		html.EscapeString(meta.Notes),
	))

	b.WriteString(`</div>`)
	return b.String()
}

func writeButton(b *strings.Builder, action, label, area string) {
	areaAttr := ""
	if area != "" {
		areaAttr = fmt.Sprintf(` data-df-area="%s"`, html.EscapeString(area))
	}
	fmt.Fprintf(
		b,
		`<button class="df-button df-%s" data-df-action="%s"%s>%s</button>`,
		action, action, areaAttr, html.EscapeString(label),
	)
}

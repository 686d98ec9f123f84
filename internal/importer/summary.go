package importer

import (
	"fmt"
	"strings"

	"github.com/xxxsen/mdeck/internal/model"
)

// BuildSummary renders the user facing message of a finished import.
func BuildSummary(r *model.ImportReport) string {
	var sb strings.Builder
	switch Action(r.Action) {
	case ActionMerge:
		fmt.Fprintf(&sb, "Collection %q merged: %d new decks, %d existing decks updated, %d cards added, %d cards updated, %d unchanged.",
			r.Collection, r.DecksCreated, r.DecksUpdated, r.CardsCreated, r.CardsUpdated, r.CardsUnchanged)
	case ActionUpdate:
		fmt.Fprintf(&sb, "Collection %q updated: %d decks refreshed, %d cards added, %d cards updated, %d unchanged.",
			r.Collection, r.DecksUpdated, r.CardsCreated, r.CardsUpdated, r.CardsUnchanged)
	default:
		fmt.Fprintf(&sb, "Collection %q imported: %d decks created, %d cards added.",
			r.Collection, r.DecksCreated, r.CardsCreated)
	}
	if r.MediaFound > 0 {
		fmt.Fprintf(&sb, " Media: %d/%d files processed", r.MediaUploaded, r.MediaFound)
		if r.MediaFailed > 0 {
			fmt.Fprintf(&sb, ", %d failed", r.MediaFailed)
		}
		sb.WriteString(".")
	}
	return sb.String()
}

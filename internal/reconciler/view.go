package reconciler

import (
	"offerwall/reconciler-service/internal/model"
	"offerwall/reconciler-service/internal/notify"
	"offerwall/reconciler-service/internal/statecache"
)

// MissingItem is one offer not in inventory with its notification status.
type MissingItem struct {
	Offer  model.CandidateOffer `json:"offer"`
	Status notify.ItemStatus    `json:"status"`
}

// View is the operator-facing rendering of a snapshot.
type View struct {
	statecache.Snapshot
	Counts  notify.Counts `json:"counts"`
	Missing []MissingItem `json:"missing"`
}

// NewView annotates every missing offer with its status.
func NewView(snap statecache.Snapshot) View {
	sets := snap.Sets()
	missing := snap.Result.NotInInventory
	items := make([]MissingItem, len(missing))
	for i, c := range missing {
		items[i] = MissingItem{Offer: c, Status: sets.StatusOf(i)}
	}
	return View{Snapshot: snap, Counts: sets.Summary(len(missing)), Missing: items}
}

package notify

import (
	"fmt"
	"strings"

	"offerwall/reconciler-service/internal/model"
)

// RenderFunc formats one offer as a body line. It must produce lines that
// ExtractItems can read back, which RenderItem does.
type RenderFunc func(model.CandidateOffer) string

// Subject names the batch (1-based for humans) and how many offers it holds.
func Subject(b model.Batch, totalBatches int) string {
	noun := "offers"
	if b.Len() == 1 {
		noun = "offer"
	}
	return fmt.Sprintf("Offer request: batch %d of %d (%d %s)", b.Index+1, totalBatches, b.Len(), noun)
}

// RenderBody renders the message for one batch. Only offer lines start with
// the list-item prefix, so the body can be reconciled later.
func RenderBody(items []model.CandidateOffer, b model.Batch, totalBatches int, render RenderFunc) string {
	var sb strings.Builder
	sb.WriteString("Hello,\n\n")
	fmt.Fprintf(&sb, "We would like to run the following %d offer(s), which are not yet live on our offerwall (batch %d of %d).\n",
		len(items), b.Index+1, totalBatches)
	sb.WriteString("Please reply with tracking links, payouts and creatives where available.\n\n")
	for _, c := range items {
		sb.WriteString(render(c))
		sb.WriteByte('\n')
	}
	sb.WriteString("\nThank you,\nPartnerships team\n")
	return sb.String()
}

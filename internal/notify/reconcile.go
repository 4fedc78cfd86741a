package notify

import (
	"sort"

	"offerwall/reconciler-service/internal/inventory"
	"offerwall/reconciler-service/internal/model"
)

// ItemStatus is where a missing offer stands in the notification flow.
type ItemStatus string

const (
	ItemUnscheduled ItemStatus = "unscheduled"
	ItemScheduled   ItemStatus = "scheduled"
	ItemDelivered   ItemStatus = "delivered"
)

// IndexSets holds ascending offsets into the missing list. Delivered is
// always a subset of Scheduled.
type IndexSets struct {
	Scheduled []int `json:"scheduled"`
	Delivered []int `json:"delivered"`
}

// StatusOf reports the status of missing[i].
func (s IndexSets) StatusOf(i int) ItemStatus {
	switch {
	case contains(s.Delivered, i):
		return ItemDelivered
	case contains(s.Scheduled, i):
		return ItemScheduled
	default:
		return ItemUnscheduled
	}
}

// Counts summarises a missing list of length n.
type Counts struct {
	Unscheduled int `json:"unscheduled"`
	Scheduled   int `json:"scheduled"` // scheduled but not yet delivered
	Delivered   int `json:"delivered"`
}

// Summary counts items per status over a missing list of length n.
func (s IndexSets) Summary(n int) Counts {
	c := Counts{Delivered: len(s.Delivered), Scheduled: len(s.Scheduled) - len(s.Delivered)}
	c.Unscheduled = n - len(s.Scheduled)
	return c
}

func contains(sorted []int, i int) bool {
	k := sort.SearchInts(sorted, i)
	return k < len(sorted) && sorted[k] == i
}

// Reconcile derives scheduled/delivered offsets for missing from the job
// store's current jobs. Sent jobs mark their offers delivered; pending jobs
// mark them scheduled; failed and cancelled jobs cover nothing. It is a full
// rebuild with no dependency on previous results.
func Reconcile(missing []model.CandidateOffer, jobs []model.NotificationJob) IndexSets {
	delivered := make(map[model.MatchKey]struct{})
	scheduled := make(map[model.MatchKey]struct{})
	for _, j := range jobs {
		var target map[model.MatchKey]struct{}
		switch j.Status {
		case model.JobSent:
			target = delivered
		case model.JobPending:
			target = scheduled
		default:
			continue
		}
		for _, name := range ExtractItems(j.RenderedBody) {
			target[inventory.Normalize(name)] = struct{}{}
		}
	}

	sets := IndexSets{Scheduled: make([]int, 0), Delivered: make([]int, 0)}
	for i, c := range missing {
		k := inventory.Normalize(c.Name)
		if _, ok := delivered[k]; ok {
			sets.Delivered = append(sets.Delivered, i)
			sets.Scheduled = append(sets.Scheduled, i)
			continue
		}
		if _, ok := scheduled[k]; ok {
			sets.Scheduled = append(sets.Scheduled, i)
		}
	}
	return sets
}

// MergeScheduled adds offsets just dispatched to sets, keeping order and the
// subset invariant. Used to show freshly submitted batches before the next
// job-store read confirms them.
func MergeScheduled(sets IndexSets, fresh []int) IndexSets {
	seen := make(map[int]struct{}, len(sets.Scheduled)+len(fresh))
	merged := make([]int, 0, len(sets.Scheduled)+len(fresh))
	for _, list := range [][]int{sets.Scheduled, fresh} {
		for _, i := range list {
			if _, ok := seen[i]; ok {
				continue
			}
			seen[i] = struct{}{}
			merged = append(merged, i)
		}
	}
	sort.Ints(merged)
	return IndexSets{Scheduled: merged, Delivered: append(make([]int, 0, len(sets.Delivered)), sets.Delivered...)}
}

package inventory

import (
	"fmt"
	"math"

	"offerwall/reconciler-service/internal/model"
)

// Classify routes every candidate to InInventory or NotInInventory depending
// on whether its match key is present in inventory. Relative order is kept
// in both lists. It performs no I/O.
func Classify(candidates []model.CandidateOffer, inventory map[model.MatchKey]struct{}) model.ClassificationResult {
	res := model.ClassificationResult{
		InInventory:    make([]model.CandidateOffer, 0),
		NotInInventory: make([]model.CandidateOffer, 0),
	}
	for _, c := range candidates {
		if _, ok := inventory[Normalize(c.Name)]; ok {
			res.InInventory = append(res.InInventory, c)
		} else {
			res.NotInInventory = append(res.NotInInventory, c)
		}
	}
	res.Stats = ComputeStats(len(res.InInventory), len(candidates))
	return res
}

// ComputeStats derives the summary for have matches out of total.
// Percentages round to the nearest integer, halves away from zero. With
// total == 0 both percentages are 0.
func ComputeStats(have, total int) model.Stats {
	st := model.Stats{Total: total, Have: have, DontHave: total - have}
	if total == 0 {
		return st
	}
	st.HavePercent = percent(have, total)
	st.DontHavePercent = percent(total-have, total)
	return st
}

func percent(n, total int) int {
	return int(math.Round(float64(n) / float64(total) * 100))
}

// ValidateResult checks that res is a valid classification of candidates:
// the two lists partition candidates without reordering and the stats agree.
// Used on results produced by a remote membership source.
func ValidateResult(candidates []model.CandidateOffer, res model.ClassificationResult) error {
	total := len(res.InInventory) + len(res.NotInInventory)
	if total != len(candidates) {
		return fmt.Errorf("partition covers %d of %d candidates", total, len(candidates))
	}

	// Merge-walk: each candidate must be the next element of exactly one list.
	i, j := 0, 0
	for _, c := range candidates {
		switch {
		case i < len(res.InInventory) && res.InInventory[i].Row == c.Row:
			i++
		case j < len(res.NotInInventory) && res.NotInInventory[j].Row == c.Row:
			j++
		default:
			return fmt.Errorf("candidate at row %d missing or out of order", c.Row)
		}
	}

	if want := ComputeStats(len(res.InInventory), total); res.Stats != want {
		return fmt.Errorf("stats %+v do not match partition %+v", res.Stats, want)
	}
	return nil
}

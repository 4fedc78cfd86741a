// Package inventory decides which candidate offers already exist in the
// operator's inventory.
package inventory

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"offerwall/reconciler-service/internal/model"
)

// Normalize returns the match key for an offer name.
//
// The rule is: NFKC composition, full Unicode case folding (no locale),
// then surrounding whitespace is stripped and internal whitespace runs are
// collapsed to one space. Punctuation is kept as-is. Country and platform are
// deliberately not part of the key.
func Normalize(name string) model.MatchKey {
	s := norm.NFKC.String(name)
	s = cases.Fold().String(s)
	return model.MatchKey(strings.Join(strings.Fields(s), " "))
}

// KeyWithVariant extends the name key with country and platform. Used in
// logs and diagnostics only; membership is decided on Normalize alone.
func KeyWithVariant(c model.CandidateOffer) string {
	return string(Normalize(c.Name)) + "|" + c.Country + "|" + c.Platform
}

// KeySet builds a membership set from raw inventory names.
func KeySet(names []string) map[model.MatchKey]struct{} {
	keys := make(map[model.MatchKey]struct{}, len(names))
	for _, n := range names {
		k := Normalize(n)
		if k == "" {
			continue
		}
		keys[k] = struct{}{}
	}
	return keys
}

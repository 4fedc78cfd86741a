package candidates

import (
	"fmt"

	"github.com/tidwall/gjson"

	"offerwall/reconciler-service/internal/model"
)

// listPaths are tried in order when the document is an object.
var listPaths = []string{"offers", "candidates", "data"}

// ReadJSON accepts an array of offer objects (or of bare names), either at
// the top level or under "offers", "candidates" or "data". Object keys are
// matched with the same aliases as CSV headers.
func ReadJSON(data []byte) ([]model.CandidateOffer, error) {
	if !gjson.ValidBytes(data) {
		return nil, &InputError{Msg: "invalid JSON"}
	}
	doc := gjson.ParseBytes(data)
	return FromJSON(doc)
}

// FromJSON maps an already parsed document.
func FromJSON(doc gjson.Result) ([]model.CandidateOffer, error) {
	list := doc
	if doc.IsObject() {
		list = gjson.Result{}
		for _, p := range listPaths {
			if r := doc.Get(p); r.IsArray() {
				list = r
				break
			}
		}
	}
	if !list.IsArray() {
		return nil, &InputError{Msg: "expected a JSON array of offers"}
	}

	out := make([]model.CandidateOffer, 0)
	for i, item := range list.Array() {
		row := i + 1
		var vals [numFields]string
		switch {
		case item.Type == gjson.String:
			vals[fieldName] = item.String()
		case item.IsObject():
			item.ForEach(func(k, v gjson.Result) bool {
				if f, ok := lookupField(k.String()); ok && vals[f] == "" {
					vals[f] = v.String()
				}
				return true
			})
		default:
			continue
		}
		if vals[fieldName] == "" {
			continue
		}
		payout, err := parsePayout(vals[fieldPayout])
		if err != nil {
			return nil, &InputError{Msg: fmt.Sprintf("row %d: %v", row, err)}
		}
		out = append(out, model.NewCandidate(row,
			vals[fieldName], vals[fieldCountry], vals[fieldPlatform],
			vals[fieldPayoutModel], vals[fieldNetwork], payout))
	}
	if len(out) == 0 {
		return nil, ErrNoCandidates
	}
	return out, nil
}

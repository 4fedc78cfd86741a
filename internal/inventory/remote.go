package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"offerwall/reconciler-service/internal/model"
)

const remoteTimeout = 30 * time.Second

// RemoteClassifier delegates classification to the admin backend's
// inventory membership endpoint. The endpoint receives the candidate list
// and answers with {in_inventory, not_in_inventory, stats}.
type RemoteClassifier struct {
	Endpoint string
	client   *http.Client
}

// NewRemoteClassifier constructs a classifier with its own HTTP client.
func NewRemoteClassifier(endpoint string) *RemoteClassifier {
	return &RemoteClassifier{
		Endpoint: endpoint,
		client:   &http.Client{Timeout: remoteTimeout},
	}
}

type remoteRequest struct {
	Offers []remoteOffer `json:"offers"`
}

type remoteOffer struct {
	Row         int      `json:"row"`
	Name        string   `json:"name"`
	Country     string   `json:"country"`
	Platform    string   `json:"platform"`
	PayoutModel string   `json:"payout_model"`
	Network     string   `json:"network,omitempty"`
	Payout      *float64 `json:"payout,omitempty"`
}

// Classify posts candidates to the endpoint and validates the answer. The
// returned stats are always recomputed from the partition.
func (r *RemoteClassifier) Classify(ctx context.Context, candidates []model.CandidateOffer) (model.ClassificationResult, error) {
	req := remoteRequest{Offers: make([]remoteOffer, 0, len(candidates))}
	for _, c := range candidates {
		req.Offers = append(req.Offers, remoteOffer{
			Row: c.Row, Name: c.Name, Country: c.Country, Platform: c.Platform,
			PayoutModel: c.PayoutModel, Network: c.Network, Payout: c.Payout,
		})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("marshal candidates: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return model.ClassificationResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("http POST: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.ClassificationResult{}, fmt.Errorf("membership endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	res, err := ParseMembershipResponse(body)
	if err != nil {
		return model.ClassificationResult{}, err
	}

	reported := res.Stats
	res.Stats = ComputeStats(len(res.InInventory), len(res.InInventory)+len(res.NotInInventory))
	if reported != res.Stats {
		slog.Warn("membership endpoint stats disagree with partition",
			"reported", reported, "computed", res.Stats)
	}
	if err := ValidateResult(candidates, res); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("invalid membership response: %w", err)
	}
	return res, nil
}

// ParseMembershipResponse decodes the endpoint's JSON answer.
func ParseMembershipResponse(body []byte) (model.ClassificationResult, error) {
	if !gjson.ValidBytes(body) {
		return model.ClassificationResult{}, fmt.Errorf("membership response is not valid JSON")
	}
	doc := gjson.ParseBytes(body)

	in := doc.Get("in_inventory")
	out := doc.Get("not_in_inventory")
	if !in.IsArray() || !out.IsArray() {
		return model.ClassificationResult{}, fmt.Errorf("membership response lacks in_inventory/not_in_inventory arrays")
	}

	st := doc.Get("stats")
	return model.ClassificationResult{
		InInventory:    offersFromJSON(in),
		NotInInventory: offersFromJSON(out),
		Stats: model.Stats{
			Total:           int(st.Get("total").Int()),
			Have:            int(st.Get("have").Int()),
			DontHave:        int(st.Get("dont_have").Int()),
			HavePercent:     int(st.Get("have_percent").Int()),
			DontHavePercent: int(st.Get("dont_have_percent").Int()),
		},
	}, nil
}

func offersFromJSON(arr gjson.Result) []model.CandidateOffer {
	offers := make([]model.CandidateOffer, 0)
	arr.ForEach(func(_, v gjson.Result) bool {
		var payout *float64
		if p := v.Get("payout"); p.Exists() && p.Type == gjson.Number {
			f := p.Float()
			payout = &f
		}
		offers = append(offers, model.NewCandidate(
			int(v.Get("row").Int()),
			v.Get("name").String(),
			v.Get("country").String(),
			v.Get("platform").String(),
			v.Get("payout_model").String(),
			v.Get("network").String(),
			payout,
		))
		return true
	})
	return offers
}

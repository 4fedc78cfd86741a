// Package model defines shared data structures for the reconciler service.
package model

import (
	"math"
	"strings"
	"time"
)

// DefaultCountry is used when a candidate row carries no country.
const DefaultCountry = "GLOBAL"

// Platform values accepted on a candidate row.
const (
	PlatformIOS     = "iOS"
	PlatformAndroid = "Android"
	PlatformWeb     = "Web"
	PlatformAll     = "All"
)

// Payout model values accepted on a candidate row.
const (
	PayoutCPA      = "CPA"
	PayoutCPI      = "CPI"
	PayoutCPL      = "CPL"
	PayoutCPS      = "CPS"
	PayoutRevShare = "RevShare"
	PayoutUnknown  = "Unknown"
)

// CandidateOffer is one row of an externally supplied offer list.
// It is never modified after being read.
type CandidateOffer struct {
	Row         int      `json:"row"` // 1-based position in the source
	Name        string   `json:"name"`
	Country     string   `json:"country"`
	Platform    string   `json:"platform"`
	PayoutModel string   `json:"payoutModel"`
	Network     string   `json:"network,omitempty"`
	Payout      *float64 `json:"payout,omitempty"`
}

// NewCandidate builds a CandidateOffer with country, platform and payout
// model folded to their canonical spellings.
func NewCandidate(row int, name, country, platform, payoutModel, network string, payout *float64) CandidateOffer {
	return CandidateOffer{
		Row:         row,
		Name:        strings.TrimSpace(name),
		Country:     CanonicalCountry(country),
		Platform:    CanonicalPlatform(platform),
		PayoutModel: CanonicalPayoutModel(payoutModel),
		Network:     strings.TrimSpace(network),
		Payout:      payout,
	}
}

// CanonicalCountry upper-cases a country code; empty becomes GLOBAL.
func CanonicalCountry(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultCountry
	}
	return strings.ToUpper(s)
}

// CanonicalPlatform maps loose spellings ("ios", "android app", "desktop")
// onto the platform enum. Unknown values fall back to All.
func CanonicalPlatform(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "ios" || v == "iphone" || v == "ipad" || strings.HasPrefix(v, "ios "):
		return PlatformIOS
	case strings.HasPrefix(v, "android"):
		return PlatformAndroid
	case v == "web" || v == "desktop" || v == "mobile web":
		return PlatformWeb
	default:
		return PlatformAll
	}
}

// CanonicalPayoutModel maps a payout type onto the payout model enum.
func CanonicalPayoutModel(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(v)
	switch v {
	case "cpa":
		return PayoutCPA
	case "cpi":
		return PayoutCPI
	case "cpl":
		return PayoutCPL
	case "cps":
		return PayoutCPS
	case "revshare", "revenueshare", "rs":
		return PayoutRevShare
	default:
		return PayoutUnknown
	}
}

// MatchKey is the canonical identity of an offer for inventory membership.
type MatchKey string

// Stats summarises a classification run. Percentages are whole numbers.
type Stats struct {
	Total           int `json:"total"`
	Have            int `json:"have"`
	DontHave        int `json:"dontHave"`
	HavePercent     int `json:"havePercent"`
	DontHavePercent int `json:"dontHavePercent"`
}

// ClassificationResult partitions a candidate list into offers already in
// inventory and offers missing from it. It is replaced wholesale on every
// check.
type ClassificationResult struct {
	InInventory    []CandidateOffer `json:"inInventory"`
	NotInInventory []CandidateOffer `json:"notInInventory"`
	Stats          Stats            `json:"stats"`
}

// JobStatus mirrors the status column of notification_jobs.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSent      JobStatus = "sent"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// NotificationJob is one outbound message owned by the job store.
type NotificationJob struct {
	ID           string     `json:"id"`
	Subject      string     `json:"subject"`
	RenderedBody string     `json:"renderedBody"`
	Recipients   []string   `json:"recipients"`
	ScheduledAt  time.Time  `json:"scheduledAt"`
	Status       JobStatus  `json:"status"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	LastError    *string    `json:"lastError,omitempty"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Batch is a contiguous slice [Start, End) of the missing list, sent as a
// single notification ScheduledOffsetHours after submission time.
type Batch struct {
	Index                int     `json:"index"`
	Start                int     `json:"start"`
	End                  int     `json:"end"`
	ScheduledOffsetHours float64 `json:"scheduledOffsetHours"`
}

// Len returns the number of offers covered by the batch.
func (b Batch) Len() int { return b.End - b.Start }

// Offset converts ScheduledOffsetHours to a duration, rounded to the
// nearest nanosecond.
func (b Batch) Offset() time.Duration {
	return time.Duration(math.Round(b.ScheduledOffsetHours * float64(time.Hour)))
}

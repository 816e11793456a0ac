package score

import (
	"strconv"
	"strings"
	"time"

	"github.com/taxroll/lead-reconciler/internal/domain"
)

// Weights in points. The sum of the maxima is 100, so a property deep in
// judgment with a large balance and nobody paying on its behalf scores 100.
const (
	maxStatusPoints   = 40
	maxDurationPoints = 30
	maxBalancePoints  = 20
	maxEscalation     = 10

	// durationCapDays is where delinquency age stops adding points
	durationCapDays = 365
	// balanceCap is where the owed amount stops adding points
	balanceCap = 50_000.0
)

// balanceColumns are checked in order for the delinquent amount
var balanceColumns = []string{
	"Amount Due",
	"AMOUNT DUE",
	"Total Due",
	"Balance",
	"amountDue",
}

// thirdPartyColumns flag a payer other than the owner (a lender or tax
// servicer keeping the account alive). Any truthy value zeroes the score:
// those owners are not motivated sellers.
var thirdPartyColumns = []string{
	"Third Party Payer",
	"THIRD PARTY PAYER",
	"thirdPartyPayer",
	"Payment Plan",
}

// Scorer computes the 0-100 seller-motivation ranking shown on the
// dashboard. Deterministic for a given property and clock reading.
type Scorer struct{}

// NewScorer creates a motivation scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Compute ranks how motivated the owner likely is to sell. Higher is more
// motivated: further along the legal pipeline, delinquent longer, owing more,
// and recently escalated.
func (s *Scorer) Compute(p *domain.Property, now time.Time) int {
	if hasThirdPartyPayer(p.Attributes) {
		return 0
	}

	points := statusPoints(p.CurrentStatus)
	points += durationPoints(p.DaysSince(now))
	points += balancePoints(p.Attributes)
	if escalated(p) {
		points += maxEscalation
	}

	if points > 100 {
		points = 100
	}
	return points
}

func statusPoints(status domain.Status) int {
	switch status {
	case domain.StatusJudgment:
		return maxStatusPoints
	case domain.StatusActive:
		return maxStatusPoints * 3 / 4
	case domain.StatusPending:
		return maxStatusPoints / 2
	default:
		return 0
	}
}

func durationPoints(days int) int {
	if days >= durationCapDays {
		return maxDurationPoints
	}
	if days < 0 {
		return 0
	}
	return days * maxDurationPoints / durationCapDays
}

func balancePoints(attrs map[string]any) int {
	for _, col := range balanceColumns {
		v, ok := attrs[col]
		if !ok {
			continue
		}
		amount, err := parseAmount(domain.CellString(v))
		if err != nil {
			continue
		}
		if amount >= balanceCap {
			return maxBalancePoints
		}
		if amount <= 0 {
			return 0
		}
		return int(amount * maxBalancePoints / balanceCap)
	}
	return 0
}

// escalated reports whether the most recent transition moved the property
// deeper into the pipeline (P to A, or anything to J)
func escalated(p *domain.Property) bool {
	switch {
	case p.CurrentStatus == domain.StatusJudgment && p.PreviousStatus != domain.StatusJudgment && p.PreviousStatus != domain.StatusNone:
		return true
	case p.CurrentStatus == domain.StatusActive && p.PreviousStatus == domain.StatusPending:
		return true
	default:
		return false
	}
}

func hasThirdPartyPayer(attrs map[string]any) bool {
	for _, col := range thirdPartyColumns {
		v, ok := attrs[col]
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(domain.CellString(v))) {
		case "", "N", "NO", "FALSE", "0", "NONE":
			continue
		default:
			return true
		}
	}
	return false
}

// parseAmount strips currency formatting before parsing
func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}

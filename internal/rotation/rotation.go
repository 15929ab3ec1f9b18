// Package rotation decides which retention tier a backup cycle produces.
//
// The decision is a pure computation over the calendar date and the
// dataset's capture history: monthly beats weekly beats daily, and a tier
// is force-selected when the dataset has no capture of that tier yet,
// regardless of the date.
package rotation

import (
	"regexp"
	"time"

	"github.com/thoreinstein/borgsnap/internal/errors"
)

// Tier is a retention class. Ordered by precedence: Monthly > Weekly > Daily.
type Tier int

const (
	Daily Tier = iota
	Weekly
	Monthly
)

// Tiers lists all tiers in precedence order, highest first.
var Tiers = []Tier{Monthly, Weekly, Daily}

// String returns the tier name as used in labels.
func (t Tier) String() string {
	switch t {
	case Monthly:
		return "monthly"
	case Weekly:
		return "weekly"
	default:
		return "daily"
	}
}

// ParseTier converts a tier name to its Tier value.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "monthly":
		return Monthly, nil
	case "weekly":
		return Weekly, nil
	case "daily":
		return Daily, nil
	default:
		return 0, errors.Newf("unknown tier %q", s)
	}
}

// dateLayout is fixed width, so labels of one tier sort
// lexicographically in chronological order.
const dateLayout = "20060102"

// Label identifies one capture/archive of a dataset: "<tier>-YYYYMMDD".
type Label string

// labelPattern matches well-formed rotation labels.
var labelPattern = regexp.MustCompile(`^(monthly|weekly|daily)-(\d{8})$`)

// NewLabel builds the label for a tier and date.
func NewLabel(t Tier, date time.Time) Label {
	return Label(t.String() + "-" + date.Format(dateLayout))
}

// ParseLabel splits a label into its tier and date.
func ParseLabel(l Label) (Tier, time.Time, error) {
	m := labelPattern.FindStringSubmatch(string(l))
	if m == nil {
		return 0, time.Time{}, errors.Newf("malformed label %q", l)
	}
	tier, err := ParseTier(m[1])
	if err != nil {
		return 0, time.Time{}, err
	}
	date, err := time.Parse(dateLayout, m[2])
	if err != nil {
		return 0, time.Time{}, errors.Wrapf(err, "malformed date in label %q", l)
	}
	return tier, date, nil
}

// Valid reports whether l is a well-formed rotation label.
func (l Label) Valid() bool {
	return labelPattern.MatchString(string(l))
}

// Date returns the label's date, or the zero time for malformed labels.
func (l Label) Date() time.Time {
	_, d, err := ParseLabel(l)
	if err != nil {
		return time.Time{}
	}
	return d
}

// History answers which label, if any, a dataset most recently produced
// for a tier.
type History interface {
	Latest(t Tier) (Label, bool)
}

// Decide selects the tier for a backup cycle on the given date.
//
// Monthly is selected when the dataset has no monthly capture yet or the
// date is the first of the month. Otherwise weekly when the dataset has no
// weekly capture yet or the date is a Sunday. Otherwise daily. Exactly one
// tier is selected; precedence is strict.
func Decide(date time.Time, hist History) (Tier, Label) {
	if _, ok := hist.Latest(Monthly); !ok || date.Day() == 1 {
		return Monthly, NewLabel(Monthly, date)
	}
	if _, ok := hist.Latest(Weekly); !ok || date.Weekday() == time.Sunday {
		return Weekly, NewLabel(Weekly, date)
	}
	return Daily, NewLabel(Daily, date)
}

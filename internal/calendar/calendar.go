// Package calendar computes VIX monthly futures expiry dates and front-month
// contract symbols. It is pure and deterministic: no I/O, no failure modes.
package calendar

import "time"

// monthCodes maps a contract month to its CME futures letter code.
var monthCodes = map[time.Month]byte{
	time.January:   'F',
	time.February:  'G',
	time.March:     'H',
	time.April:     'J',
	time.May:       'K',
	time.June:      'M',
	time.July:      'N',
	time.August:    'Q',
	time.September: 'U',
	time.October:   'V',
	time.November:  'X',
	time.December:  'Z',
}

// maxMonthsAhead bounds the search for a contract month so VixExpiryOnOrAfter
// always terminates even for pathological input.
const maxMonthsAhead = 24

// thirdFriday returns the third Friday of the given month, at midnight UTC.
func thirdFriday(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	firstFriday := first.AddDate(0, 0, offset)
	return firstFriday.AddDate(0, 0, 14)
}

// expiryForContractMonth returns the VIX expiry date that falls within the
// given contract month: the Wednesday 30 days before the third Friday of the
// *following* calendar month.
func expiryForContractMonth(year int, month time.Month) time.Time {
	nextMonth := month + 1
	nextYear := year
	if nextMonth > time.December {
		nextMonth = time.January
		nextYear++
	}
	return thirdFriday(nextYear, nextMonth).AddDate(0, 0, -30)
}

// contractMonth locates the nearest contract month (year, month) whose expiry
// date is on or after d, along with that expiry date.
func contractMonth(d time.Time) (year int, month time.Month, expiry time.Time) {
	d = truncateToDate(d)
	year, month, _ = d.Date()
	for i := 0; i < maxMonthsAhead; i++ {
		e := expiryForContractMonth(year, month)
		if !e.Before(d) {
			return year, month, e
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	// Unreachable for any realistic input: expiries are monthly and strictly
	// increasing, so maxMonthsAhead always finds one.
	return year, month, expiryForContractMonth(year, month)
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// VixExpiryOnOrAfter returns the next VIX monthly futures expiry date that is
// greater than or equal to d.
func VixExpiryOnOrAfter(d time.Time) time.Time {
	_, _, expiry := contractMonth(d)
	return expiry
}

// FrontMonthSymbol returns root concatenated with the CME month code and
// single-digit year of the front-month contract for d, e.g. "VX" + "X7" for
// the November 2017 contract.
func FrontMonthSymbol(root string, d time.Time) string {
	year, month, _ := contractMonth(d)
	return root + string(monthCodes[month]) + yearDigit(year)
}

func yearDigit(year int) string {
	return string(rune('0' + year%10))
}

// DaysBetween returns the number of whole days between two dates (to - from),
// truncating both to midnight UTC first so callers need not worry about
// time-of-day noise in their inputs.
func DaysBetween(from, to time.Time) int {
	return int(truncateToDate(to).Sub(truncateToDate(from)).Hours() / 24)
}

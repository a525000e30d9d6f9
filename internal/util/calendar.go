package util

import "time"

// TradingCalendar provides session awareness for the CN A-share market:
// continuous trading Mon-Fri 9:30-11:30 and 13:00-15:00, Asia/Shanghai.
// Exchange holidays are not modelled; the monitor simply finds no active
// records on those days.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a calendar pinned to Asia/Shanghai. If the
// timezone database is unavailable it falls back to a fixed UTC+8 offset.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &TradingCalendar{loc: loc}
}

// InSession reports whether the market is in a continuous trading session
// at time t. Session bounds are inclusive of the open and exclusive of the
// close.
func (tc *TradingCalendar) InSession(t time.Time) bool {
	lt := t.In(tc.loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	m := lt.Hour()*60 + lt.Minute()
	morning := m >= 9*60+30 && m < 11*60+30
	afternoon := m >= 13*60 && m < 15*60
	return morning || afternoon
}

// LastTradeDate returns the most recent weekday with a completed session at
// time t, formatted YYYYMMDD. Before the 15:00 close the previous weekday is
// returned, since the current day's dailies are not yet published.
func (tc *TradingCalendar) LastTradeDate(t time.Time) string {
	lt := t.In(tc.loc)
	if lt.Hour() < 15 {
		lt = lt.AddDate(0, 0, -1)
	}
	for lt.Weekday() == time.Saturday || lt.Weekday() == time.Sunday {
		lt = lt.AddDate(0, 0, -1)
	}
	return lt.Format("20060102")
}

// Today returns the current date in the market timezone, formatted YYYYMMDD.
func (tc *TradingCalendar) Today(t time.Time) string {
	return t.In(tc.loc).Format("20060102")
}

// Now returns the current wall-clock time in the market timezone.
func (tc *TradingCalendar) Now() time.Time {
	return time.Now().In(tc.loc)
}

package ttl

import "time"

// The calendar table maps day numbers (days since the unix epoch, the
// in-memory representation of Date values) to unix seconds at the start of
// the day. Precomputed once at process init, immutable afterwards.
const lutDays = 65536

var dayStart [lutDays]int64

func init() {
	for d := 0; d < lutDays; d++ {
		dayStart[d] = int64(d) * 86400
	}
}

// FromDayNum converts a day number to unix seconds at the day's start.
func FromDayNum(d int64) int64 {
	if d >= 0 && d < lutDays {
		return dayStart[d]
	}
	return d * 86400
}

// ToDayNum converts unix seconds to the containing day's number.
func ToDayNum(sec int64) int64 {
	return sec / 86400
}

// ToNumYYYYMM renders a day number as the numeric YYYYMM of its month.
func ToNumYYYYMM(d int64) int {
	t := time.Unix(FromDayNum(d), 0).UTC()
	return t.Year()*100 + int(t.Month())
}

// ToNumYYYYMMDD renders a day number as numeric YYYYMMDD.
func ToNumYYYYMMDD(d int64) int {
	t := time.Unix(FromDayNum(d), 0).UTC()
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

package services

import "time"

// AddCalendarMonths прибавляет n календарных месяцев. Если в целевом месяце
// нет такого дня, берется последний день месяца: 31 января + 1 = 29 февраля.
// Время суток и часовой пояс сохраняются.
func AddCalendarMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	// Первое число целевого месяца, time.Date сам нормализует переполнение месяцев
	first := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

// ExtensionBase точка отсчета продления: текущий конец периода или now, если период уже истек.
func ExtensionBase(now, end time.Time) time.Time {
	if end.After(now) {
		return end
	}
	return now
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// нулевой день следующего месяца = последний день текущего
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

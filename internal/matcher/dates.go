package matcher

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const maxAgeYears = 120

var (
	numericDateRe = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4}|\d{2})\b`)
	isoDateRe     = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	monthDateRe   = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4}|\d{2})\b`)

	dobLabelRe = regexp.MustCompile(`(?i)\bD\.?\s?O\.?\s?B\b\.?|\bdate\s+of\s+birth\b|\bbirth\s*date\b`)

	encounterLabelRe = regexp.MustCompile(`(?i)\b(?:date\s+of\s+service|dos|(?:visit|encounter|service|appointment|exam|consultation|procedure|surgery|admission|admit|discharge)\s+date)\b\s*[:\-]?\s*`)
)

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// dateToken is a calendar date found in free text and where it was found.
type dateToken struct {
	date       time.Time
	start, end int
}

// scanDates returns every valid calendar date in text, in reading order.
// Two digit years are placed in the century that keeps them at or before now.
func scanDates(text string, now time.Time) []dateToken {
	var out []dateToken

	for _, m := range numericDateRe.FindAllStringSubmatchIndex(text, -1) {
		month, _ := strconv.Atoi(text[m[2]:m[3]])
		day, _ := strconv.Atoi(text[m[4]:m[5]])
		year := expandYear(text[m[6]:m[7]], now)
		if d, ok := makeDate(year, month, day); ok {
			out = append(out, dateToken{date: d, start: m[0], end: m[1]})
		}
	}

	for _, m := range isoDateRe.FindAllStringSubmatchIndex(text, -1) {
		year, _ := strconv.Atoi(text[m[2]:m[3]])
		month, _ := strconv.Atoi(text[m[4]:m[5]])
		day, _ := strconv.Atoi(text[m[6]:m[7]])
		if d, ok := makeDate(year, month, day); ok {
			out = append(out, dateToken{date: d, start: m[0], end: m[1]})
		}
	}

	for _, m := range monthDateRe.FindAllStringSubmatchIndex(text, -1) {
		month := monthsByPrefix[strings.ToLower(text[m[2] : m[2]+3])]
		day, _ := strconv.Atoi(text[m[4]:m[5]])
		year := expandYear(text[m[6]:m[7]], now)
		if d, ok := makeDate(year, int(month), day); ok {
			out = append(out, dateToken{date: d, start: m[0], end: m[1]})
		}
	}

	sortTokens(out)
	return out
}

func sortTokens(tokens []dateToken) {
	for i := 1; i < len(tokens); i++ {
		for j := i; j > 0 && tokens[j].start < tokens[j-1].start; j-- {
			tokens[j], tokens[j-1] = tokens[j-1], tokens[j]
		}
	}
}

func expandYear(s string, now time.Time) int {
	year, _ := strconv.Atoi(s)
	if len(s) != 2 {
		return year
	}

	century := now.Year() / 100 * 100
	if year > now.Year()%100 {
		return century - 100 + year
	}
	return century + year
}

func makeDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, false
	}

	return d, true
}

func plausibleBirthDate(d, now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !d.After(today) && !d.Before(today.AddDate(-maxAgeYears, 0, 0))
}

// ExtractDateOfBirth finds the patient's date of birth in OCR text. When the
// text holds more than one distinct plausible date, the one closest after a
// DOB label wins, then the one closest before it. Without a label the first
// date in the text is used.
func ExtractDateOfBirth(text string, now time.Time) (time.Time, bool) {
	var candidates []dateToken
	for _, tok := range scanDates(text, now) {
		if plausibleBirthDate(tok.date, now) {
			candidates = append(candidates, tok)
		}
	}

	if len(candidates) == 0 {
		return time.Time{}, false
	}

	if distinctDates(candidates) == 1 {
		return candidates[0].date, true
	}

	labels := dobLabelRe.FindAllStringIndex(text, -1)
	if len(labels) == 0 {
		return candidates[0].date, true
	}

	best, bestScore := candidates[0], -1
	for _, tok := range candidates {
		for _, l := range labels {
			score := labelDistance(tok, l[0], l[1])
			if bestScore < 0 || score < bestScore {
				best, bestScore = tok, score
			}
		}
	}

	return best.date, true
}

// labelDistance ranks a date against a label. Dates that follow the label
// always rank ahead of dates that precede it.
func labelDistance(tok dateToken, labelStart, labelEnd int) int {
	const precedingPenalty = 1 << 20

	if tok.start >= labelEnd {
		return tok.start - labelEnd
	}
	if tok.end <= labelStart {
		return labelStart - tok.end + precedingPenalty
	}
	return 0
}

func distinctDates(tokens []dateToken) int {
	seen := make(map[time.Time]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t.date] = struct{}{}
	}
	return len(seen)
}

// ExtractEncounterDate finds a date of service or similar visit date. It must
// directly follow its label and not lie in the future.
func ExtractEncounterDate(text string, now time.Time) (time.Time, bool) {
	labels := encounterLabelRe.FindAllStringIndex(text, -1)
	if len(labels) == 0 {
		return time.Time{}, false
	}

	tokens := scanDates(text, now)
	for _, l := range labels {
		for _, tok := range tokens {
			if tok.start == l[1] && !tok.date.After(now) {
				return tok.date, true
			}
		}
	}

	return time.Time{}, false
}

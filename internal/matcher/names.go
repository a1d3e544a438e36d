package matcher

import (
	"regexp"
	"strings"
	"unicode"
)

// Name is a patient name read from a document.
type Name struct {
	First  string
	Middle string
	Last   string
}

func (n Name) String() string {
	return strings.TrimSpace(n.First + " " + n.Last)
}

func (n Name) IsZero() bool {
	return n.First == "" || n.Last == ""
}

var (
	nameLabelRes = []*regexp.Regexp{
		regexp.MustCompile(`(?im)\bpatient\s*name\s*[:\-]\s*([^\n]+)`),
		regexp.MustCompile(`(?im)\bpatient\s*[:\-]\s*([^\n]+)`),
		regexp.MustCompile(`(?im)^\s*name\s*[:\-]\s*([^\n]+)`),
	}

	capitalizedRunRe = regexp.MustCompile(`\b[A-Z][a-zA-Z'\-]+(?:\s+[A-Z]\.?)?(?:\s+[A-Z][a-zA-Z'\-]+){1,2}\b`)

	nameWordRe = regexp.MustCompile(`^[A-Za-z][A-Za-z'\-]*\.?$`)
)

// stopWords end a labelled name, e.g. "Patient: Jane Doe DOB: ...".
var stopWords = map[string]struct{}{
	"dob": {}, "d.o.b": {}, "d.o.b.": {}, "date": {}, "birth": {}, "mrn": {}, "sex": {}, "gender": {},
	"age": {}, "id": {}, "acct": {}, "account": {}, "phone": {}, "ssn": {}, "address": {},
	"md": {}, "rn": {}, "np": {},
}

// headerWords mark a capitalized line as letterhead rather than a person.
var headerWords = map[string]struct{}{
	"hospital": {}, "clinic": {}, "medical": {}, "center": {}, "centre": {}, "health": {},
	"healthcare": {}, "system": {}, "group": {}, "associates": {}, "department": {}, "dept": {},
	"fax": {}, "phone": {}, "records": {}, "record": {}, "release": {}, "information": {},
	"request": {}, "page": {}, "date": {}, "from": {}, "to": {}, "re": {}, "dear": {},
	"cover": {}, "sheet": {}, "confidential": {}, "memorial": {}, "regional": {}, "university": {},
	"street": {}, "suite": {}, "avenue": {}, "road": {}, "office": {}, "services": {}, "care": {},
	"laboratory": {}, "radiology": {}, "report": {}, "summary": {}, "discharge": {}, "patient": {},
	"physician": {}, "provider": {}, "family": {}, "practice": {}, "internal": {}, "medicine": {},
	"dr": {}, "doctor": {}, "facility": {},
}

const headerLines = 12

// ExtractName reads the patient name from a labelled field, accepting both
// "First [Middle] Last" and "Last, First". Without a label it falls back to
// the first capitalized run in the top lines that does not look like
// letterhead.
func ExtractName(text string) (Name, bool) {
	for _, re := range nameLabelRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if n, ok := parseNameField(m[1]); ok && !looksLikeHeader(n.First+" "+n.Middle+" "+n.Last) {
				return n, true
			}
		}
	}

	lines := strings.Split(text, "\n")
	if len(lines) > headerLines {
		lines = lines[:headerLines]
	}

	for _, line := range lines {
		for _, run := range capitalizedRunRe.FindAllString(line, -1) {
			if looksLikeHeader(run) {
				continue
			}
			if n, ok := parseNameField(run); ok {
				return n, true
			}
		}
	}

	return Name{}, false
}

func parseNameField(field string) (Name, bool) {
	field = strings.TrimSpace(field)
	if field == "" {
		return Name{}, false
	}

	if i := strings.Index(field, ","); i > 0 {
		last := nameWords(field[:i])
		rest := nameWords(field[i+1:])
		if len(last) >= 1 && len(rest) >= 1 {
			n := Name{First: rest[0], Last: last[len(last)-1]}
			if len(rest) > 1 {
				n.Middle = rest[1]
			}
			return titleName(n), true
		}
	}

	words := nameWords(field)
	switch {
	case len(words) >= 3:
		return titleName(Name{First: words[0], Middle: words[1], Last: words[len(words)-1]}), true
	case len(words) == 2:
		return titleName(Name{First: words[0], Last: words[1]}), true
	}

	return Name{}, false
}

// nameWords returns the leading run of words that can belong to a name.
func nameWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ":;")
		endsClause := strings.HasSuffix(w, ",")
		w = strings.TrimRight(w, ",")
		if w == "" {
			break
		}
		if _, stop := stopWords[strings.ToLower(strings.TrimRight(w, "."))]; stop {
			break
		}
		if _, stop := stopWords[strings.ToLower(w)]; stop {
			break
		}
		if !nameWordRe.MatchString(w) {
			break
		}
		out = append(out, strings.TrimRight(w, "."))
		if endsClause || len(out) == 4 {
			break
		}
	}
	return out
}

func looksLikeHeader(run string) bool {
	for _, w := range strings.Fields(run) {
		if _, ok := headerWords[strings.ToLower(strings.Trim(w, ".,"))]; ok {
			return true
		}
	}
	return false
}

func titleName(n Name) Name {
	return Name{First: titleWord(n.First), Middle: titleWord(n.Middle), Last: titleWord(n.Last)}
}

func titleWord(w string) string {
	if w == "" {
		return ""
	}
	r := []rune(strings.ToLower(w))
	r[0] = unicode.ToUpper(r[0])
	for i := 1; i < len(r); i++ {
		if r[i-1] == '-' || r[i-1] == '\'' {
			r[i] = unicode.ToUpper(r[i])
		}
	}
	return string(r)
}

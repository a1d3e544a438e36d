package matcher

import (
	"regexp"
	"strings"
)

var facilityRe = regexp.MustCompile(`(?i)\b(hospital|medical\s+center|medical\s+group|clinic|health\s+system|healthcare|memorial|regional\s+medical|children'?s|veterans\s+affairs|va\s+medical|surgery\s+center|urgent\s+care|physicians)\b`)

const maxFacilityLength = 80

// ExtractFacilityNames returns lines that read like a facility name, such as
// letterhead or a "From:" line, deduplicated case insensitively.
func ExtractFacilityNames(text string) []string {
	seen := map[string]struct{}{}
	var out []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" || !facilityRe.MatchString(line) {
			continue
		}

		if i := strings.Index(line, ":"); i >= 0 && i < len(line)-1 {
			line = strings.TrimSpace(line[i+1:])
		}
		if len(line) < 6 || len(line) > maxFacilityLength {
			continue
		}

		key := strings.ToLower(line)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, line)
	}

	return out
}

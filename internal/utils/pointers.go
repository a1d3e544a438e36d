package utils

import "fmt"

func StringPtr(s string) *string {
	return &s
}

func PtrString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func PtrFloat64(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// PrefixSliceOfStrings qualifies each column with a table alias, e.g. "pr.id".
func PrefixSliceOfStrings(prefix string, input []string) []string {
	out := make([]string, len(input))
	for i, v := range input {
		out[i] = fmt.Sprintf("%s.%s", prefix, v)
	}
	return out
}

package normalize

import "strings"

var unitAliases = map[string]string{
	"h":                "hours",
	"hr":               "hours",
	"hrs":              "hours",
	"hour":             "hours",
	"hours":            "hours",
	"1 hour":           "hours",
	"gb-mo":            "GB-month",
	"gb-month":         "GB-month",
	"gibibyte month":   "GB-month",
	"gigabyte month":   "GB-month",
	"1 gb/month":       "GB-month",
	"gb-hours":         "GB-hours",
	"gibibyte hour":    "GB-hours",
	"gb":               "GB",
	"gibibyte":         "GB",
	"gigabyte":         "GB",
	"1 gb":             "GB",
	"tb":               "TB",
	"tebibyte":         "TB",
	"s":                "seconds",
	"second":           "seconds",
	"seconds":          "seconds",
	"lambda-gb-second": "GB-seconds",
	"gb-second":        "GB-seconds",
	"request":          "requests",
	"requests":         "requests",
	"count":            "requests",
	"10k":              "10K-requests",
	"n/a":              "",
	"none":             "",
}

// CanonicalUnit maps provider unit spellings onto one vocabulary. Unknown
// units pass through trimmed.
func CanonicalUnit(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if u, ok := unitAliases[strings.ToLower(trimmed)]; ok {
		return u
	}
	return trimmed
}

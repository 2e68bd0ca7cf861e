package models

import (
	"regexp"
	"strings"
)

var nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives the URL identifier for a business name.
// Output only contains [a-z0-9-], never starts or ends with '-', and Slugify(Slugify(x)) == Slugify(x).
func Slugify(name string) string {
	slug := nonSlugRun.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}

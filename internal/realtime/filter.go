package realtime

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Tables that can be subscribed to
var subscribableTables = map[string]bool{
	"users":                     true,
	"businesses":                true,
	"user_business_connections": true,
	"invitations":               true,
	"audit_logs":                true,
}

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Filter narrows a channel to rows whose Column equals Value
type Filter struct {
	Column string
	Value  string
}

// ParseFilter parses the "column=eq.value" form. An empty string yields a nil filter.
func ParseFilter(raw string) (*Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	column, rest, ok := strings.Cut(raw, "=")
	if !ok {
		return nil, fmt.Errorf("filter %q must look like column=eq.value", raw)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return nil, fmt.Errorf("filter %q: only eq is supported", raw)
	}
	if !columnPattern.MatchString(column) {
		return nil, fmt.Errorf("filter %q: invalid column", raw)
	}
	if value == "" {
		return nil, fmt.Errorf("filter %q: empty value", raw)
	}
	return &Filter{Column: column, Value: value}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Matches reports whether a decoded record passes the filter. A nil filter matches everything.
func (f *Filter) Matches(record map[string]interface{}) bool {
	if f == nil {
		return true
	}
	v, ok := record[f.Column]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t == f.Value
	case json.Number:
		return t.String() == f.Value
	default:
		return fmt.Sprint(t) == f.Value
	}
}

// ChannelName is the subscription channel for a table
func ChannelName(table string) string {
	return table + "-changes"
}

// ValidTable reports whether table has a change feed
func ValidTable(table string) bool {
	return subscribableTables[table]
}

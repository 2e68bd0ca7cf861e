package models

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var slugShape = regexp.MustCompile(`^([a-z0-9]+(-[a-z0-9]+)*)?$`)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"punctuation collapsed", "Acme & Co.!!", "acme-co"},
		{"plain words", "Blue Harbor Dental", "blue-harbor-dental"},
		{"leading and trailing noise", "  --Northwind--  ", "northwind"},
		{"digits kept", "Studio 54", "studio-54"},
		{"non ascii replaced", "Café Müller", "caf-m-ller"},
		{"already a slug", "acme-co", "acme-co"},
		{"only symbols", "!!!", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slugify(tt.input))
		})
	}
}

func TestSlugifyProperties(t *testing.T) {
	inputs := []string{
		"Acme & Co.!!", "ÅNGSTRÖM Labs", "a--b__c", "---", "X", "日本語 Shop", "İstanbul Kebap",
		"Tab\tSeparated\nName", "MiXeD CaSe 123", "trailing.", ".leading",
	}

	for _, in := range inputs {
		slug := Slugify(in)
		assert.Regexp(t, slugShape, slug, "input %q", in)
		assert.Equal(t, slug, Slugify(slug), "slugify must be idempotent for %q", in)
	}
}

func TestUserIsLocked(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	assert.False(t, (&User{}).IsLocked(now))
	assert.True(t, (&User{LockedUntil: &future}).IsLocked(now))
	assert.False(t, (&User{LockedUntil: &past}).IsLocked(now))
}

func TestUserRoleValid(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleEmployee.Valid())
	assert.False(t, UserRole("").Valid())
	assert.False(t, UserRole("owner").Valid())
}

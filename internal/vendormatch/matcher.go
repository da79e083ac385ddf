// Package vendormatch decides whether a merchant on an authorization is an approved vendor.
package vendormatch

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/skippy/island-grown/pkg/benefits"
)

// EntryKind tags how an allow-list key is compared to a merchant name.
type EntryKind int

const (
	// LiteralSubstring keys must appear verbatim (case-insensitive) inside the merchant name.
	LiteralSubstring EntryKind = iota
	// Pattern keys are case-insensitive regular expressions.
	Pattern
)

// Entry is one configured vendor.
type Entry struct {
	Name       string
	PostalCode string
	// Pattern forces regular-expression matching. Keys containing a backslash escape are
	// treated as patterns even without it.
	Pattern bool
	// Label is the name shown to cardholders; defaults to Name.
	Label string
}

// Kind resolves the comparison used for the entry.
func (entry Entry) Kind() EntryKind {
	if entry.Pattern || strings.Contains(entry.Name, `\`) {
		return Pattern
	}
	return LiteralSubstring
}

// MatchResult is the outcome of a vendor lookup.
type MatchResult struct {
	Vendor               string
	Found                bool
	VendorPostalCode     string
	MerchantPostalCode   string
	VendorVerified       bool
	InApprovedPostalList bool
}

type compiledEntry struct {
	entry      Entry
	kind       EntryKind
	normalized string
	pattern    *regexp.Regexp
}

// Matcher holds the compiled allow-list. It is immutable and safe for concurrent use.
type Matcher struct {
	entries             []compiledEntry
	approvedPostalCodes map[string]struct{}
}

// New compiles entries in declared order.
func New(entries []Entry, approvedPostalCodes []string) (*Matcher, error) {
	matcher := &Matcher{
		entries:             make([]compiledEntry, 0, len(entries)),
		approvedPostalCodes: make(map[string]struct{}, len(approvedPostalCodes)),
	}
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty vendor name", benefits.ErrInvalidServiceConfig)
		}
		compiled := compiledEntry{
			entry: Entry{Name: name, PostalCode: strings.TrimSpace(entry.PostalCode), Pattern: entry.Pattern, Label: strings.TrimSpace(entry.Label)},
			kind:  entry.Kind(),
		}
		switch compiled.kind {
		case Pattern:
			// Merchant names are matched escaped, so the pattern is escaped the same way.
			pattern, err := regexp.Compile("(?i)" + html.EscapeString(name))
			if err != nil {
				return nil, fmt.Errorf("%w: vendor pattern %q: %v", benefits.ErrInvalidServiceConfig, name, err)
			}
			compiled.pattern = pattern
		default:
			compiled.normalized = normalize(name)
		}
		matcher.entries = append(matcher.entries, compiled)
	}
	for _, postalCode := range approvedPostalCodes {
		trimmed := strings.TrimSpace(postalCode)
		if trimmed == "" {
			continue
		}
		matcher.approvedPostalCodes[trimmed] = struct{}{}
	}
	return matcher, nil
}

// Match looks up the merchant. The first entry that matches wins.
func (matcher *Matcher) Match(merchantName string, merchantPostalCode string) MatchResult {
	postalCode := strings.TrimSpace(merchantPostalCode)
	result := MatchResult{MerchantPostalCode: postalCode}
	normalizedName := normalize(merchantName)
	for _, candidate := range matcher.entries {
		if !candidate.matches(normalizedName) {
			continue
		}
		result.Vendor = candidate.entry.Name
		result.Found = true
		result.VendorPostalCode = candidate.entry.PostalCode
		break
	}
	if !result.Found {
		return result
	}
	if postalCode != "" && result.VendorPostalCode == postalCode {
		result.VendorVerified = true
		return result
	}
	if _, approved := matcher.approvedPostalCodes[postalCode]; approved && postalCode != "" {
		result.VendorVerified = true
		result.InApprovedPostalList = true
	}
	return result
}

// Vendors lists the vendor labels in declared order.
func (matcher *Matcher) Vendors() []string {
	names := make([]string, 0, len(matcher.entries))
	for _, candidate := range matcher.entries {
		if candidate.entry.Label != "" {
			names = append(names, candidate.entry.Label)
			continue
		}
		names = append(names, candidate.entry.Name)
	}
	return names
}

func (candidate compiledEntry) matches(normalizedName string) bool {
	if candidate.kind == Pattern {
		return candidate.pattern.MatchString(normalizedName)
	}
	return strings.Contains(normalizedName, candidate.normalized)
}

func normalize(raw string) string {
	return strings.ToLower(html.EscapeString(raw))
}

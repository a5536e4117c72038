// Package geo maps free-form location text to a geographic scope and the list
// of cities a job must search. Classification is pure and never errors:
// unrecognized text is searched as a single city.
package geo

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ScopeType is the resolved geographic breadth of a location.
type ScopeType string

// Supported scope types.
const (
	ScopeCity    ScopeType = "city"
	ScopeState   ScopeType = "state"
	ScopeCountry ScopeType = "country"
)

// Scope is the classification of one location string.
type Scope struct {
	Type   ScopeType `json:"type"`
	Cities []string  `json:"cities"`
	// Region is the matched region code for state scope.
	Region string `json:"region,omitempty"`
}

type index struct {
	regions   map[string]int
	countries map[string]struct{}
	all       []string
}

var lookup = buildIndex()

func buildIndex() index {
	idx := index{
		regions:   make(map[string]int, len(regions)*2),
		countries: make(map[string]struct{}, len(countryAliases)),
	}
	for i, r := range regions {
		idx.regions[Normalize(r.Code)] = i
		idx.regions[Normalize(r.Name)] = i
		idx.all = append(idx.all, r.Cities...)
	}
	for _, alias := range countryAliases {
		idx.countries[Normalize(alias)] = struct{}{}
	}
	return idx
}

// Classify resolves an optional location. A nil location is treated as the
// whole country.
func Classify(location *string) Scope {
	if location == nil {
		return countryScope()
	}
	return ClassifyText(*location)
}

// ClassifyText resolves free-form location text.
func ClassifyText(text string) Scope {
	key := Normalize(text)
	if key == "" {
		return countryScope()
	}
	if i, ok := lookup.regions[key]; ok {
		return Scope{
			Type:   ScopeState,
			Cities: append([]string(nil), regions[i].Cities...),
			Region: regions[i].Code,
		}
	}
	if _, ok := lookup.countries[key]; ok {
		return countryScope()
	}
	return Scope{Type: ScopeCity, Cities: []string{text}}
}

// AllCities returns every city of every region, flattened in table order.
func AllCities() []string {
	return append([]string(nil), lookup.all...)
}

func countryScope() Scope {
	return Scope{Type: ScopeCountry, Cities: AllCities()}
}

// Normalize lowercases, strips diacritics, and collapses whitespace so that
// "São Paulo", "sao  paulo" and "SAO PAULO" compare equal.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package search parses lobby queries such as `status:waiting user:me
// inning:>=7 "free text"`.
package search

import (
	"strconv"
	"strings"
	"unicode"
)

// Operator compares a filter value with a field.
type Operator string

const (
	OpEqual          Operator = "="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpRange          Operator = ".." // inning:7..9
)

// Longest prefixes first so ">=" is not read as ">".
var prefixOps = []Operator{OpGreaterOrEqual, OpLessOrEqual, OpGreater, OpLess}

// Filter is one key:value criterion.
type Filter struct {
	Key      string
	Value    string
	MaxValue string // OpRange only
	Operator Operator
}

// Query is a parsed lobby query.
type Query struct {
	Filters  []Filter
	FreeText []string
}

// Values returns the values of every equality filter on key.
func (q Query) Values(key string) []string {
	var out []string
	for _, f := range q.Filters {
		if f.Key == key && f.Operator == OpEqual {
			out = append(out, f.Value)
		}
	}
	return out
}

// Parse splits input into filters and free text. Keys are lower-cased;
// values keep their case. Malformed pairs such as "foo:" or "a:b:c" become
// free text.
func Parse(input string) Query {
	q := Query{
		Filters:  make([]Filter, 0),
		FreeText: make([]string, 0),
	}
	for _, token := range tokenize(input) {
		if f, ok := parseFilter(token); ok {
			q.Filters = append(q.Filters, f)
			continue
		}
		q.FreeText = append(q.FreeText, removeQuotes(token))
	}
	return q
}

func parseFilter(token string) (Filter, bool) {
	key, val, found := strings.Cut(token, ":")
	if !found {
		return Filter{}, false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	val = strings.TrimSpace(val)
	if key == "" || val == "" {
		return Filter{}, false
	}
	if strings.Contains(val, ":") && !isQuoted(val) {
		return Filter{}, false
	}
	if lo, hi, ok := strings.Cut(val, ".."); ok && !isQuoted(val) {
		return Filter{Key: key, Value: lo, MaxValue: hi, Operator: OpRange}, true
	}
	for _, op := range prefixOps {
		if rest, ok := strings.CutPrefix(val, string(op)); ok {
			return Filter{Key: key, Value: removeQuotes(rest), Operator: op}, true
		}
	}
	return Filter{Key: key, Value: removeQuotes(val), Operator: OpEqual}, true
}

// MatchInt applies a numeric filter to n. Unparseable values never match.
func (f Filter) MatchInt(n int) bool {
	v, err := strconv.Atoi(f.Value)
	if err != nil {
		return false
	}
	switch f.Operator {
	case OpEqual:
		return n == v
	case OpGreater:
		return n > v
	case OpGreaterOrEqual:
		return n >= v
	case OpLess:
		return n < v
	case OpLessOrEqual:
		return n <= v
	case OpRange:
		hi, err := strconv.Atoi(f.MaxValue)
		if err != nil {
			return false
		}
		return n >= v && n <= hi
	}
	return false
}

// tokenize splits on whitespace outside quotes. Quotes stay in the token.
func tokenize(input string) []string {
	var (
		tokens []string
		cur    strings.Builder
		quote  rune
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range input {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		case r == '"' || r == '\'':
			quote = r
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func isQuoted(s string) bool {
	return strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "'")
}

func removeQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

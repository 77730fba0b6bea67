// Package filterexpr compiles the interceptor's filter syntax (~u, ~d, ~m,
// combined with &, |, !) into an evaluable predicate over a flow or log
// attribute environment, and extracts nested JSON fields for adapters that
// consume structured log records. Grounded on the general expression-
// language pattern used throughout the corpus for allow/deny rule matching
// (r3e-network-service_layer's infrastructure/middleware/ratelimiter_config.go evaluates
// small rule predicates per request); built on PaesslerAG/gval for
// evaluation and PaesslerAG/jsonpath for field extraction, since the
// corpus's go.mod lists both but the r3e-network-service_layer itself never exercised them —
// this is their first real home.
package filterexpr

import (
	"fmt"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
)

// filterLanguage registers the small set of string helpers the compiled
// filter expressions need on top of gval's base boolean/comparison
// operators, rather than relying on the exact function names shipped by
// gval's bundled text extension.
var filterLanguage = gval.NewLanguage(
	gval.Base(),
	gval.Function("lower", func(s string) string { return strings.ToLower(s) }),
	gval.Function("indexOf", func(haystack, needle string) int { return strings.Index(haystack, needle) }),
)

// Env is the attribute set a compiled expression is evaluated against.
// Proxy flows populate URL/Host/Method/Device; log entries populate a
// smaller subset (Message substitutes for URL-style matching via "~u").
type Env struct {
	URL    string
	Host   string
	Method string
	Device string
}

func (e Env) asMap() map[string]interface{} {
	return map[string]interface{}{
		"u":   e.URL,
		"d":   e.Host,
		"m":   e.Method,
		"dev": e.Device,
	}
}

// Expression is a compiled filter, ready for repeated evaluation.
type Expression struct {
	src  string
	eval gval.Evaluable
}

// String returns the original, uncompiled filter text.
func (x *Expression) String() string { return x.src }

// Match evaluates the compiled expression against env.
func (x *Expression) Match(env Env) (bool, error) {
	if x == nil {
		return true, nil
	}
	result, err := x.eval(nil, env.asMap())
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", x.src, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q did not evaluate to a boolean", x.src)
	}
	return b, nil
}

// Compile translates the interceptor's compact filter syntax into a gval
// expression. Operators: `~u<substr>` (URL contains), `~d<substr>` (host
// contains), `~m<verb>` (method equals, case-insensitive), combined with
// `&` (and), `|` (or) and a leading `!` (negation) on any single term.
// Parenthesization is not part of the interceptor's syntax and is not
// accepted here either, matching spec §4.5's "underlying interceptor's
// syntax" note.
func Compile(filter string) (*Expression, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}

	gvalExpr, err := translate(filter)
	if err != nil {
		return nil, err
	}

	eval, err := filterLanguage.NewEvaluable(gvalExpr)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", filter, err)
	}
	return &Expression{src: filter, eval: eval}, nil
}

// translate rewrites "~u/foo & ~m GET | !~d example.com" style terms into a
// gval boolean expression over the u/d/m/dev environment fields. The input
// is split on `|` first and each part on `&`, so `&` binds tighter than
// `|`: the result is an OR of AND-groups.
func translate(filter string) (string, error) {
	orGroups := strings.Split(filter, "|")
	var orParts []string
	for _, group := range orGroups {
		andTerms := strings.Split(group, "&")
		var andParts []string
		for _, term := range andTerms {
			clause, err := translateTerm(strings.TrimSpace(term))
			if err != nil {
				return "", err
			}
			andParts = append(andParts, clause)
		}
		orParts = append(orParts, "("+strings.Join(andParts, " && ")+")")
	}
	return strings.Join(orParts, " || "), nil
}

func translateTerm(term string) (string, error) {
	negate := false
	if strings.HasPrefix(term, "!") {
		negate = true
		term = strings.TrimSpace(term[1:])
	}

	var field, value string
	switch {
	case strings.HasPrefix(term, "~u"):
		field, value = "u", strings.TrimSpace(term[2:])
	case strings.HasPrefix(term, "~d"):
		field, value = "d", strings.TrimSpace(term[2:])
	case strings.HasPrefix(term, "~m"):
		field, value = "m", strings.TrimSpace(term[2:])
	default:
		return "", fmt.Errorf("unrecognized filter term %q", term)
	}

	value = strings.ReplaceAll(value, `"`, `\"`)

	var clause string
	if field == "m" {
		clause = fmt.Sprintf(`lower(%s) == lower("%s")`, field, value)
	} else {
		clause = fmt.Sprintf(`indexOf(lower(%s), lower("%s")) >= 0`, field, value)
	}
	if negate {
		clause = "!(" + clause + ")"
	}
	return clause, nil
}

// ExtractField pulls a JSONPath-addressed value out of a decoded unified
// log record (e.g. "$.eventMessage" or "$.subsystem") without a bespoke
// struct per log shape variant. The oslog adapter does not call it; it
// reads its fields with gjson.
func ExtractField(path string, doc interface{}) (interface{}, error) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil, fmt.Errorf("jsonpath %q: %w", path, err)
	}
	return v, nil
}

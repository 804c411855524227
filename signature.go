// Copyright 2023 The Appeal Authors.

package appeal

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// The signature model. A converter is a struct type; reflection over its
// exported fields yields the ordered positional parameters, at most one
// var-positional (a trailing slice), and the keyword-only parameters (fields
// tagged "option"). This is the uniform description every later stage works
// from; no reflection over field lists happens after compilation.

type paramKind int

const (
	positionalParam paramKind = iota
	varPositionalParam
	keywordParam
)

func (k paramKind) String() string {
	switch k {
	case positionalParam:
		return "positional"
	case varPositionalParam:
		return "var-positional"
	case keywordParam:
		return "keyword-only"
	}
	return "unknown"
}

// parameter describes one field of a converter struct.
type parameter struct {
	name       string // kebab-case field name; displayName upper-cases it for positionals
	fieldName  string
	index      int // struct field index
	kind       paramKind
	ftype      reflect.Type
	hasDefault bool   // positional with opt or default=; always true for keyword
	defTag     string // raw default= value, parsed into defValue at compile time
	hasDefTag  bool
	doc        string
	usage      string   // display override from name= or Parameter()
	options    []string // declared option spellings (keyword only)
	choices    []string // oneof=
	parseName  string   // parse=
	multiName  string   // multi=
	min        int      // var-positional minimum count; -1 otherwise

	conv     *converter    // effective converter, resolved by the tree builder
	defValue reflect.Value // parsed default= value, computed at compile time
}

// displayName is the name used in usage text.
func (p *parameter) displayName() string {
	if p.usage != "" {
		return p.usage
	}
	if p.kind == keywordParam {
		return p.name
	}
	return strings.ToUpper(p.name)
}

// signature is the parameter list of one converter struct type.
type signature struct {
	t          reflect.Type
	positional []*parameter // in field order; does not include varp
	varp       *parameter   // nil if none
	keyword    []*parameter // in field order
}

// byField looks a parameter up by its Go field name.
func (s *signature) byField(field string) *parameter {
	for _, p := range s.params() {
		if p.fieldName == field {
			return p
		}
	}
	return nil
}

// params returns every parameter in declaration order.
func (s *signature) params() []*parameter {
	var all []*parameter
	all = append(all, s.positional...)
	if s.varp != nil {
		all = append(all, s.varp)
	}
	return append(all, s.keyword...)
}

var validKeys = map[string]bool{
	"option":  true,
	"name":    true,
	"doc":     true,
	"opt":     true,
	"default": true,
	"oneof":   true,
	"min":     true,
	"parse":   true,
	"multi":   true,
}

// signatureOf builds the signature of the struct type t. It applies the
// legality rules that can be checked without resolving converters: tag
// syntax, parameter ordering, and the var-positional placement.
func signatureOf(t reflect.Type) (*signature, error) {
	if t.Kind() != reflect.Struct {
		return nil, configErrorf("%s is not a struct type", t)
	}
	sig := &signature{t: t}
	sawOptional := false
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("appeal")
		if tag == "" {
			// If the "appeal" key is missing, treat the whole tag as a spec,
			// for convenience.
			tag = string(f.Tag)
		}
		p, err := parseFieldTag(tag, f, i)
		if err != nil {
			return nil, configErrorf("type %s, field %s: %v", t, f.Name, err)
		}
		if p == nil { // unexported, ignored
			continue
		}
		switch p.kind {
		case keywordParam:
			sig.keyword = append(sig.keyword, p)
		case varPositionalParam:
			if sig.varp != nil {
				return nil, configErrorf("type %s: more than one var-positional parameter (%s, %s)", t, sig.varp.name, p.name)
			}
			sig.varp = p
		default:
			if sig.varp != nil {
				return nil, configErrorf("type %s: var-positional %s must be the last positional parameter", t, sig.varp.name)
			}
			if sawOptional && !p.hasDefault {
				return nil, configErrorf("type %s: required parameter %s follows an optional parameter", t, p.name)
			}
			if p.hasDefault {
				sawOptional = true
			}
			sig.positional = append(sig.positional, p)
		}
	}
	return sig, nil
}

// parseFieldTag interprets the struct tag for field f. It returns nil for
// fields that do not participate (unexported, untagged blanks).
func parseFieldTag(tag string, f reflect.StructField, index int) (*parameter, error) {
	if !f.IsExported() {
		if tag != "" && f.Tag != "" {
			return nil, errors.New("tag on unexported field")
		}
		return nil, nil
	}
	m := tagToMap(tag)
	for k := range m {
		if k == "" {
			return nil, errors.New("empty key")
		}
		if !validKeys[k] {
			return nil, fmt.Errorf("invalid key: %q", k)
		}
	}
	p := &parameter{
		name:      kebab(f.Name),
		fieldName: f.Name,
		index:     index,
		ftype:     f.Type,
		doc:       m["doc"],
		usage:     m["name"],
		min:       -1,
	}
	if v, ok := m["oneof"]; ok {
		p.choices = strings.Split(v, "|")
	}
	p.parseName = m["parse"]
	p.multiName = m["multi"]
	if p.parseName != "" && p.multiName != "" {
		return nil, errors.New("either 'parse' or 'multi', but not both")
	}

	optSpec, isOption := m["option"]
	defTag, hasDef := m["default"]
	_, hasOpt := m["opt"]
	if v := m["opt"]; v != "" {
		return nil, errors.New(`"opt" should not have a value`)
	}

	if isOption {
		if hasOpt {
			return nil, errors.New(`"opt" applies only to positional parameters`)
		}
		p.kind = keywordParam
		p.hasDefault = true
		p.defTag = defTag
		p.hasDefTag = hasDef
		if hasDef && defTag == "" && f.Type.Kind() != reflect.String {
			return nil, fmt.Errorf("default for %s cannot be empty", p.name)
		}
		for _, s := range strings.Split(optSpec, "|") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			p.options = append(p.options, normalizeOption(s))
		}
		return p, nil
	}

	if f.Type.Kind() == reflect.Slice && p.multiName == "" {
		p.kind = varPositionalParam
		p.min = 0
		if minTag, ok := m["min"]; ok {
			min, err := strconv.Atoi(minTag)
			if err != nil {
				return nil, fmt.Errorf("min: %w", err)
			}
			if min < 0 {
				return nil, errors.New("min cannot be negative")
			}
			p.min = min
		}
		if hasOpt || hasDef {
			return nil, errors.New("a var-positional parameter cannot also be optional")
		}
		return p, nil
	}
	if _, ok := m["min"]; ok {
		return nil, errors.New("min is only for var-positional slice parameters")
	}
	if p.multiName != "" {
		return nil, errors.New("multi is only for option parameters")
	}

	if hasDef && defTag == "" && f.Type.Kind() != reflect.String {
		return nil, fmt.Errorf("default for %s cannot be empty", p.name)
	}
	p.kind = positionalParam
	p.hasDefault = hasOpt || hasDef
	p.defTag = defTag
	p.hasDefTag = hasDef
	return p, nil
}

// normalizeOption ensures an option spelling carries its dashes: a single
// letter becomes -x, anything longer --xxx, and already-dashed spellings are
// kept as written.
func normalizeOption(s string) string {
	if strings.HasPrefix(s, "-") {
		return s
	}
	if len(s) == 1 {
		return "-" + s
	}
	return "--" + s
}

// kebab converts a Go field name to its command-line spelling:
// IgnoreCase -> ignore-case.
func kebab(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := rune(name[i-1])
				if !unicode.IsUpper(prev) {
					b.WriteByte('-')
				}
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

var keyRegexp = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*=`)

// tagToMap splits a tag like "option=v|verbose, default=3, more detail" into
// key/value pairs; trailing free text becomes the doc. A bare "opt" key is
// recognized without a value.
func tagToMap(tag string) map[string]string {
	m := map[string]string{}
	tag = strings.TrimSpace(tag)
	for len(tag) > 0 {
		if rest, ok := cutWord(tag, "opt"); ok {
			m["opt"] = ""
			tag = rest
			continue
		}
		loc := keyRegexp.FindStringIndex(tag)
		if loc == nil {
			m["doc"] = tag
			break
		}
		key := tag[:loc[1]-1]
		tag = tag[loc[1]:]
		value, after, found := strings.Cut(tag, ",")
		if !found {
			value = tag
			tag = ""
		} else {
			tag = strings.TrimSpace(after)
		}
		m[key] = strings.TrimSpace(value)
	}
	return m
}

// cutWord strips a leading bare word followed by a comma or end of string.
func cutWord(tag, word string) (rest string, ok bool) {
	if !strings.HasPrefix(tag, word) {
		return "", false
	}
	rest = tag[len(word):]
	if rest == "" {
		return "", true
	}
	if rest[0] != ',' {
		return "", false
	}
	return strings.TrimSpace(rest[1:]), true
}

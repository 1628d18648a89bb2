package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Keywords whose validator messages describe the constraint rather than
// the offending value. Messages of any other keyword are replaced so that
// parameter values never leak into error responses.
var describedKeywords = map[string]bool{
	"required":         true,
	"type":             true,
	"enum":             true,
	"minLength":        true,
	"maxLength":        true,
	"minItems":         true,
	"maxItems":         true,
}

// Numeric bound messages end with the offending number; it is cut off.
var boundKeywords = map[string]bool{
	"minimum":          true,
	"maximum":          true,
	"exclusiveMinimum": true,
	"exclusiveMaximum": true,
}

// compileSchema compiles a tool parameter schema. Formats are asserted so
// that "format": "uri" and friends reject bad input.
func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil, errors.New("schema is empty")
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	url := "kakehashi://tools/" + name + ".json"
	if err := c.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return sch, nil
}

// validationMessage renders a validation failure as
// "<field>: <reason>; <field>: <reason>" built from the leaf causes.
func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return "invalid parameters"
	}
	var leaves []string
	seen := map[string]bool{}
	collectLeaves(ve, func(l *jsonschema.ValidationError) {
		msg := fieldPath(l.InstanceLocation) + ": " + reason(l)
		if !seen[msg] {
			seen[msg] = true
			leaves = append(leaves, msg)
		}
	})
	if len(leaves) == 0 {
		return "invalid parameters"
	}
	sort.Strings(leaves)
	return strings.Join(leaves, "; ")
}

func collectLeaves(ve *jsonschema.ValidationError, visit func(*jsonschema.ValidationError)) {
	if len(ve.Causes) == 0 {
		visit(ve)
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, visit)
	}
}

// fieldPath turns a JSON pointer such as "/messages/0/role" into
// "messages[0].role". The document root is reported as "params".
func fieldPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "params"
	}
	var b strings.Builder
	for i, tok := range strings.Split(pointer, "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		if isIndex(tok) {
			b.WriteString("[" + tok + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func reason(ve *jsonschema.ValidationError) string {
	kw := ve.KeywordLocation
	if i := strings.LastIndexByte(kw, '/'); i >= 0 {
		kw = kw[i+1:]
	}
	if boundKeywords[kw] {
		msg, _, _ := strings.Cut(ve.Message, " but found")
		return msg
	}
	if describedKeywords[kw] {
		return ve.Message
	}
	if kw == "" {
		return "invalid value"
	}
	return fmt.Sprintf("does not satisfy %q", kw)
}

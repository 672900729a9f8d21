// Package dom holds the in-page script the CDP-level drivers use to answer
// text and role queries the way Playwright's getByText and getByRole do.
package dom

import (
	_ "embed"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

//go:embed query.js
var prelude string

// Self-contained function sources. Each is an arrow function that can be
// handed to an evaluator that accepts a function plus arguments, or rendered
// into a plain expression with Call.
var (
	TextStateFunc = wrap("text", "return textState(text);")
	RoleCountFunc = wrap("role, name", "return roleCount(role, name);")
	ClickRoleFunc = wrap("role, name, nth", "return clickRole(role, name, nth);")
)

// ClickResult is what ClickRoleFunc returns.
type ClickResult struct {
	Clicked bool `json:"clicked"`
	Count   int  `json:"count"`
}

// Err reports a click that found no nth match.
func (r ClickResult) Err(role, name string, nth int) error {
	if r.Clicked {
		return nil
	}
	return fmt.Errorf("no element #%d with role %q and name %q (found %d)", nth, role, name, r.Count)
}

func wrap(params, body string) string {
	return "(" + params + ") => {\n" + prelude + "\n" + body + "\n}"
}

// Call renders fn applied to args as a single expression. Arguments are
// JSON-encoded so user text can never break out of the literal.
func Call(fn string, args ...interface{}) (string, error) {
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("failed to encode script argument: %w", err)
		}
		encoded = append(encoded, string(b))
	}
	return "(" + fn + ")(" + strings.Join(encoded, ", ") + ")", nil
}

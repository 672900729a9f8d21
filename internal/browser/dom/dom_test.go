package dom

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctionsCarryPrelude(t *testing.T) {
	for name, fn := range map[string]string{
		"TextState": TextStateFunc,
		"RoleCount": RoleCountFunc,
		"ClickRole": ClickRoleFunc,
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(fn, "("), "must be an arrow function")
			assert.Contains(t, fn, "function textMatches(text)")
			assert.Contains(t, fn, "function implicitRole(el)")
		})
	}
	assert.Contains(t, TextStateFunc, "return textState(text);")
	assert.Contains(t, RoleCountFunc, "return roleCount(role, name);")
	assert.Contains(t, ClickRoleFunc, "return clickRole(role, name, nth);")
}

func TestCall(t *testing.T) {
	expr, err := Call("(a, b) => a + b", "Buy \"for\"", 2)
	require.NoError(t, err)
	assert.Equal(t, `((a, b) => a + b)("Buy \"for\"", 2)`, expr)
}

func TestCallNoArgs(t *testing.T) {
	expr, err := Call("() => 1")
	require.NoError(t, err)
	assert.Equal(t, "(() => 1)()", expr)
}

func TestCallRejectsUnencodable(t *testing.T) {
	_, err := Call("(f) => f", math.Inf(1))
	assert.Error(t, err)
}

func TestClickResultErr(t *testing.T) {
	assert.NoError(t, ClickResult{Clicked: true, Count: 2}.Err("button", "Buy for", 0))

	err := ClickResult{Clicked: false, Count: 0}.Err("button", "Buy for", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `role "button"`)
	assert.Contains(t, err.Error(), "found 0")
}

package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAliases(t *testing.T) {
	cases := map[string]string{
		"long":     OpenLong,
		"BUY":      OpenLong,
		"go_long":  OpenLong,
		"short":    OpenShort,
		"sell":     OpenShort,
		"go_short": OpenShort,
		"  hold ":  Hold,
		"skip":     Wait,
		"wait":     Wait,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Normalize(raw, ""), "alias %q", raw)
	}
}

func TestNormalizeTotality(t *testing.T) {
	// Anything unrecognized must degrade to wait, never error.
	for _, raw := range []string{"", "yolo", "open", "LONG SHORT", "=BUY()", "\x00"} {
		got := Normalize(raw, "")
		assert.True(t, Valid(got), "raw %q produced %q", raw, got)
	}
	assert.Equal(t, Wait, Normalize("definitely not an action", ""))
}

func TestNormalizeCloseResolution(t *testing.T) {
	assert.Equal(t, CloseShort, Normalize("close", "short"))
	assert.Equal(t, CloseLong, Normalize("close", "long"))
	assert.Equal(t, CloseLong, Normalize("exit", "open_long"))
	// Side unknown: generic close survives for a later resolver.
	assert.Equal(t, ClosePosition, Normalize("close_position", ""))
	assert.Equal(t, ClosePosition, Normalize("close", ""))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsOpen("buy"))
	assert.True(t, IsOpen("open_short"))
	assert.False(t, IsOpen("close"))

	assert.True(t, IsClose("close_long"))
	assert.True(t, IsClose("close"))
	assert.False(t, IsClose("hold"))

	assert.True(t, IsLong("buy"))
	assert.True(t, IsShort("close_short"))
	assert.False(t, IsLong("close_short"))
}

// Package action is the single source of truth for trading action values.
// Every consumer (aggregator output, validator, backtest ledger, tests)
// normalizes through here so the alias table exists exactly once.
package action

import "strings"

const (
	OpenLong   = "open_long"
	OpenShort  = "open_short"
	CloseLong  = "close_long"
	CloseShort = "close_short"
	// ClosePosition is a generic close kept only when the position side is
	// unknown; resolve it to CloseLong/CloseShort wherever the side is known.
	ClosePosition = "close_position"
	Wait          = "wait"
	Hold          = "hold"
)

var aliases = map[string]string{
	"open_long":   OpenLong,
	"long":        OpenLong,
	"buy":         OpenLong,
	"go_long":     OpenLong,
	"open_short":  OpenShort,
	"short":       OpenShort,
	"sell":        OpenShort,
	"go_short":    OpenShort,
	"close_long":  CloseLong,
	"exit_long":   CloseLong,
	"close_short": CloseShort,
	"exit_short":  CloseShort,
	"wait":        Wait,
	"skip":        Wait,
	"hold":        Hold,
}

// Normalize maps any action alias to a canonical value. Generic close words
// resolve using positionSide when it is known; unrecognized input maps to
// Wait so that the pipeline is total over arbitrary strings.
func Normalize(raw, positionSide string) string {
	a := strings.ToLower(strings.TrimSpace(raw))
	side := strings.ToLower(strings.TrimSpace(positionSide))

	if canonical, ok := aliases[a]; ok {
		return canonical
	}

	switch a {
	case "close", "exit", "close_position":
		switch side {
		case "long", "open_long":
			return CloseLong
		case "short", "open_short":
			return CloseShort
		}
		return ClosePosition
	}

	return Wait
}

func IsOpen(a string) bool {
	n := Normalize(a, "")
	return n == OpenLong || n == OpenShort
}

func IsClose(a string) bool {
	n := Normalize(a, "")
	return n == CloseLong || n == CloseShort || n == ClosePosition
}

func IsLong(a string) bool {
	n := Normalize(a, "")
	return n == OpenLong || n == CloseLong
}

func IsShort(a string) bool {
	n := Normalize(a, "")
	return n == OpenShort || n == CloseShort
}

// Valid reports whether a is already one of the canonical values.
func Valid(a string) bool {
	switch a {
	case OpenLong, OpenShort, CloseLong, CloseShort, ClosePosition, Wait, Hold:
		return true
	}
	return false
}

// Package domain owns the planning poker estimation model: session and round
// lifecycle, vote values, and the rules that gate phase transitions.
//
// The package is persistence-free. Callers inject clocks and id generators so
// behavior stays deterministic under test, and all state transitions return
// coded domain errors instead of mutating on invalid input.
package domain

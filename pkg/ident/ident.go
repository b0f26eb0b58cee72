// Package ident normalizes the heterogeneous query identifiers produced by
// different callers (UUIDs, UUID-suffixed composites, bare integers,
// application codes, legacy hashes) into one canonical identity plus the
// set of equivalent lookup variations. All identifier pattern matching
// lives here; no other package re-implements extraction.
package ident

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"querydesk/pkg/models"
)

// Identity is the reconciled form of an inbound query identifier.
// Canonical is the sole storage key for the query's thread; Variations is
// the exact-match set consulted on reads so historical formats resolve to
// the same thread.
type Identity struct {
	Canonical  string
	Variations map[string]struct{}
}

// Has reports whether v is in the variation set. Matching is exact;
// substring or prefix matches are forbidden by design of the isolation
// guarantee.
func (id Identity) Has(v string) bool {
	_, ok := id.Variations[v]
	return ok
}

// Matches reports whether any of the given candidate values is in the
// variation set.
func (id Identity) Matches(candidates ...string) bool {
	for _, c := range candidates {
		if c != "" && id.Has(c) {
			return true
		}
	}
	return false
}

var (
	numericRe     = regexp.MustCompile(`^[0-9]+$`)
	querySuffixRe = regexp.MustCompile(`-query-([0-9]+)$`)
	tailNumRe     = regexp.MustCompile(`-([0-9]+)$`)
	embeddedNumRe = regexp.MustCompile(`([0-9]+)$`)
)

// minVariationDigits rejects 1-digit numeric variations; short fragments
// collide with unrelated identifiers ("HPR85" vs "uuid-...-5").
const minVariationDigits = 2

// Normalize reconciles an inbound identifier. It is a pure function: the
// same input always yields the same canonical value and variation set.
func Normalize(raw string) (Identity, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Identity{}, fmt.Errorf("%w: empty identifier", models.ErrIdentity)
	}

	id := Identity{Canonical: s, Variations: map[string]struct{}{s: {}}}

	// Bare integer: canonical is the number itself.
	if numericRe.MatchString(s) {
		addNumeric(id.Variations, s)
		return id, nil
	}

	// UUID-suffixed composites keep the full string as canonical; the
	// trailing number is only a lookup variation.
	if hasUUIDPrefix(s) {
		if m := querySuffixRe.FindStringSubmatch(s); m != nil {
			addNumeric(id.Variations, m[1])
			return id, nil
		}
		if m := tailNumRe.FindStringSubmatch(s); m != nil && !isUUIDTail(s, m[1]) {
			addNumeric(id.Variations, m[1])
			return id, nil
		}
		// No recognizable numeric suffix. Fall back to a stable
		// non-cryptographic hash used only for cross-reference with legacy
		// integer-keyed stores; the canonical key stays the full string so
		// no orphan thread can be created.
		id.Variations[legacyHash(s)] = struct{}{}
		return id, nil
	}

	// Synthesized forms query-<n> / uuid-query-<n>.
	if m := querySuffixRe.FindStringSubmatch(s); m != nil {
		addNumeric(id.Variations, m[1])
		return id, nil
	}
	if rest, ok := strings.CutPrefix(s, "query-"); ok && numericRe.MatchString(rest) {
		addNumeric(id.Variations, rest)
		return id, nil
	}

	// Space-separated tokens ("FR2 559"): a purely numeric token wins.
	if strings.ContainsRune(s, ' ') {
		for _, tok := range strings.Fields(s) {
			if numericRe.MatchString(tok) {
				addNumeric(id.Variations, tok)
				return id, nil
			}
		}
	}

	// Application-code style with embedded digits ("HPR85").
	if m := embeddedNumRe.FindStringSubmatch(s); m != nil {
		addNumeric(id.Variations, m[1])
		return id, nil
	}

	// Nothing numeric anywhere; keep the legacy-hash cross-reference.
	id.Variations[legacyHash(s)] = struct{}{}
	return id, nil
}

// addNumeric records a numeric variation together with the synthesized
// historical forms, symmetrically, so a lookup by any of them resolves to
// the same thread. Fragments shorter than minVariationDigits are dropped
// to avoid false-positive cross-query matches.
func addNumeric(vars map[string]struct{}, n string) {
	n = strings.TrimSpace(n)
	if len(n) < minVariationDigits {
		return
	}
	vars[n] = struct{}{}
	vars["query-"+n] = struct{}{}
	vars["uuid-query-"+n] = struct{}{}
}

// hasUUIDPrefix reports whether s starts with a full 36-char UUID.
func hasUUIDPrefix(s string) bool {
	if len(s) < 36 {
		return false
	}
	_, err := uuid.Parse(s[:36])
	return err == nil
}

// isUUIDTail reports whether the extracted tail number is actually part of
// the UUID itself (a bare UUID whose last group happens to be numeric).
func isUUIDTail(s, tail string) bool {
	return len(s) == 36 && strings.HasSuffix(s[:36], "-"+tail)
}

// legacyHash produces the deterministic numeric alias used to
// cross-reference legacy integer-keyed stores. Never a canonical key.
func legacyHash(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%d", h.Sum32())
}

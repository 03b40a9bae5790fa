package service

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"
)

const numericTolerance = 1e-4

// FieldIdempotencyResolver implements ports.IdempotencyResolver by
// comparing an incoming request's payload against the payload already
// recorded on a transaction with the same id. Generalized from the
// teacher's Redis-then-DB layered idempotency check into a standalone,
// side-effect-free comparator.
type FieldIdempotencyResolver struct {
	criticalFields      []string
	ignoredFields       map[string]bool
	similarityThreshold int
}

// NewFieldIdempotencyResolver creates a resolver with the given critical
// field paths (dotted paths permitted for nested maps), ignored field
// names, and similarity threshold (integer percentage, 0-100).
func NewFieldIdempotencyResolver(criticalFields, ignoredFields []string, similarityThreshold int) *FieldIdempotencyResolver {
	ignored := make(map[string]bool, len(ignoredFields))
	for _, f := range ignoredFields {
		ignored[f] = true
	}
	return &FieldIdempotencyResolver{
		criticalFields:      criticalFields,
		ignoredFields:       ignored,
		similarityThreshold: similarityThreshold,
	}
}

// Classify compares the incoming request against the existing transaction.
// Origin-system mismatch and any critical-field mismatch are conflicts;
// otherwise a similarity score over the remaining fields decides same vs.
// conflict.
func (r *FieldIdempotencyResolver) Classify(existing *domain.Transaction, incomingOriginSystem string, incomingPayload map[string]any) ports.IdempotencyVerdict {
	if existing == nil {
		return ports.VerdictNew
	}
	if existing.OriginSystem != incomingOriginSystem {
		return ports.VerdictConflict
	}

	for _, path := range r.criticalFields {
		existingVal, existingOK := lookupDottedPath(existing.Payload, path)
		incomingVal, incomingOK := lookupDottedPath(incomingPayload, path)
		if existingOK != incomingOK {
			return ports.VerdictConflict
		}
		if existingOK && !valuesEqual(existingVal, incomingVal) {
			return ports.VerdictConflict
		}
	}

	score := r.similarityScore(existing.Payload, incomingPayload)
	if score < r.similarityThreshold {
		return ports.VerdictConflict
	}
	return ports.VerdictSame
}

// similarityScore implements the deliberately-preserved formula:
// matches / totalFields, where totalFields counts both existing
// non-critical/non-ignored keys and new keys present only in the
// incoming request. Keeping totalFields this way (rather than a
// symmetric union count) means a request that merely adds extra fields
// lowers the score even when nothing present in both sides disagrees;
// this is intentional — see the design notes on preserved ambiguity.
func (r *FieldIdempotencyResolver) similarityScore(existing, incoming map[string]any) int {
	existingFiltered := r.dropCriticalAndIgnored(existing)
	incomingFiltered := r.dropCriticalAndIgnored(incoming)

	matches := 0
	totalFields := 0

	for k, existingVal := range existingFiltered {
		totalFields++
		if incomingVal, ok := incomingFiltered[k]; ok && valuesEqual(existingVal, incomingVal) {
			matches++
		}
	}
	for k := range incomingFiltered {
		if _, ok := existingFiltered[k]; !ok {
			totalFields++
		}
	}

	if totalFields == 0 {
		return 100
	}
	return int(math.Round(float64(matches) / float64(totalFields) * 100))
}

func (r *FieldIdempotencyResolver) dropCriticalAndIgnored(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if r.ignoredFields[k] {
			continue
		}
		if isCriticalKey(r.criticalFields, k) {
			continue
		}
		out[k] = v
	}
	return out
}

func isCriticalKey(criticalFields []string, key string) bool {
	for _, f := range criticalFields {
		if f == key || strings.HasPrefix(f, key+".") {
			return true
		}
	}
	return false
}

// lookupDottedPath traverses nested maps following a dotted path like
// "billing.address.city".
func lookupDottedPath(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = payload
	for _, p := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

// valuesEqual compares two decoded JSON-ish values, treating numeric
// leaves with an absolute tolerance rather than exact equality.
func valuesEqual(a, b any) bool {
	af, aIsNum := asFloat64(a)
	bf, bIsNum := asFloat64(b)
	if aIsNum && bIsNum {
		return math.Abs(af-bf) <= numericTolerance
	}
	return a == b
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

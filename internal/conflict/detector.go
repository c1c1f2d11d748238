// Package conflict implements the pure, deterministic divergence detector
// described in spec.md §4.5. It performs no I/O: given a local and server
// snapshot of the same entity it classifies the divergence into one of the
// fixed resolution strategies.
package conflict

import (
	"sort"

	"github.com/fitloop/syncd/internal/domain"
)

// excludedFields are never considered when computing the diverging field set.
var excludedFields = map[string]bool{
	"updated_at": true,
	"created_at": true,
	"synced":     true,
}

// Detect compares local and server field maps for the same entity kind and
// returns the resolution strategy per spec.md §4.5. Both maps are expected to
// carry "updated_at" as an int64-convertible timestamp (ms since epoch).
func Detect(kind domain.EntityKind, local, server map[string]any) domain.ConflictResult {
	tLocal := asInt64(local["updated_at"])
	tServer := asInt64(server["updated_at"])

	if tServer <= tLocal {
		return domain.ConflictResult{HasConflict: false, Strategy: domain.StrategyClientWins}
	}

	fields := diverging(local, server)
	if len(fields) == 0 {
		return domain.ConflictResult{HasConflict: false, Strategy: domain.StrategyClientWins}
	}

	switch kind {
	case domain.EntitySession:
		if contains(fields, "is_completed") || contains(fields, "completed_at") {
			return domain.ConflictResult{HasConflict: true, Fields: fields, Strategy: domain.StrategyServerWins}
		}
		return domain.ConflictResult{HasConflict: true, Fields: fields, Strategy: domain.StrategyMerge}
	case domain.EntityMLBatch:
		// Append-only; no conflict is possible by construction.
		return domain.ConflictResult{HasConflict: false, Strategy: domain.StrategyClientWins}
	default:
		return domain.ConflictResult{HasConflict: true, Fields: fields, Strategy: domain.StrategyManual}
	}
}

// Merge computes the merge result: start from server, overlay local's
// non-timestamp fields, set updated_at to the max of the two.
func Merge(local, server map[string]any) map[string]any {
	out := make(map[string]any, len(server))
	for k, v := range server {
		out[k] = v
	}
	for k, v := range local {
		if excludedFields[k] {
			continue
		}
		out[k] = v
	}
	tLocal := asInt64(local["updated_at"])
	tServer := asInt64(server["updated_at"])
	if tLocal > tServer {
		out["updated_at"] = tLocal
	} else {
		out["updated_at"] = tServer
	}
	return out
}

func diverging(local, server map[string]any) []string {
	seen := map[string]bool{}
	for k := range local {
		seen[k] = true
	}
	for k := range server {
		seen[k] = true
	}
	var out []string
	for k := range seen {
		if excludedFields[k] {
			continue
		}
		lv, lok := local[k]
		sv, sok := server[k]
		if lok != sok || !equal(lv, sv) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func equal(a, b any) bool {
	// Compare through a common numeric representation so int/float/int64
	// payload round-trips (typical of JSON decoding) don't register as a
	// spurious divergence.
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asInt64(v any) int64 {
	f, _ := toFloat(v)
	return int64(f)
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

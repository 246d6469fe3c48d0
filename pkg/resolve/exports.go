package resolve

import (
	"path/filepath"
	"strings"
)

// ConditionOrder selects how a conditions object picks its branch when more
// than one key matches the active conditions.
type ConditionOrder int

const (
	// DeclarationOrder takes the first matching key as written in the
	// manifest. This is what Node does.
	DeclarationOrder ConditionOrder = iota
	// PriorityOrder takes the key that comes first in the caller's
	// condition list, then "default".
	PriorityOrder
)

func ParseConditionOrder(s string) (ConditionOrder, bool) {
	switch s {
	case "", "declaration":
		return DeclarationOrder, true
	case "priority":
		return PriorityOrder, true
	}
	return DeclarationOrder, false
}

// resolveExports maps subpath ("." or "./x") through a package's exports
// and returns the target relative to the package root, or "" when the
// subpath is not exported for the given conditions.
func resolveExports(exports *ExportsNode, subpath string, conditions []string, order ConditionOrder) string {
	if exports == nil {
		return ""
	}

	if !exports.isSubpathMap() {
		if subpath != "." {
			return ""
		}
		return resolveTarget(exports, "", conditions, order)
	}

	if node, ok := exports.Values[subpath]; ok && !strings.Contains(subpath, "*") {
		return resolveTarget(node, "", conditions, order)
	}

	// subpath patterns: the longest prefix before "*" wins
	bestKey, bestMatch, bestLen := "", "", -1
	for _, key := range exports.Keys {
		star := strings.IndexByte(key, '*')
		if star < 0 {
			continue
		}
		prefix, suffix := key[:star], key[star+1:]
		if len(subpath) < len(prefix)+len(suffix) {
			continue
		}
		if !strings.HasPrefix(subpath, prefix) || !strings.HasSuffix(subpath, suffix) {
			continue
		}
		if len(prefix) > bestLen {
			bestKey, bestLen = key, len(prefix)
			bestMatch = subpath[len(prefix) : len(subpath)-len(suffix)]
		}
	}
	if bestKey == "" {
		return ""
	}
	return resolveTarget(exports.Values[bestKey], bestMatch, conditions, order)
}

func resolveTarget(n *ExportsNode, match string, conditions []string, order ConditionOrder) string {
	if n == nil {
		return ""
	}

	switch n.Kind {
	case NodeString:
		if !strings.HasPrefix(n.Target, "./") {
			return ""
		}
		target := strings.ReplaceAll(n.Target, "*", match)
		return filepath.FromSlash(target)
	case NodeArray:
		for _, item := range n.Items {
			if t := resolveTarget(item, match, conditions, order); t != "" {
				return t
			}
		}
	case NodeObject:
		for _, key := range conditionKeys(n, conditions, order) {
			if t := resolveTarget(n.Values[key], match, conditions, order); t != "" {
				return t
			}
		}
	}
	return ""
}

// conditionKeys lists the keys of a conditions object that are active, in
// the order they should be tried.
func conditionKeys(n *ExportsNode, conditions []string, order ConditionOrder) []string {
	var keys []string
	switch order {
	case PriorityOrder:
		for _, c := range conditions {
			if _, ok := n.Values[c]; ok && c != "default" {
				keys = append(keys, c)
			}
		}
		if _, ok := n.Values["default"]; ok {
			keys = append(keys, "default")
		}
	default:
		active := make(map[string]bool, len(conditions)+1)
		for _, c := range conditions {
			active[c] = true
		}
		active["default"] = true
		for _, k := range n.Keys {
			if active[k] {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

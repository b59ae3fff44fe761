// Package pytree flattens and reconstructs the nested string-keyed
// structures whose leaves the checkpoint package persists, and defines the
// placeholder strings the orchestration layer leaves in the structure file
// for leaves stored individually.
package pytree

import (
	"reflect"
	"sort"
	"strings"

	"github.com/mehdiataei/orbax/types/dtypes"
	"github.com/mehdiataei/orbax/types/tensors"
	"github.com/pkg/errors"
)

const (
	placeholderPrefix = "PLACEHOLDER://"

	// aggregatedPrefix is the placeholder prefix written by older pipelines;
	// still recognized on read.
	aggregatedPrefix = "AGGREGATED://"
)

// Flatten converts a nested string-keyed tree into a flat map whose keys are
// the nesting paths joined by sep. Empty subtrees are preserved as leaves.
func Flatten(tree map[string]any, sep string) (map[string]any, error) {
	if sep == "" {
		return nil, errors.New("pytree: separator cannot be empty")
	}
	flat := make(map[string]any)
	var walk func(prefix string, node map[string]any) error
	walk = func(prefix string, node map[string]any) error {
		for key, value := range node {
			if key == "" {
				return errors.Errorf("pytree: empty key under %q", prefix)
			}
			if strings.Contains(key, sep) {
				return errors.Errorf("pytree: key %q contains the separator %q", key, sep)
			}
			path := key
			if prefix != "" {
				path = prefix + sep + key
			}
			if sub, isMap := value.(map[string]any); isMap && len(sub) > 0 {
				if err := walk(path, sub); err != nil {
					return err
				}
				continue
			}
			flat[path] = value
		}
		return nil
	}
	if err := walk("", tree); err != nil {
		return nil, err
	}
	return flat, nil
}

// Unflatten reconstructs the nested tree from a flat path-keyed map. It
// fails when one path is both a leaf and a subtree of another.
func Unflatten(flat map[string]any, sep string) (map[string]any, error) {
	tree := make(map[string]any)
	// Deterministic order so conflict errors are stable.
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts := strings.Split(key, sep)
		node := tree
		for _, part := range parts[:len(parts)-1] {
			child, found := node[part]
			if !found {
				sub := make(map[string]any)
				node[part] = sub
				node = sub
				continue
			}
			sub, isMap := child.(map[string]any)
			if !isMap {
				return nil, errors.Errorf("pytree: %q is both a leaf and a subtree", part)
			}
			node = sub
		}
		leaf := parts[len(parts)-1]
		if _, exists := node[leaf]; exists {
			return nil, errors.Errorf("pytree: %q is both a leaf and a subtree", key)
		}
		node[leaf] = flat[key]
	}
	return tree, nil
}

// LeafPlaceholder returns the structure-file placeholder for a leaf stored
// individually under the given name.
func LeafPlaceholder(name string) string { return placeholderPrefix + name }

// IsLeafPlaceholder reports whether a leaf value is a placeholder for an
// individually stored leaf.
func IsLeafPlaceholder(value any) bool {
	s, isString := value.(string)
	return isString &&
		(strings.HasPrefix(s, placeholderPrefix) || strings.HasPrefix(s, aggregatedPrefix))
}

// NameFromLeafPlaceholder recovers the leaf name a placeholder points at.
func NameFromLeafPlaceholder(placeholder string) (string, error) {
	switch {
	case strings.HasPrefix(placeholder, placeholderPrefix):
		return strings.TrimPrefix(placeholder, placeholderPrefix), nil
	case strings.HasPrefix(placeholder, aggregatedPrefix):
		return strings.TrimPrefix(placeholder, aggregatedPrefix), nil
	}
	return "", errors.Errorf("pytree: %q is not a leaf placeholder", placeholder)
}

// IsSupportedAggregationType reports whether a leaf value may be bundled into
// the orchestrator's aggregate file instead of getting its own store:
// strings, byte slices, supported scalars and host tensors qualify.
func IsSupportedAggregationType(value any) bool {
	switch value.(type) {
	case string, []byte, *tensors.Tensor:
		return true
	case nil:
		return false
	}
	return dtypes.FromGoType(reflect.TypeOf(value)) != dtypes.InvalidDType
}

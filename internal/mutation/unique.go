package mutation

import (
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"

	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store"
)

// resolveUniqueWhere turns a sparse unique-key input into the canonical
// single-column condition the store understands. Exactly one recognized
// unique field must be supplied; singleton lists accept an empty input and
// resolve to id 1. Resolution is read-only and deterministic: the same
// input always yields the same condition.
func resolveUniqueWhere(list *schema.List, input map[string]any) (store.Where, error) {
	if list.IDKind == schema.IDSingleton {
		if len(input) == 0 {
			return store.Where{list.IDColumn(): 1}, nil
		}
	}

	var key string
	var raw any
	matches := 0
	for _, candidate := range list.UniqueFieldKeys() {
		v, ok := input[candidate]
		if !ok || v == nil {
			continue
		}
		matches++
		key = candidate
		raw = v
	}
	if matches != 1 {
		return nil, &ValidationError{
			Message: fmt.Sprintf("exactly one unique key must be supplied for %s, got %d", list.Key, matches),
		}
	}

	if key == list.IDColumn() {
		parsed, err := parseIDValue(list, raw)
		if err != nil {
			return nil, err
		}
		return store.Where{key: parsed}, nil
	}
	return store.Where{key: raw}, nil
}

func parseIDValue(list *schema.List, raw any) (any, error) {
	switch list.IDKind {
	case schema.IDString:
		s, ok := raw.(string)
		if !ok {
			return nil, &ValidationError{Message: "id must be a string", Field: list.IDColumn()}
		}
		if _, err := uuid.Parse(s); err != nil {
			return nil, &ValidationError{Message: "id is not a valid uuid", Field: list.IDColumn()}
		}
		return s, nil
	case schema.IDSingleton:
		n, err := toInt64(raw)
		if err != nil || n != 1 {
			return nil, &ValidationError{Message: "singleton lists only have id 1", Field: list.IDColumn()}
		}
		return 1, nil
	default:
		n, err := toInt64(raw)
		if err != nil {
			return nil, &ValidationError{Message: "id is not a valid integer", Field: list.IDColumn()}
		}
		return n, nil
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

package stderr

import (
	"encoding/json"
	"sort"

	"github.com/strongdm/squash-go/pkg/squash"
)

func sortedKeys(m squash.Map) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatValue(v squash.Value) string {
	if s, ok := v.(squash.String); ok {
		return string(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "<unprintable>"
	}
	return string(data)
}

package transformers

import "fmt"

// mapTransformer translates values through lookup tables. Read consults the
// read table (or the bidirectional table), write consults the write table (or
// the inverse of the bidirectional table). Unmapped keys pass through.
type mapTransformer struct {
	directional
	readTable  map[string]any
	writeTable map[string]any
}

func newMapTable(def Definition) (Transformer, error) {
	t := &mapTransformer{directional: newDirectional(def.Direction)}

	switch {
	case def.Kind == KindBidirectionalMap || len(def.Table) > 0:
		if len(def.Table) == 0 {
			return nil, fmt.Errorf("bidirectional_map transformer requires a table")
		}
		t.readTable = make(map[string]any, len(def.Table))
		t.writeTable = make(map[string]any, len(def.Table))
		for key, val := range def.Table {
			t.readTable[key] = val
			t.writeTable[canonicalKey(val)] = key
		}
	default:
		if len(def.ReadMap) == 0 && len(def.WriteMap) == 0 {
			return nil, fmt.Errorf("map transformer requires read_map, write_map or table")
		}
		t.readTable = canonicalize(def.ReadMap)
		t.writeTable = canonicalize(def.WriteMap)
	}

	return t, nil
}

func canonicalize(table map[string]any) map[string]any {
	out := make(map[string]any, len(table))
	for key, val := range table {
		out[canonicalKey(key)] = val
	}
	return out
}

func (t *mapTransformer) Read(value any) (any, error) {
	if !t.CanRead() {
		return value, nil
	}
	if mapped, ok := t.readTable[canonicalKey(value)]; ok {
		return mapped, nil
	}
	return value, nil
}

func (t *mapTransformer) Write(value any) (any, error) {
	if !t.CanWrite() {
		return value, nil
	}
	if mapped, ok := t.writeTable[canonicalKey(value)]; ok {
		return mapped, nil
	}
	return value, nil
}

package executor

// mergeValue folds src into dst and returns the result. Null targets are
// replaced, objects merge key-wise in place, and equal-length lists merge
// element-wise so entity results line up with the objects their
// representations came from. Anything else keeps dst: a value one service
// already resolved is never overwritten by another.
func mergeValue(dst, src interface{}) interface{} {
	if dst == nil {
		return src
	}
	switch d := dst.(type) {
	case map[string]interface{}:
		s, ok := src.(map[string]interface{})
		if !ok {
			return d
		}
		for key, value := range s {
			if cur, ok := d[key]; ok {
				d[key] = mergeValue(cur, value)
			} else {
				d[key] = value
			}
		}
		return d
	case []interface{}:
		s, ok := src.([]interface{})
		if !ok || len(s) != len(d) {
			return d
		}
		for i := range d {
			d[i] = mergeValue(d[i], s[i])
		}
		return d
	}
	return dst
}

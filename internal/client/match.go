package client

import (
	"math"
	"reflect"
	"regexp"
)

// WeakMatch reports whether source matches compare. A nil compare matches
// anything and a nil source matches nothing. A slice matches when one of
// its elements does, a *regexp.Regexp is matched against string sources,
// and anything else must be equal in both type and value.
func WeakMatch(source, compare interface{}) bool {
	if compare == nil {
		return true
	}
	if source == nil {
		return false
	}

	if re, ok := compare.(*regexp.Regexp); ok {
		s, ok := source.(string)
		return ok && re != nil && re.MatchString(s)
	}

	v := reflect.ValueOf(compare)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		for i := 0; i < v.Len(); i++ {
			if WeakMatch(source, v.Index(i).Interface()) {
				return true
			}
		}
		return false
	}

	if f, ok := source.(float64); ok && math.IsNaN(f) {
		g, ok := compare.(float64)
		return ok && math.IsNaN(g)
	}
	return reflect.DeepEqual(source, compare)
}

// truthy reports whether a search criterion is set.
func truthy(v interface{}) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.Len() > 0
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0 && !math.IsNaN(rv.Float())
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

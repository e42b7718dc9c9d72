package repository

import (
	"fmt"
	"time"
)

type boundKind int

const (
	boundJSON boundKind = iota
	boundTime
	boundNumber
	boundString
)

func kindOf(v any) boundKind {
	switch v.(type) {
	case time.Time:
		return boundTime
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return boundNumber
	case string:
		return boundString
	default:
		return boundJSON
	}
}

func boundKindOf(after, before any) (boundKind, error) {
	if after == nil || before == nil {
		return boundJSON, fmt.Errorf("%w: range needs both bounds", ErrInvalidArgument)
	}
	ka, kb := kindOf(after), kindOf(before)
	if ka != kb {
		return boundJSON, fmt.Errorf("%w: range bounds have different types (%T, %T)", ErrInvalidArgument, after, before)
	}
	return ka, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

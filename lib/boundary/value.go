// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Exporter is implemented by services that can describe themselves as
// plain data. Export uses it when a resolved service is sent across
// the boundary.
type Exporter interface {
	BoundaryValue() any
}

// CheckTransferable returns nil when value is plain data: nil, bool,
// any integer that fits in an int64, any float kind, string, []byte,
// time.Time, or []any, []string and map[string]any whose elements are
// transferable. Anything else yields an *UnsupportedValueError.
func CheckTransferable(value any) error {
	return checkTransferable(value, "")
}

func checkTransferable(value any, path string) error {
	switch typed := value.(type) {
	case nil, bool, string, []byte, time.Time,
		int, int8, int16, int32, int64,
		uint8, uint16, uint32,
		float32, float64, []string:
		return nil
	case uint:
		return checkUnsigned(uint64(typed), value, path)
	case uint64:
		return checkUnsigned(typed, value, path)
	case []any:
		for i, element := range typed {
			if err := checkTransferable(element, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for key, element := range typed {
			child := key
			if path != "" {
				child = path + "." + key
			}
			if err := checkTransferable(element, child); err != nil {
				return err
			}
		}
		return nil
	default:
		return &UnsupportedValueError{Path: path, Type: fmt.Sprintf("%T", value)}
	}
}

func checkUnsigned(n uint64, value any, path string) error {
	if n > math.MaxInt64 {
		return &UnsupportedValueError{Path: path, Type: fmt.Sprintf("%T", value)}
	}
	return nil
}

// Export converts a resolved service into the plain data sent across
// the boundary.
func Export(value any) (any, error) {
	if exporter, ok := value.(Exporter); ok {
		value = exporter.BoundaryValue()
	}
	if err := CheckTransferable(value); err != nil {
		return nil, err
	}
	return value, nil
}

// Canonical returns the form a transferable value takes on the far
// side of the boundary: integers become int64, floats float64, []string
// and []any become []any, times are UTC without a monotonic reading,
// and maps and byte slices are copied. Push stores and Pull returns
// canonical values, so a pulled entry is DeepEqual to Canonical of
// what was pushed on either side.
func Canonical(value any) any {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case uint:
		return int64(typed)
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		return int64(typed)
	case float32:
		return float64(typed)
	case time.Time:
		return typed.Round(0).UTC()
	case []byte:
		return append([]byte(nil), typed...)
	case []string:
		converted := make([]any, len(typed))
		for i, element := range typed {
			converted[i] = element
		}
		return converted
	case []any:
		converted := make([]any, len(typed))
		for i, element := range typed {
			converted[i] = Canonical(element)
		}
		return converted
	case map[string]any:
		converted := make(map[string]any, len(typed))
		for key, element := range typed {
			converted[key] = Canonical(element)
		}
		return converted
	default:
		return value
	}
}

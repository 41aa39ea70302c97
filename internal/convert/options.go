// Package convert translates user options between plain Go values and the
// tagged structpb representation held by model.UserRecord.
package convert

import (
	"fmt"
	"math"

	"github.com/thecodingmachine/security.userfiledao/internal/errs"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToValue converts a decoded JSON/YAML value into a tagged value.
// nil maps to a nil *structpb.Value (null options).
func ToValue(v any) (*structpb.Value, error) {
	if v == nil {
		return nil, nil
	}
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	out, err := structpb.NewValue(norm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSerialization, err)
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromValue converts a tagged value back into plain Go values
// (map[string]any, []any, string, float64, bool, nil).
func FromValue(v *structpb.Value) (any, error) {
	if v == nil {
		return nil, nil
	}
	if err := Validate(v); err != nil {
		return nil, err
	}
	if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
		return nil, nil
	}
	return v.AsInterface(), nil
}

// Validate reports ErrSerialization for values the text formats cannot carry:
// non-finite numbers and unset kinds.
func Validate(v *structpb.Value) error {
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if math.IsNaN(k.NumberValue) || math.IsInf(k.NumberValue, 0) {
			return fmt.Errorf("%w: non-finite number %v", errs.ErrSerialization, k.NumberValue)
		}
	case *structpb.Value_StructValue:
		for key, f := range k.StructValue.GetFields() {
			if err := Validate(f); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	case *structpb.Value_ListValue:
		for i, e := range k.ListValue.GetValues() {
			if err := Validate(e); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	case nil:
		return fmt.Errorf("%w: value without kind", errs.ErrSerialization)
	}
	return nil
}

// Equal reports whether two option values are the same; nil and an explicit
// null are considered equal.
func Equal(a, b *structpb.Value) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b)
	}
	return proto.Equal(a, b)
}

func isNull(v *structpb.Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.GetKind().(*structpb.Value_NullValue)
	return ok
}

// normalize rewrites map[any]any (as produced by some YAML decoders) into
// map[string]any so structpb accepts it.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string map key %v", errs.ErrSerialization, k)
			}
			n, err := normalize(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ks, err)
			}
			out[ks] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

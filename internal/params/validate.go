package params

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// ValidateAndTransform checks caller-supplied parameters against a family
// spec and returns the wire-ready parameter map. It is a pure function: the
// input map is never mutated, there are no side effects, and the same inputs
// always produce the same output.
//
// Rules, applied per parameter in deterministic (sorted) order:
//   - a parameter whose constraint marks it unsupported is rejected with the
//     spec's reason;
//   - numeric min/max bounds are enforced, citing the violated bound;
//   - a discrete allow-list rejects any non-member rather than clamping;
//   - alternativeName renames the parameter for wire compatibility;
//   - declared defaults fill parameters the caller omitted.
//
// Parameters with no constraint in the spec pass through unchanged; vetting
// unknown parameters is the provider's concern, not the registry's.
func ValidateAndTransform(requested map[string]any, spec *ModelFamilySpec) (map[string]any, error) {
	if spec == nil {
		return nil, fmt.Errorf("params: nil family spec")
	}

	out := make(map[string]any, len(requested))

	names := make([]string, 0, len(requested))
	for name := range requested {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := requested[name]
		constraint, ok := spec.Parameters[name]
		if !ok {
			out[name] = value
			continue
		}
		if !constraint.Supported {
			return nil, &UnsupportedParameterError{Parameter: name, Reason: constraint.Reason}
		}
		if errCheck := checkConstraint(name, value, constraint); errCheck != nil {
			return nil, errCheck
		}
		out[wireName(name, constraint)] = value
	}

	// Fill declared defaults for supported parameters the caller omitted.
	defaults := make([]string, 0)
	for name, constraint := range spec.Parameters {
		if constraint.Supported && constraint.Default != nil {
			if _, provided := requested[name]; !provided {
				defaults = append(defaults, name)
			}
		}
	}
	sort.Strings(defaults)
	for _, name := range defaults {
		constraint := spec.Parameters[name]
		out[wireName(name, constraint)] = constraint.Default
	}

	return out, nil
}

func wireName(name string, constraint Constraint) string {
	if constraint.AlternativeName != "" {
		return constraint.AlternativeName
	}
	return name
}

func checkConstraint(name string, value any, constraint Constraint) error {
	if len(constraint.AllowedValues) > 0 {
		for _, allowed := range constraint.AllowedValues {
			if valuesEqual(value, allowed) {
				return nil
			}
		}
		message := fmt.Sprintf("value %v is not in the allowed set %v", value, constraint.AllowedValues)
		if constraint.Reason != "" {
			message += ": " + constraint.Reason
		}
		return &ValidationError{Parameter: name, Message: message}
	}

	number, isNumber := toFloat(value)
	if constraint.Min != nil {
		if !isNumber {
			return &ValidationError{Parameter: name, Message: fmt.Sprintf("expected a number, got %T", value)}
		}
		if number < *constraint.Min {
			return &ValidationError{Parameter: name, Message: fmt.Sprintf("value %v is below the minimum of %v", value, *constraint.Min)}
		}
	}
	if constraint.Max != nil {
		if !isNumber {
			return &ValidationError{Parameter: name, Message: fmt.Sprintf("expected a number, got %T", value)}
		}
		if number > *constraint.Max {
			return &ValidationError{Parameter: name, Message: fmt.Sprintf("value %v exceeds the maximum of %v", value, *constraint.Max)}
		}
	}
	return nil
}

// valuesEqual compares numerically when both sides are numbers, otherwise by
// deep equality, so an allow-list of [1.0] accepts an integer 1.
func valuesEqual(a, b any) bool {
	fa, aIsNumber := toFloat(a)
	fb, bIsNumber := toFloat(b)
	if aIsNumber && bIsNumber {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

package validation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// goValue converts a literal into its Go representation, resolving variable
// references through vars. Variables referenced before coercion resolve to nil.
func goValue(v *ast.Value, vars map[string]interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Kind {
	case ast.Variable:
		return vars[v.Raw], nil
	case ast.NullValue:
		return nil, nil
	case ast.IntValue:
		n, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid int literal %q", v.Raw)
		}
		return n, nil
	case ast.FloatValue:
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float literal %q", v.Raw)
		}
		return f, nil
	case ast.StringValue, ast.BlockValue, ast.EnumValue:
		return v.Raw, nil
	case ast.BooleanValue:
		return v.Raw == "true", nil
	case ast.ListValue:
		out := make([]interface{}, 0, len(v.Children))
		for _, c := range v.Children {
			cv, err := goValue(c.Value, vars)
			if err != nil {
				return nil, err
			}
			out = append(out, cv)
		}
		return out, nil
	case ast.ObjectValue:
		out := make(map[string]interface{}, len(v.Children))
		for _, c := range v.Children {
			cv, err := goValue(c.Value, vars)
			if err != nil {
				return nil, err
			}
			out[c.Name] = cv
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value kind %d", v.Kind)
}

// checkInputValue reports whether a decoded JSON value is acceptable for the
// given input type. Single values coerce to one-element lists.
func (w *walker) checkInputValue(value interface{}, t *ast.Type) error {
	if value == nil {
		if t.NonNull {
			return fmt.Errorf("null is not allowed for type %q", typeString(t))
		}
		return nil
	}
	if t.NamedType == "" {
		list, ok := value.([]interface{})
		if !ok {
			return w.checkInputValue(value, t.Elem)
		}
		for i, elem := range list {
			if err := w.checkInputValue(elem, t.Elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	}
	def := w.schema.Types[t.NamedType]
	if def == nil {
		return nil
	}
	switch def.Kind {
	case ast.Scalar:
		return checkScalarValue(def.Name, value)
	case ast.Enum:
		s, ok := value.(string)
		if !ok || def.EnumValues.ForName(s) == nil {
			return fmt.Errorf("%v is not a value of enum %q", value, def.Name)
		}
	case ast.InputObject:
		m, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("expected an object for input type %q", def.Name)
		}
		for _, fd := range def.Fields {
			fv, present := m[fd.Name]
			if !present {
				if fd.Type.NonNull && fd.DefaultValue == nil {
					return fmt.Errorf("required field %q of input type %q is not provided", fd.Name, def.Name)
				}
				continue
			}
			if err := w.checkInputValue(fv, fd.Type); err != nil {
				return fmt.Errorf("field %q: %w", fd.Name, err)
			}
		}
		var unknown []string
		for name := range m {
			if def.Fields.ForName(name) == nil {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return fmt.Errorf("field %q is not defined on input type %q", unknown[0], def.Name)
		}
	default:
		return fmt.Errorf("%q is not an input type", def.Name)
	}
	return nil
}

func checkScalarValue(name string, value interface{}) error {
	switch name {
	case "Int":
		switch n := value.(type) {
		case int, int32, int64:
			return nil
		case float64:
			if n == math.Trunc(n) {
				return nil
			}
		}
		return fmt.Errorf("%v is not an Int", value)
	case "Float":
		switch value.(type) {
		case int, int32, int64, float64:
			return nil
		}
		return fmt.Errorf("%v is not a Float", value)
	case "String":
		if _, ok := value.(string); ok {
			return nil
		}
		return fmt.Errorf("%v is not a String", value)
	case "Boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
		return fmt.Errorf("%v is not a Boolean", value)
	case "ID":
		switch n := value.(type) {
		case string, int, int32, int64:
			return nil
		case float64:
			if n == math.Trunc(n) {
				return nil
			}
		}
		return fmt.Errorf("%v is not an ID", value)
	}
	// custom scalars pass through untouched
	return nil
}

func namedType(t *ast.Type) string {
	if t == nil {
		return ""
	}
	if t.NamedType != "" {
		return t.NamedType
	}
	return namedType(t.Elem)
}

func typeString(t *ast.Type) string {
	var sb strings.Builder
	writeType(&sb, t)
	return sb.String()
}

func writeType(sb *strings.Builder, t *ast.Type) {
	if t.NamedType != "" {
		sb.WriteString(t.NamedType)
	} else {
		sb.WriteByte('[')
		writeType(sb, t.Elem)
		sb.WriteByte(']')
	}
	if t.NonNull {
		sb.WriteByte('!')
	}
}

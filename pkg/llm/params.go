package llm

import (
	"encoding/json"
	"fmt"
	"math"
)

// ConstraintKind tags a ParamConstraint.
type ConstraintKind string

const (
	// KindUseDefault passes the requested value through.
	KindUseDefault ConstraintKind = "default"

	// KindFixed always sends Value, whatever was requested.
	KindFixed ConstraintKind = "fixed"

	// KindRange clamps the requested value to [Min, Max].
	KindRange ConstraintKind = "range"

	// KindUnsupported omits the parameter from the request.
	KindUnsupported ConstraintKind = "unsupported"
)

// ParamConstraint describes how a model accepts one generation parameter.
// The zero value is UseDefault.
type ParamConstraint struct {
	Kind    ConstraintKind
	Value   float64
	Min     float64
	Max     float64
	Default float64
}

// UseDefault passes requested values through unchanged.
func UseDefault() ParamConstraint { return ParamConstraint{Kind: KindUseDefault} }

// Fixed pins the parameter to v.
func Fixed(v float64) ParamConstraint { return ParamConstraint{Kind: KindFixed, Value: v} }

// Range clamps the parameter to [min, max]; def is used when nothing was
// requested.
func Range(min, max, def float64) ParamConstraint {
	return ParamConstraint{Kind: KindRange, Min: min, Max: max, Default: def}
}

// Unsupported drops the parameter.
func Unsupported() ParamConstraint { return ParamConstraint{Kind: KindUnsupported} }

// Resolve returns the value to send for a requested value, and false when
// the parameter must be omitted. set reports whether a value was requested.
func (c ParamConstraint) Resolve(requested float64, set bool) (float64, bool) {
	switch c.Kind {
	case KindFixed:
		return c.Value, true
	case KindRange:
		if !set || math.IsNaN(requested) {
			return c.Default, true
		}
		return math.Max(c.Min, math.Min(c.Max, requested)), true
	case KindUnsupported:
		return 0, false
	default:
		return requested, set
	}
}

// Validate checks the constraint's own consistency.
func (c ParamConstraint) Validate() error {
	switch c.Kind {
	case "", KindUseDefault, KindFixed, KindUnsupported:
		return nil
	case KindRange:
		if c.Min > c.Max {
			return fmt.Errorf("range min %v exceeds max %v", c.Min, c.Max)
		}
		if c.Default < c.Min || c.Default > c.Max {
			return fmt.Errorf("range default %v outside [%v, %v]", c.Default, c.Min, c.Max)
		}
		return nil
	}
	return fmt.Errorf("unknown constraint kind %q", c.Kind)
}

type constraintJSON struct {
	Kind    ConstraintKind `json:"kind"`
	Value   *float64       `json:"value,omitempty"`
	Min     *float64       `json:"min,omitempty"`
	Max     *float64       `json:"max,omitempty"`
	Default *float64       `json:"default,omitempty"`
}

// MarshalJSON encodes only the fields of the constraint's kind.
func (c ParamConstraint) MarshalJSON() ([]byte, error) {
	out := constraintJSON{Kind: c.Kind}
	switch c.Kind {
	case KindFixed:
		out.Value = &c.Value
	case KindRange:
		out.Min, out.Max, out.Default = &c.Min, &c.Max, &c.Default
	case "":
		out.Kind = KindUseDefault
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the object form, a bare number (Fixed) and the
// strings "default" and "unsupported".
func (c *ParamConstraint) UnmarshalJSON(data []byte) error {
	var number float64
	if err := json.Unmarshal(data, &number); err == nil {
		*c = Fixed(number)
		return nil
	}
	var word string
	if err := json.Unmarshal(data, &word); err == nil {
		switch ConstraintKind(word) {
		case KindUseDefault:
			*c = UseDefault()
		case KindUnsupported:
			*c = Unsupported()
		default:
			return fmt.Errorf("param constraint: unknown kind %q", word)
		}
		return nil
	}

	var in constraintJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("param constraint: %w", err)
	}
	deref := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	switch in.Kind {
	case "", KindUseDefault:
		*c = UseDefault()
	case KindFixed:
		if in.Value == nil {
			return fmt.Errorf("param constraint: fixed without value")
		}
		*c = Fixed(*in.Value)
	case KindRange:
		if in.Min == nil || in.Max == nil {
			return fmt.Errorf("param constraint: range without bounds")
		}
		def := deref(in.Default)
		if in.Default == nil {
			def = *in.Min
		}
		*c = Range(*in.Min, *in.Max, def)
	case KindUnsupported:
		*c = Unsupported()
	default:
		return fmt.Errorf("param constraint: unknown kind %q", in.Kind)
	}
	return c.Validate()
}

// ModelParams lists the constraints of one model.
type ModelParams struct {
	Temperature ParamConstraint `json:"temperature"`
	TopP        ParamConstraint `json:"top_p"`
	MaxTokens   ParamConstraint `json:"max_tokens"`
}

// Validate checks every constraint.
func (p *ModelParams) Validate() error {
	if p == nil {
		return nil
	}
	for name, c := range map[string]ParamConstraint{
		"temperature": p.Temperature, "top_p": p.TopP, "max_tokens": p.MaxTokens,
	} {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Resolved is a generation request after constraints were applied. A nil
// field is omitted from the request.
type Resolved struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stop        []string
}

// Apply resolves options against the constraints. A nil receiver passes
// everything through.
func (p *ModelParams) Apply(opts *GenerateOptions) Resolved {
	var params ModelParams
	if p != nil {
		params = *p
	}
	var out Resolved
	out.Stop = opts.Stop
	if v, ok := params.Temperature.Resolve(opts.Temperature, true); ok {
		out.Temperature = &v
	}
	if v, ok := params.TopP.Resolve(opts.TopP, true); ok {
		out.TopP = &v
	}
	if v, ok := params.MaxTokens.Resolve(float64(opts.MaxTokens), opts.MaxTokens > 0); ok {
		n := int(v)
		out.MaxTokens = &n
	}
	return out
}

package registry

import (
	"fmt"
	"math"

	"github.com/trellisdev/trellis/internal/ir"
)

// maxRepeatCount bounds a single iteration node. The runtime's evaluation
// budget still applies on top of this.
const maxRepeatCount = 1 << 16

// builtinEvaluators binds every identifier in catalog.cue to its Go
// implementation. TestBuiltinRegistry keeps the two in sync.
func builtinEvaluators() map[string]EvalFunc {
	return map[string]EvalFunc{
		"trellis/math/add":      evalAdd,
		"trellis/math/subtract": evalSubtract,
		"trellis/math/multiply": evalMultiply,
		"trellis/math/negate":   evalNegate,
		"trellis/math/sum":      evalSum,
		"trellis/list/length":   evalLength,
		"trellis/list/nth":      evalNth,
		"trellis/text/concat":   evalConcat,

		NullifyIdentifier:                  evalNullify,
		"trellis/context/animation_time":   evalAnimationTime,
		"trellis/context/real_time":        evalRealTime,
		"trellis/context/index":            evalIndex,
		"trellis/context/position":         evalPosition,
		"trellis/context/pointer_position": evalPointerPosition,
		"trellis/context/resolution":       evalResolution,
		"trellis/context/varargs":          evalVarargs,

		"trellis/iter/repeat":         evalRepeat,
		"trellis/context/offset_time": evalOffsetTime,
	}
}

func evalAdd(call *Call) (ir.Value, error) {
	a, err := pullInt(call, 0)
	if err != nil {
		return nil, err
	}
	b, err := pullInt(call, 1)
	if err != nil {
		return nil, err
	}
	return ir.Int(a + b), nil
}

func evalSubtract(call *Call) (ir.Value, error) {
	a, err := pullInt(call, 0)
	if err != nil {
		return nil, err
	}
	b, err := pullInt(call, 1)
	if err != nil {
		return nil, err
	}
	return ir.Int(a - b), nil
}

func evalMultiply(call *Call) (ir.Value, error) {
	a, err := pullInt(call, 0)
	if err != nil {
		return nil, err
	}
	b, err := pullInt(call, 1)
	if err != nil {
		return nil, err
	}
	return ir.Int(a * b), nil
}

func evalNegate(call *Call) (ir.Value, error) {
	a, err := pullInt(call, 0)
	if err != nil {
		return nil, err
	}
	return ir.Int(-a), nil
}

func evalSum(call *Call) (ir.Value, error) {
	values, err := pullList(call, 0)
	if err != nil {
		return nil, err
	}
	var total int64
	for i, v := range values {
		n, ok := v.(ir.Int)
		if !ok {
			return nil, fmt.Errorf("sum: element %d: want int, got %s", i, ir.Kind(v))
		}
		total += int64(n)
	}
	return ir.Int(total), nil
}

func evalLength(call *Call) (ir.Value, error) {
	values, err := pullList(call, 0)
	if err != nil {
		return nil, err
	}
	return ir.Int(len(values)), nil
}

func evalNth(call *Call) (ir.Value, error) {
	values, err := pullList(call, 0)
	if err != nil {
		return nil, err
	}
	idx, err := pullInt(call, 1)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= int64(len(values)) {
		return nil, fmt.Errorf("nth: index %d out of range (len %d)", idx, len(values))
	}
	return values[idx], nil
}

func evalConcat(call *Call) (ir.Value, error) {
	left, err := pullString(call, 0)
	if err != nil {
		return nil, err
	}
	right, err := pullString(call, 1)
	if err != nil {
		return nil, err
	}
	return ir.String(left + right), nil
}

// evalNullify restricts the incoming context to the keep mask and pulls
// the source under it. The mask is a compiler-spliced literal, so it is
// pulled under the empty context to keep its cache entry context-free.
func evalNullify(call *Call) (ir.Value, error) {
	maskVal, err := call.PullWith(1, ir.Context{})
	if err != nil {
		return nil, err
	}
	mask, ok := maskVal.(ir.Int)
	if !ok {
		return nil, fmt.Errorf("nullify: keep mask: want int, got %s", ir.Kind(maskVal))
	}
	if mask < 0 || mask > ir.Int(ir.AllFeatures) {
		return nil, fmt.Errorf("nullify: keep mask %#x out of range", int64(mask))
	}
	keep := ir.FeatureSet(mask)
	return call.PullWith(0, call.Context().Restrict(keep))
}

func evalAnimationTime(call *Call) (ir.Value, error) {
	ctx := call.Context()
	if !ctx.Features.Has(ir.FeatAnimationTime) {
		return nil, errMissingFeature("animation_time")
	}
	return ir.Int(math.Round(ctx.AnimationTime * 1000)), nil
}

func evalRealTime(call *Call) (ir.Value, error) {
	ctx := call.Context()
	if !ctx.Features.Has(ir.FeatRealTime) {
		return nil, errMissingFeature("real_time")
	}
	return ir.Int(math.Round(ctx.RealTime)), nil
}

func evalIndex(call *Call) (ir.Value, error) {
	ctx := call.Context()
	if !ctx.Features.Has(ir.FeatIndex) {
		return nil, errMissingFeature("index")
	}
	if ctx.Index > math.MaxInt64 {
		return nil, fmt.Errorf("index %d overflows the integer value range", ctx.Index)
	}
	return ir.Int(ctx.Index), nil
}

func evalPosition(call *Call) (ir.Value, error) {
	ctx := call.Context()
	if !ctx.Features.Has(ir.FeatPosition) {
		return nil, errMissingFeature("position")
	}
	return vecValue(ctx.Position), nil
}

func evalPointerPosition(call *Call) (ir.Value, error) {
	ctx := call.Context()
	if !ctx.Features.Has(ir.FeatPointerPosition) {
		return nil, errMissingFeature("pointer_position")
	}
	return vecValue(ctx.PointerPosition), nil
}

func evalResolution(call *Call) (ir.Value, error) {
	ctx := call.Context()
	if !ctx.Features.Has(ir.FeatFootprint) {
		return nil, errMissingFeature("footprint")
	}
	res := ctx.Footprint.Resolution
	return ir.List{ir.Int(res[0]), ir.Int(res[1])}, nil
}

func evalVarargs(call *Call) (ir.Value, error) {
	ctx := call.Context()
	if !ctx.Features.Has(ir.FeatVarargs) {
		return nil, errMissingFeature("varargs")
	}
	if ctx.Varargs == nil {
		return ir.List{}, nil
	}
	return ctx.Varargs, nil
}

func evalRepeat(call *Call) (ir.Value, error) {
	count, err := pullInt(call, 0)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("repeat: negative count %d", count)
	}
	if count > maxRepeatCount {
		return nil, fmt.Errorf("repeat: count %d exceeds limit %d", count, maxRepeatCount)
	}
	base := call.Context()
	out := make(ir.List, 0, count)
	for i := int64(0); i < count; i++ {
		v, err := call.PullWith(1, base.WithIndex(uint64(i)))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// evalOffsetTime shifts animation time for its body. When the incoming
// context carries no animation time the body cannot demand it either, so
// the pull passes through unchanged.
func evalOffsetTime(call *Call) (ir.Value, error) {
	ctx := call.Context()
	if !ctx.Features.Has(ir.FeatAnimationTime) {
		return call.Pull(0)
	}
	offsetMS, err := pullInt(call, 1)
	if err != nil {
		return nil, err
	}
	shifted := ctx.WithAnimationTime(ctx.AnimationTime + float64(offsetMS)/1000)
	return call.PullWith(0, shifted)
}

func vecValue(p ir.Vec2) ir.Value {
	return ir.List{ir.Int(math.Round(p.X)), ir.Int(math.Round(p.Y))}
}

func errMissingFeature(name string) error {
	return fmt.Errorf("context feature %s not populated", name)
}

func pullInt(call *Call, port int) (int64, error) {
	v, err := call.Pull(port)
	if err != nil {
		return 0, err
	}
	n, ok := v.(ir.Int)
	if !ok {
		return 0, fmt.Errorf("port %d: want int, got %s", port, ir.Kind(v))
	}
	return int64(n), nil
}

func pullString(call *Call, port int) (string, error) {
	v, err := call.Pull(port)
	if err != nil {
		return "", err
	}
	s, ok := v.(ir.String)
	if !ok {
		return "", fmt.Errorf("port %d: want string, got %s", port, ir.Kind(v))
	}
	return string(s), nil
}

func pullList(call *Call, port int) (ir.List, error) {
	v, err := call.Pull(port)
	if err != nil {
		return nil, err
	}
	l, ok := v.(ir.List)
	if !ok {
		return nil, fmt.Errorf("port %d: want list, got %s", port, ir.Kind(v))
	}
	return l, nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"reflect"
)

// Kind is the execution strategy of a Stage.
type Kind int

const (
	// KindSource produces values without input. Only the first stage may be a source.
	KindSource Kind = iota
	// KindTransform maps each input to exactly one output.
	KindTransform
	// KindFlatMap maps each input to zero or more outputs.
	KindFlatMap
	// KindFilter passes through the inputs its predicate accepts.
	KindFilter
	// KindScoped yields a resource per input and closes it before pulling the next input.
	KindScoped
	// KindFlatten yields the elements of each input sequence.
	KindFlatten
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindTransform:
		return "transform"
	case KindFlatMap:
		return "flatmap"
	case KindFilter:
		return "filter"
	case KindScoped:
		return "scoped"
	case KindFlatten:
		return "flatten"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// StepFunc is the core of a Transform stage: one input value to one output value.
type StepFunc func(ctx context.Context, in any) (any, error)

// ExpandFunc is the core of a FlatMap stage.
type ExpandFunc func(ctx context.Context, in any) iter.Seq2[any, error]

// PredicateFunc is the core of a Filter stage.
type PredicateFunc func(ctx context.Context, in any) (bool, error)

// AcquireFunc is the core of a Scoped stage. The returned resource is closed
// by the pipeline once downstream is done with it.
type AcquireFunc func(ctx context.Context, in any) (io.Closer, error)

// GenerateFunc produces the values of a Source stage.
type GenerateFunc func(ctx context.Context) iter.Seq2[any, error]

// Stage is one lazy step of a pipeline. Build stages with the constructors in
// this package (Values, Generate, Transform, FlatMap, Filter, Scoped, Flatten
// and the helpers built on them); the zero Stage is not usable.
//
// A Transform or Scoped stage can be bound to record fields with On: it then
// reads record[input], writes its result to record[output] and passes the
// record on. Unbound stages work on raw values.
type Stage struct {
	name   string
	kind   Kind
	input  string
	output string

	generate GenerateFunc
	step     StepFunc
	expand   ExpandFunc
	keep     PredicateFunc
	acquire  AcquireFunc
}

// Name is the display name used in errors, logs and stats.
func (s Stage) Name() string { return s.name }

// Kind returns the stage's execution strategy.
func (s Stage) Kind() Kind { return s.kind }

// Fields returns the bound input and output keys, empty when unbound.
func (s Stage) Fields() (input, output string) { return s.input, s.output }

// On returns a copy of s bound to record fields. Only Transform and Scoped
// stages may be bound, and both keys must be set; violations are reported
// when the pipeline is composed.
func (s Stage) On(input, output string) Stage {
	s.input, s.output = input, output
	return s
}

// Named returns a copy of s with a different display name.
func (s Stage) Named(name string) Stage {
	s.name = name
	return s
}

func (s Stage) keyed() bool { return s.input != "" || s.output != "" }

func (s Stage) validate() error {
	if s.kind == KindSource && s.generate == nil ||
		s.kind == KindTransform && s.step == nil ||
		s.kind == KindFlatMap && s.expand == nil ||
		s.kind == KindFilter && s.keep == nil ||
		s.kind == KindScoped && s.acquire == nil {
		return errors.New("stage has no function; build it with a pipeline constructor")
	}
	if !s.keyed() {
		return nil
	}
	if s.kind != KindTransform && s.kind != KindScoped {
		return fmt.Errorf("%s stage cannot be bound to record fields", s.kind)
	}
	if s.input == "" || s.output == "" {
		return fmt.Errorf("field binding needs both keys, got input=%q output=%q", s.input, s.output)
	}
	return nil
}

// Values returns a source stage yielding vs in order.
func Values(vs ...any) Stage {
	return Generate("values", func(ctx context.Context) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			for _, v := range vs {
				if !yield(v, nil) {
					return
				}
			}
		}
	})
}

// Generate returns a source stage backed by fn. fn is called once per run.
func Generate(name string, fn GenerateFunc) Stage {
	return Stage{name: name, kind: KindSource, generate: fn}
}

// SourceFunc returns a source stage for push-style producers: fn calls emit
// per value and must return when emit reports false. Returning ErrStop ends
// the run cleanly.
func SourceFunc(name string, fn func(ctx context.Context, emit func(any) bool) error) Stage {
	return Generate(name, func(ctx context.Context) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			stopped := false
			err := fn(ctx, func(v any) bool {
				if stopped {
					return false
				}
				stopped = !yield(v, nil)
				return !stopped
			})
			if err != nil && !stopped {
				yield(nil, err)
			}
		}
	})
}

// Transform returns a one-to-one stage.
func Transform(name string, step StepFunc) Stage {
	return Stage{name: name, kind: KindTransform, step: step}
}

// ConvertFunc converts value of type A to type B.
type ConvertFunc[A, B any] func(ctx context.Context, a A) (B, error)

// Map returns a Transform stage that asserts its input to A before calling
// convert. Use it between stages whose value types are known.
func Map[A, B any](name string, convert ConvertFunc[A, B]) Stage {
	return Transform(name, func(ctx context.Context, in any) (any, error) {
		a, ok := in.(A)
		if !ok {
			var zero A
			return nil, fmt.Errorf("expected %T, got %T", zero, in)
		}
		return convert(ctx, a)
	})
}

// FlatMap returns a one-to-many stage.
func FlatMap(name string, expand ExpandFunc) Stage {
	return Stage{name: name, kind: KindFlatMap, expand: expand}
}

// Expand returns a FlatMap stage over a slice-returning function.
func Expand[A, B any](name string, fn func(ctx context.Context, a A) ([]B, error)) Stage {
	return FlatMap(name, func(ctx context.Context, in any) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			a, ok := in.(A)
			if !ok {
				var zero A
				yield(nil, fmt.Errorf("expected %T, got %T", zero, in))
				return
			}
			out, err := fn(ctx, a)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, b := range out {
				if !yield(b, nil) {
					return
				}
			}
		}
	})
}

// Filter returns a stage passing through the values keep accepts.
func Filter(name string, keep PredicateFunc) Stage {
	return Stage{name: name, kind: KindFilter, keep: keep}
}

// Scoped returns a stage whose per-item output is a resource. The pipeline
// closes it before requesting the next upstream item, also when downstream
// stops early or panics.
func Scoped(name string, acquire AcquireFunc) Stage {
	return Stage{name: name, kind: KindScoped, acquire: acquire}
}

// Flatten returns a stage that yields every element of each incoming
// sequence. Accepted inputs are slices and arrays of any element type,
// iter.Seq[any] and iter.Seq2[any, error]; nil yields nothing.
func Flatten() Stage {
	return Stage{name: "flatten", kind: KindFlatten}
}

// apply wraps upstream with this stage's strategy. Errors from the stage are
// tagged with its index and name; upstream errors pass through untouched.
func (s Stage) apply(ctx context.Context, index int, upstream iter.Seq2[any, error], st *StageStats) iter.Seq2[any, error] {
	wrap := func(err error) error {
		return fmt.Errorf("stage %d (%s): %w", index, s.name, err)
	}

	if s.kind == KindSource {
		return func(yield func(any, error) bool) {
			for v, err := range s.generate(ctx) {
				if err != nil {
					yield(nil, wrap(err))
					return
				}
				st.Out++
				if !yield(v, nil) {
					return
				}
			}
		}
	}

	return func(yield func(any, error) bool) {
		for v, err := range upstream {
			if err != nil {
				yield(nil, err)
				return
			}
			st.In++
			cont, err := s.each(ctx, v, st, yield)
			if err != nil {
				yield(nil, wrap(err))
				return
			}
			if !cont {
				return
			}
		}
	}
}

// each runs the stage on one input. It returns false once downstream stopped.
func (s Stage) each(ctx context.Context, v any, st *StageStats, yield func(any, error) bool) (bool, error) {
	emit := func(out any) bool {
		st.Out++
		return yield(out, nil)
	}

	switch s.kind {
	case KindTransform:
		if !s.keyed() {
			out, err := s.step(ctx, v)
			if err != nil {
				return false, err
			}
			return emit(out), nil
		}
		rec, in, err := s.field(v)
		if err != nil {
			return false, err
		}
		out, err := s.step(ctx, in)
		if err != nil {
			return false, err
		}
		rec.Set(s.output, out)
		return emit(rec), nil

	case KindFlatMap:
		for out, err := range s.expand(ctx, v) {
			if err != nil {
				return false, err
			}
			if !emit(out) {
				return false, nil
			}
		}
		return true, nil

	case KindFilter:
		ok, err := s.keep(ctx, v)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		return emit(v), nil

	case KindScoped:
		in := v
		var rec *Record
		if s.keyed() {
			var err error
			if rec, in, err = s.field(v); err != nil {
				return false, err
			}
		}
		res, err := s.acquire(ctx, in)
		if err != nil {
			return false, err
		}
		var out any = res
		if rec != nil {
			rec.Set(s.output, res)
			out = rec
		}
		cont, err := emitScoped(emit, out, res)
		if !cont {
			return false, nil
		}
		return true, err

	case KindFlatten:
		return flatten(v, emit)
	}
	return false, fmt.Errorf("cannot run %s stage here", s.kind)
}

func (s Stage) field(v any) (*Record, any, error) {
	rec, ok := v.(*Record)
	if !ok {
		return nil, nil, fmt.Errorf("field-bound stage expects *pipeline.Record, got %T", v)
	}
	in, err := rec.Require(s.input)
	if err != nil {
		return nil, nil, err
	}
	return rec, in, nil
}

// emitScoped yields out and closes res once yield returns or panics.
func emitScoped(emit func(any) bool, out any, res io.Closer) (cont bool, err error) {
	defer func() {
		if cerr := res.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("release: %w", cerr)
		}
	}()
	return emit(out), nil
}

func flatten(v any, emit func(any) bool) (bool, error) {
	switch seq := v.(type) {
	case nil:
		return true, nil
	case []any:
		for _, e := range seq {
			if !emit(e) {
				return false, nil
			}
		}
		return true, nil
	case []*Record:
		for _, e := range seq {
			if !emit(e) {
				return false, nil
			}
		}
		return true, nil
	case iter.Seq[any]:
		for e := range seq {
			if !emit(e) {
				return false, nil
			}
		}
		return true, nil
	case iter.Seq2[any, error]:
		for e, err := range seq {
			if err != nil {
				return false, err
			}
			if !emit(e) {
				return false, nil
			}
		}
		return true, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false, fmt.Errorf("flatten: %T is not a sequence", v)
	}
	for i := 0; i < rv.Len(); i++ {
		if !emit(rv.Index(i).Interface()) {
			return false, nil
		}
	}
	return true, nil
}

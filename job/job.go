package job

import (
	"errors"
	"fmt"
)

// Default values applied when the corresponding option is absent.
const (
	// DefaultQueue is the destination queue used when none is set.
	DefaultQueue = "default"
)

// Option keys recognized by accessors. Unknown keys are preserved untouched
// so descriptors stay forward compatible with options this version does not
// understand.
const (
	optionJob      = "job"
	optionHeaders  = "headers"
	optionQueue    = "queue"
	optionTaskArgs = "task_args"
)

// Common errors returned by descriptor operations.
var (
	// ErrNoFunction is returned when a job operation requires a function
	// reference and none was provided.
	ErrNoFunction = errors.New("job function reference is required")

	// ErrMalformedJob is returned when the "job" option does not hold a
	// function reference or a (function, args, kwargs) triple.
	ErrMalformedJob = errors.New("malformed job option")
)

// Options is the canonical dictionary representation of a Job. Values must be
// plain serializable data; the "job" key holds a []any{function, args, kwargs}
// triple where args is []any or nil and kwargs is map[string]any or nil.
type Options map[string]any

// CallArgs holds the invocation signature of a job. Empty collections are
// meaningful: they say "called with zero arguments", as opposed to the
// signature not having been decided yet (see Call.Args).
type CallArgs struct {
	Positional []any
	Keyword    map[string]any
}

// Call is the typed view of the "job" option. Args is nil while the
// invocation signature is still undecided; SetJob always populates it.
type Call struct {
	Function string
	Args     *CallArgs
}

// Job describes one deferred function call plus its delivery metadata.
// It is mutated only through UpdateOptions and SetJob; projecting it with
// ToDict or ToTask never changes it.
type Job struct {
	functionPath string
	options      Options
}

// New creates a Job from the given options. A "job" option may be either a
// bare function reference string, recorded with an undecided signature, or a
// full (function, args, kwargs) triple. Passing nil options creates an empty
// descriptor.
func New(opts Options) (*Job, error) {
	j := &Job{options: Options{}}
	if err := j.UpdateOptions(opts); err != nil {
		return nil, err
	}
	return j, nil
}

// MustNew is New for options known to be well formed, typically literals in
// tests and examples. It panics if New returns an error.
func MustNew(opts Options) *Job {
	j, err := New(opts)
	if err != nil {
		panic(err)
	}
	return j
}

// UpdateOptions merges the given key/value pairs into the job's options,
// overwriting existing keys. Unknown keys are stored without validation.
// A "job" value is normalized: a bare string reference becomes a triple with
// an undecided signature.
func (j *Job) UpdateOptions(opts Options) error {
	for key, value := range opts {
		if key == optionJob {
			call, normalized, err := parseJobOption(value)
			if err != nil {
				return err
			}
			j.functionPath = call.Function
			j.options[optionJob] = normalized
			continue
		}
		j.options[key] = value
	}
	return nil
}

// GetOptions returns the job's options map. The returned map is the live
// options of the job; callers treat it as read-only.
func (j *Job) GetOptions() Options {
	return j.options
}

// SetJob records the target function and its invocation signature. Unlike
// constructing with a bare "job" reference, SetJob always stores a decided
// signature: nil args or kwargs are normalized to empty collections.
func (j *Job) SetJob(function string, args []any, kwargs map[string]any) error {
	if function == "" {
		return ErrNoFunction
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	j.functionPath = function
	j.options[optionJob] = []any{function, args, kwargs}
	return nil
}

// Function returns the target function reference, or "" when no job has been
// set. The reference is never resolved by the descriptor itself.
func (j *Job) Function() string {
	return j.functionPath
}

// Call returns the typed view of the "job" option. The second return value is
// false when no job has been set.
func (j *Job) Call() (Call, bool) {
	raw, ok := j.options[optionJob]
	if !ok {
		return Call{}, false
	}
	call, _, err := parseJobOption(raw)
	if err != nil {
		return Call{}, false
	}
	return call, true
}

// Headers returns the caller-supplied headers, or an empty map when unset.
// Non-string values are rendered with fmt.Sprint.
func (j *Job) Headers() map[string]string {
	headers := map[string]string{}
	raw, ok := j.options[optionHeaders]
	if !ok {
		return headers
	}
	switch m := raw.(type) {
	case map[string]string:
		for k, v := range m {
			headers[k] = v
		}
	case map[string]any:
		for k, v := range m {
			headers[k] = fmt.Sprint(v)
		}
	}
	return headers
}

// Queue returns the destination queue name, or DefaultQueue when unset.
func (j *Job) Queue() string {
	if q, ok := j.options[optionQueue].(string); ok && q != "" {
		return q
	}
	return DefaultQueue
}

// TaskArgs returns the backend delivery options (for example the "eta"
// earliest-execution time), or an empty map when unset.
func (j *Job) TaskArgs() map[string]any {
	if m, ok := j.options[optionTaskArgs].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// ToDict returns a deep copy of the job's options. Composed with FromDict it
// is the identity on the options map.
func (j *Job) ToDict() Options {
	return deepCopyMap(j.options)
}

// FromDict reconstructs a Job from its canonical dictionary representation,
// populating the function reference from the "job" triple.
func FromDict(opts Options) (*Job, error) {
	return New(deepCopyMap(opts))
}

// parseJobOption interprets a "job" option value. It accepts a bare function
// reference string or a (function, args, kwargs) triple and returns the typed
// view plus the normalized triple to store.
func parseJobOption(value any) (Call, []any, error) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return Call{}, nil, ErrNoFunction
		}
		return Call{Function: v}, []any{v, nil, nil}, nil

	case []any:
		if len(v) != 3 {
			return Call{}, nil, fmt.Errorf("%w: expected 3 elements, got %d", ErrMalformedJob, len(v))
		}
		function, ok := v[0].(string)
		if !ok || function == "" {
			return Call{}, nil, fmt.Errorf("%w: first element must be a function reference", ErrMalformedJob)
		}

		call := Call{Function: function}
		args, err := parseArgs(v[1])
		if err != nil {
			return Call{}, nil, err
		}
		kwargs, err := parseKwargs(v[2])
		if err != nil {
			return Call{}, nil, err
		}
		if args != nil || kwargs != nil {
			callArgs := &CallArgs{Positional: []any{}, Keyword: map[string]any{}}
			if args != nil {
				callArgs.Positional = args
			}
			if kwargs != nil {
				callArgs.Keyword = kwargs
			}
			call.Args = callArgs
		}
		return call, v, nil

	default:
		return Call{}, nil, fmt.Errorf("%w: unsupported value of type %T", ErrMalformedJob, value)
	}
}

func parseArgs(value any) ([]any, error) {
	if value == nil {
		return nil, nil
	}
	args, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: args must be a sequence or nil", ErrMalformedJob)
	}
	return args, nil
}

func parseKwargs(value any) (map[string]any, error) {
	if value == nil {
		return nil, nil
	}
	kwargs, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: kwargs must be a mapping or nil", ErrMalformedJob)
	}
	return kwargs, nil
}

// deepCopyMap copies nested maps and slices so the result shares no mutable
// structure with the input. Scalar values are copied as-is.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		if val == nil {
			return nil
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	default:
		return v
	}
}

package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// AsyncEndpoint is the fixed dispatch endpoint wire tasks are addressed to.
// The full task URL is AsyncEndpoint joined with the URL-escaped function
// reference.
const AsyncEndpoint = "/_queue/async"

// ErrBadETA is returned by ToTask when the "eta" task arg cannot be
// interpreted as a point in time.
var ErrBadETA = errors.New("invalid eta task arg")

// defaultTaskHeaders are injected by the transport into every wire task.
// Caller-supplied headers with the same name win.
func defaultTaskHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
	}
}

// Task is the backend-ready projection of a Job: where to deliver it, with
// which headers, carrying which payload, and no earlier than when.
type Task struct {
	// URL is the dispatch destination, AsyncEndpoint joined with the
	// function reference.
	URL string

	// Headers holds the transport defaults merged under the caller-supplied
	// job headers.
	Headers map[string]string

	// Payload is the JSON serialization of the job's options; FromPayload
	// reconstructs the Job from it.
	Payload []byte

	// ETA is the earliest-execution time, truncated to whole seconds.
	// Zero when the job has no eta.
	ETA time.Time
}

// ETAPosix returns the earliest-execution time as POSIX seconds, or 0 when
// no eta is set.
func (t *Task) ETAPosix() int64 {
	if t.ETA.IsZero() {
		return 0
	}
	return t.ETA.Unix()
}

// ToTask projects the job to its wire task. The job itself is not mutated.
// It fails when no function has been set or the eta task arg is malformed.
func (j *Job) ToTask() (*Task, error) {
	if j.functionPath == "" {
		return nil, ErrNoFunction
	}

	payload, err := json.Marshal(j.ToDict())
	if err != nil {
		return nil, fmt.Errorf("failed to serialize job options: %w", err)
	}

	headers := defaultTaskHeaders()
	for name, value := range j.Headers() {
		headers[name] = value
	}

	task := &Task{
		URL:     AsyncEndpoint + "/" + url.PathEscape(j.functionPath),
		Headers: headers,
		Payload: payload,
	}

	if raw, ok := j.TaskArgs()["eta"]; ok {
		eta, err := parseETA(raw)
		if err != nil {
			return nil, err
		}
		task.ETA = eta
	}
	return task, nil
}

// FromPayload reconstructs a Job from a wire task payload produced by ToTask.
func FromPayload(payload []byte) (*Job, error) {
	var opts Options
	if err := json.Unmarshal(payload, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode task payload: %w", err)
	}
	return FromDict(opts)
}

// parseETA accepts the eta forms that survive an options round-trip:
// a time.Time, POSIX seconds as any numeric type, or an RFC 3339 string.
// Sub-second precision is dropped to satisfy backend constraints.
func parseETA(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.Truncate(time.Second), nil
	case float64:
		return time.Unix(int64(v), 0), nil
	case int64:
		return time.Unix(v, 0), nil
	case int:
		return time.Unix(int64(v), 0), nil
	case json.Number:
		sec, err := v.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrBadETA, v)
		}
		return time.Unix(sec, 0), nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrBadETA, v)
		}
		return t.Truncate(time.Second), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrBadETA, value)
	}
}

package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"githubie.shikanime.studio/internal/types"
	"k8s.io/utils/ptr"
)

// ValidationError reports why a share string was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid collection: " + e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// options represents configuration options for decoding
type options struct {
	newID func() int64
}

// Option is a function that configures options
type Option func(*options)

// WithIDFunc sets the generator of ids assigned to decoded collections.
func WithIDFunc(fn func() int64) Option {
	return func(o *options) { o.newID = fn }
}

// MarshalCollection encodes col as a share string. Seen repositories are
// never exported.
func MarshalCollection(col types.Collection) (string, error) {
	out := col.Clone()
	out.SeenRepoIDs = []int64{}
	if out.Topics == nil {
		out.Topics = []types.Topic{}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode collection: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// UnmarshalCollection decodes a share string. The result always gets a new id
// and an empty seen set. Any malformed input yields a *ValidationError.
func UnmarshalCollection(share string, opts ...Option) (types.Collection, error) {
	o := &options{newID: func() int64 { return time.Now().UnixMilli() }}
	for _, opt := range opts {
		opt(o)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(share))
	if err != nil {
		return types.Collection{}, invalid("not a share string: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return types.Collection{}, invalid("malformed document: %v", err)
	}
	if dec.More() {
		return types.Collection{}, invalid("trailing data after document")
	}

	col, err := validateCollection(doc)
	if err != nil {
		return types.Collection{}, err
	}
	col.ID = o.newID()
	col.SeenRepoIDs = []int64{}
	return col, nil
}

func validateCollection(doc any) (types.Collection, error) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return types.Collection{}, invalid("document is not an object")
	}
	name, ok := obj["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return types.Collection{}, invalid("name must be a non-empty string")
	}
	minStars, err := validateInt(obj["minStars"])
	if err != nil {
		return types.Collection{}, invalid("minStars: %v", err)
	}
	rawTopics, ok := obj["topics"].([]any)
	if !ok {
		return types.Collection{}, invalid("topics must be an array")
	}

	col := types.Collection{Name: name, MinStars: minStars, Topics: make([]types.Topic, 0, len(rawTopics))}
	for i, rt := range rawTopics {
		t, ok := rt.(map[string]any)
		if !ok {
			return types.Collection{}, invalid("topics[%d] is not an object", i)
		}
		tname, ok := t["name"].(string)
		if !ok {
			return types.Collection{}, invalid("topics[%d].name must be a string", i)
		}
		topic := types.Topic{Name: tname}
		if v, present := t["minStars"]; present && v != nil {
			n, err := validateInt(v)
			if err != nil {
				return types.Collection{}, invalid("topics[%d].minStars: %v", i, err)
			}
			topic.MinStars = ptr.To(n)
		}
		col.Topics = append(col.Topics, topic)
	}
	return col, nil
}

func validateInt(v any) (int, error) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("must be a number")
	}
	f, err := num.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("must be a finite number")
	}
	if f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return int(f), nil
}

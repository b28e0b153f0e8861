package collections

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when a collection draft is missing a name or topics.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned for operations on an unknown collection id.
	ErrNotFound = errors.New("collection not found")
	// ErrTopicExists is returned by AddTopic when the topic is already present.
	ErrTopicExists = errors.New("topic already exists")
	// ErrDecode is returned by Import for share strings that cannot be accepted.
	ErrDecode = errors.New("the collection code is invalid or corrupted")

	errStale = errors.New("collection changed during fetch")
)

// TopicError scopes a gateway failure to the topic that caused it.
type TopicError struct {
	Topic string
	Index int
	Err   error
}

func (e *TopicError) Error() string {
	return fmt.Sprintf("failed to load repositories for topic %s: %v", e.Topic, e.Err)
}

func (e *TopicError) Unwrap() error { return e.Err }

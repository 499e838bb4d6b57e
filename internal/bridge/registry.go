package bridge

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nfrund/topicbridge/internal/transport"
)

// maxTopicNameLength keeps prefixed AMQP exchange names within the 255 byte
// short string limit.
const maxTopicNameLength = 200

// TopicInfo describes a registered topic.
type TopicInfo struct {
	Name      string    `json:"name"`
	TypeName  string    `json:"type_name"`
	CreatedAt time.Time `json:"created_at"`
}

type topicEntry struct {
	info   TopicInfo
	typ    reflect.Type
	handle transport.Topic
}

// TopicRegistry binds topic names to the message type first used with them
// and owns the transport topic handles. Entries live until Clear.
type TopicRegistry struct {
	mu          sync.Mutex
	participant transport.Participant
	entries     map[string]*topicEntry
	cleared     bool
}

// NewTopicRegistry returns an empty registry creating topics on participant.
func NewTopicRegistry(participant transport.Participant) *TopicRegistry {
	return &TopicRegistry{
		participant: participant,
		entries:     make(map[string]*topicEntry),
	}
}

// ValidateTopicName checks that name is usable as a topic name on every
// provider: non-empty UTF-8 without whitespace or control characters.
func ValidateTopicName(name string) error {
	if name == "" {
		return newError(KindInvalidTopic, name, "topic name cannot be empty", nil)
	}
	if len(name) > maxTopicNameLength {
		return newError(KindInvalidTopic, name, fmt.Sprintf("topic name too long (max %d bytes)", maxTopicNameLength), nil)
	}
	if !utf8.ValidString(name) {
		return newError(KindInvalidTopic, name, "topic name is not valid UTF-8", nil)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return newError(KindInvalidTopic, name, fmt.Sprintf("topic name contains invalid character %U", r), nil)
		}
	}
	return nil
}

// ResolveOrCreate returns the transport topic for name, creating it on first
// use. The lock is held across creation so the name/type binding is atomic.
func (r *TopicRegistry) ResolveOrCreate(name string, typ reflect.Type) (transport.Topic, error) {
	if err := ValidateTopicName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cleared {
		return nil, ErrNotInitialized
	}

	if entry, ok := r.entries[name]; ok {
		if entry.typ != typ {
			return nil, newError(KindTypeConflict, name,
				fmt.Sprintf("topic type conflict: bound to %s, requested %s", entry.info.TypeName, typeName(typ)), nil)
		}
		return entry.handle, nil
	}

	handle, err := r.participant.CreateTopic(name, typeName(typ))
	if err != nil {
		return nil, newError(KindTransport, name, "create topic", err)
	}

	r.entries[name] = &topicEntry{
		info: TopicInfo{
			Name:      name,
			TypeName:  typeName(typ),
			CreatedAt: time.Now(),
		},
		typ:    typ,
		handle: handle,
	}
	return handle, nil
}

// Lookup returns the registered topic called name.
func (r *TopicRegistry) Lookup(name string) (TopicInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return TopicInfo{}, false
	}
	return entry.info, true
}

// List returns every registered topic sorted by name.
func (r *TopicRegistry) List() []TopicInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TopicInfo, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered topics.
func (r *TopicRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Clear closes every topic handle and rejects further resolution.
func (r *TopicRegistry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, entry := range r.entries {
		if err := entry.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close topic %s: %w", name, err))
		}
	}
	r.entries = make(map[string]*topicEntry)
	r.cleared = true
	return errors.Join(errs...)
}

// typeName is the identity sent to the transport. Named types are qualified by
// their package path so equal short names from different packages differ.
func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

func typeFor[M any]() reflect.Type {
	return reflect.TypeOf((*M)(nil)).Elem()
}

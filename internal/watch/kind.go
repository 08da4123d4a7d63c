package watch

import (
	"fmt"
	"strings"
)

// Kind classifies one card change between two polls.
type Kind string

const (
	KindAdd          Kind = "ADD"
	KindUpdate       Kind = "UPDATE"
	KindMove         Kind = "MOVE"
	KindDelete       Kind = "DELETE"
	KindTaskAdd      Kind = "TASK_ADD"
	KindTaskRemove   Kind = "TASK_REMOVE"
	KindTaskComplete Kind = "TASK_COMPLETE"
	KindAddComment   Kind = "ADD_COMMENT"
)

// AllKinds lists every kind in dispatch order.
var AllKinds = []Kind{
	KindAdd,
	KindUpdate,
	KindMove,
	KindDelete,
	KindTaskAdd,
	KindTaskRemove,
	KindTaskComplete,
	KindAddComment,
}

func (k Kind) index() int {
	for i, v := range AllKinds {
		if v == k {
			return i
		}
	}
	return -1
}

func (k Kind) Valid() bool { return k.index() >= 0 }

// ParseKind accepts kind names case-insensitively, with '-' or '_'.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !k.Valid() {
		return "", fmt.Errorf("unknown change kind %q", s)
	}
	return k, nil
}

// KindSet is a small immutable set of kinds.
type KindSet uint16

// AllKindSet watches every kind.
var AllKindSet = NewKindSet(AllKinds...)

func NewKindSet(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// ParseKindSet parses a comma or space separated list of kind names.
// "all" or an empty list selects every kind.
func ParseKindSet(raw string) (KindSet, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) == 0 {
		return AllKindSet, nil
	}
	var s KindSet
	for _, f := range fields {
		if strings.EqualFold(f, "all") {
			return AllKindSet, nil
		}
		k, err := ParseKind(f)
		if err != nil {
			return 0, err
		}
		s = s.With(k)
	}
	return s, nil
}

func (s KindSet) With(k Kind) KindSet {
	i := k.index()
	if i < 0 {
		return s
	}
	return s | 1<<uint(i)
}

func (s KindSet) Has(k Kind) bool {
	i := k.index()
	return i >= 0 && s&(1<<uint(i)) != 0
}

func (s KindSet) Empty() bool { return s == 0 }

func (s KindSet) Kinds() []Kind {
	out := make([]Kind, 0, len(AllKinds))
	for _, k := range AllKinds {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// String renders the set as a comma separated list, suitable for storage.
func (s KindSet) String() string {
	ks := s.Kinds()
	parts := make([]string, len(ks))
	for i, k := range ks {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

// noisy kinds are the ones SpamGuard may collapse.
func (k Kind) noisy() bool { return k == KindUpdate || k == KindTaskAdd }

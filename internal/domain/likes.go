package domain

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// LikeSet is the set of user identities that liked a post.
// It is stored as an array; a missing or null field is the empty set.
type LikeSet map[string]struct{}

// NewLikeSet builds a set from the given members, dropping duplicates.
func NewLikeSet(members ...string) LikeSet {
	s := make(LikeSet, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Contains reports membership of id.
func (s LikeSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id and reports whether the set changed.
func (s *LikeSet) Add(id string) bool {
	if *s == nil {
		*s = make(LikeSet)
	}
	if _, ok := (*s)[id]; ok {
		return false
	}
	(*s)[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether the set changed.
func (s LikeSet) Remove(id string) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

// Toggle flips membership of id and returns the new membership.
func (s *LikeSet) Toggle(id string) bool {
	if s.Contains(id) {
		s.Remove(id)
		return false
	}
	s.Add(id)
	return true
}

// Len returns the number of members.
func (s LikeSet) Len() int {
	return len(s)
}

// Members returns the members in sorted order.
func (s LikeSet) Members() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as an array.
func (s LikeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Members())
}

// UnmarshalJSON decodes an array, treating null as empty.
func (s *LikeSet) UnmarshalJSON(data []byte) error {
	var members []string
	if err := json.Unmarshal(data, &members); err != nil {
		return fmt.Errorf("decode likedBy: %w", err)
	}
	*s = NewLikeSet(members...)
	return nil
}

// MarshalBSONValue encodes the set as a BSON array.
func (s LikeSet) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(s.Members())
}

// UnmarshalBSONValue decodes a BSON array of identities.
func (s *LikeSet) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null || t == bsontype.Undefined {
		*s = LikeSet{}
		return nil
	}
	var members []string
	if err := (bson.RawValue{Type: t, Value: data}).Unmarshal(&members); err != nil {
		return fmt.Errorf("decode likedBy: %w", err)
	}
	*s = NewLikeSet(members...)
	return nil
}

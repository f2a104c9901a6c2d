package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubCapability struct {
	name string
}

func (s stubCapability) Name() string               { return s.name }
func (s stubCapability) Source() Source             { return SourcePrebuilt }
func (s stubCapability) ArgsSchema() map[string]any  { return nil }
func (s stubCapability) Invoke(context.Context, map[string]any) (Result, error) {
	return Result{}, nil
}

func TestNewSet_PreservesOrder(t *testing.T) {
	s := NewSet(stubCapability{"a"}, stubCapability{"b"}, stubCapability{"c"})
	names := make([]string, 0, 3)
	for _, c := range s.List() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestNewSet_DedupesByName_FirstWins(t *testing.T) {
	first := stubCapability{"dup"}
	second := stubCapability{"dup"}
	s := NewSet(first, second)

	assert.Len(t, s.List(), 1)
	got, ok := s.Get("dup")
	assert.True(t, ok)
	assert.Equal(t, first, got)
}

func TestSet_Get_MissingIsNotFound(t *testing.T) {
	s := NewSet()
	_, ok := s.Get("missing")
	assert.False(t, ok)
}

package capabilities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExec_RunsCommand(t *testing.T) {
	e := NewExec()
	res, err := e.Invoke(context.Background(), map[string]any{"command": "echo hello"})
	require.NoError(t, err)
	require.Nil(t, res.Err)
	assert.Contains(t, res.Content["output"], "hello")
}

func TestExec_MissingCommand(t *testing.T) {
	e := NewExec()
	res, err := e.Invoke(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Error(t, res.Err)
}

func TestExec_NonZeroExitBecomesError(t *testing.T) {
	e := NewExec()
	res, err := e.Invoke(context.Background(), map[string]any{"command": "exit 7"})
	require.NoError(t, err)
	assert.Error(t, res.Err)
}

func TestMemory_SetGetDelete(t *testing.T) {
	m := NewMemory()
	assert.Equal(t, "memory", m.Name())

	res, err := m.Invoke(context.Background(), map[string]any{"op": "set", "key": "k", "value": "v"})
	require.NoError(t, err)
	require.Nil(t, res.Err)

	res, err = m.Invoke(context.Background(), map[string]any{"op": "get", "key": "k"})
	require.NoError(t, err)
	require.Nil(t, res.Err)
	assert.Equal(t, "v", res.Content["value"])

	res, err = m.Invoke(context.Background(), map[string]any{"op": "delete", "key": "k"})
	require.NoError(t, err)
	require.Nil(t, res.Err)

	res, err = m.Invoke(context.Background(), map[string]any{"op": "get", "key": "k"})
	require.NoError(t, err)
	assert.Error(t, res.Err)
}

func TestMemory_UnknownOp(t *testing.T) {
	m := NewMemory()
	res, err := m.Invoke(context.Background(), map[string]any{"op": "frob", "key": "k"})
	require.NoError(t, err)
	assert.Error(t, res.Err)
}

type stubSearcher struct {
	results []string
	err     error
}

func (s stubSearcher) Search(_ context.Context, _ string) ([]string, error) {
	return s.results, s.err
}

func TestSearch_Delegates(t *testing.T) {
	tool := NewSearch(stubSearcher{results: []string{"a", "b"}})
	res, err := tool.Invoke(context.Background(), map[string]any{"query": "q"})
	require.NoError(t, err)
	require.Nil(t, res.Err)
	assert.Equal(t, []string{"a", "b"}, res.Content["results"])
}

func TestSearch_NoBackendConfigured(t *testing.T) {
	tool := NewSearch(nil)
	res, err := tool.Invoke(context.Background(), map[string]any{"query": "q"})
	require.NoError(t, err)
	assert.Error(t, res.Err)
}

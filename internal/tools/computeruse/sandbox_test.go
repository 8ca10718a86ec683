package computeruse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseActionClick(t *testing.T) {
	raw := json.RawMessage(`{"type":"click","x":100,"y":200,"button":"left"}`)
	action, err := ParseAction(raw)
	require.NoError(t, err)
	require.Equal(t, "click", action.Type)
	require.Equal(t, 100, action.X)
	require.Equal(t, 200, action.Y)
}

func TestParseActionDrag(t *testing.T) {
	raw := json.RawMessage(`{"type":"drag","path":[{"x":1,"y":2},{"x":3,"y":4}]}`)
	action, err := ParseAction(raw)
	require.NoError(t, err)
	require.Len(t, action.Path, 2)
	require.Equal(t, 3, action.Path[1].X)
}

func TestParseActionMissingType(t *testing.T) {
	_, err := ParseAction(json.RawMessage(`{"x":1,"y":2}`))
	require.Error(t, err)
}

func TestParseActionEmpty(t *testing.T) {
	_, err := ParseAction(nil)
	require.Error(t, err)
}

func TestIsInteractive(t *testing.T) {
	require.True(t, IsInteractive("click"))
	require.True(t, IsInteractive("drag"))
	require.False(t, IsInteractive("scroll"))
	require.False(t, IsInteractive("screenshot"))
}

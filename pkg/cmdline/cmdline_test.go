package cmdline

import (
	"testing"

	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTokensCursor 测试游标按顺序消费且不回退
func TestTokensCursor(t *testing.T) {
	toks := Split("  flow   create 0\tpattern end ")
	assert.Equal(t, 5, toks.Len())

	tok, ok := toks.Peek()
	require.True(t, ok)
	assert.Equal(t, "flow", tok)

	tok, _ = toks.PeekAt(2)
	assert.Equal(t, "0", tok)
	_, ok = toks.PeekAt(5)
	assert.False(t, ok)
	_, ok = toks.PeekAt(-1)
	assert.False(t, ok)

	tok, _ = toks.Next()
	assert.Equal(t, "flow", tok)
	toks.Skip(2)
	assert.Equal(t, []string{"pattern", "end"}, toks.Rest())
	assert.Equal(t, "pattern end", toks.String())

	toks.Skip(10)
	assert.Zero(t, toks.Len())
	_, ok = toks.Next()
	assert.False(t, ok)
}

func TestCmdlineRun(t *testing.T) {
	c := New()
	var got []string
	c.Register("echo", ModuleFunc(func(toks *Tokens) (string, error) {
		got = toks.Rest()
		toks.Skip(toks.Len())
		return "ok", nil
	}))

	out, err := c.Run("echo a b")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"a", "b"}, got)

	out, err = c.Run("   ")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = c.Run("show port 0")
	assert.ErrorIs(t, err, types.ErrUnknownKeyword)
	assert.Contains(t, err.Error(), "Unknown command")

	c.Register("alpha", ModuleFunc(func(*Tokens) (string, error) { return "", nil }))
	assert.Equal(t, []string{"alpha", "echo"}, c.Names())
}

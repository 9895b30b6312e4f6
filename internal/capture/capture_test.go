package capture_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/norns/internal/capture"
)

func TestCapture_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("Should_Return_Chosen_Content_And_Drop_Others", func(t *testing.T) {
		t.Parallel()
		c := capture.New()

		w := c.Begin("red")
		fmt.Fprint(w, "<h1>Red</h1>")
		w = c.Begin("blue") // closes "red"
		fmt.Fprint(w, "<h1>Blue</h1>")
		c.End()

		content, err := c.Resolve("blue")

		require.NoError(t, err)
		assert.Equal(t, "<h1>Blue</h1>", content)
		assert.Equal(t, []string{"blue"}, c.Keys())

		_, err = c.Resolve("red")
		assert.ErrorIs(t, err, capture.ErrUnknownCondition)
	})

	t.Run("Should_Register_Key_Before_Content_Arrives", func(t *testing.T) {
		t.Parallel()
		c := capture.New()

		c.Begin("a")
		assert.Equal(t, []string{"a"}, c.Keys())

		content, err := c.Resolve("a") // closes the empty region
		require.NoError(t, err)
		assert.Empty(t, content)
	})

	t.Run("Should_Keep_Registration_Order", func(t *testing.T) {
		t.Parallel()
		c := capture.New()

		c.Add("z", "last letter")
		c.Add("a[2]", "first letter")
		c.Add("z", "rewritten")

		assert.Equal(t, []string{"z", "a[2]"}, c.Keys())
		content, err := c.Resolve("z")
		require.NoError(t, err)
		assert.Equal(t, "rewritten", content)
	})

	t.Run("Should_Reject_Unknown_Key", func(t *testing.T) {
		t.Parallel()
		c := capture.New()
		c.Add("a", "x")

		_, err := c.Resolve("b")

		assert.ErrorIs(t, err, capture.ErrUnknownCondition)
	})

	t.Run("Write_Outside_Region_Should_Fail", func(t *testing.T) {
		t.Parallel()
		c := capture.New()

		_, err := c.Write([]byte("stray"))
		assert.Error(t, err)

		c.Begin("a")
		n, err := c.Write([]byte("ok"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		c.End()

		content, err := c.Resolve("a")
		require.NoError(t, err)
		assert.Equal(t, "ok", content)
	})
}

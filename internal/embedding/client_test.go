package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_EmbedSingle_Deterministic(t *testing.T) {
	c := NewMockClient(32)
	a, err := c.EmbedSingle(context.Background(), "hello world")
	require.NoError(t, err)
	b, err := c.EmbedSingle(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestMockClient_EmbedBatch_MatchesInputLength(t *testing.T) {
	c := NewMockClient(16)
	texts := []string{"a", "bb", "ccc", "dddd"}
	out, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, out, len(texts))
	for _, vec := range out {
		assert.Len(t, vec, 16)
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestNewClient_AppliesDefaults(t *testing.T) {
	c, err := NewClient(Config{APIKey: "key"})
	require.NoError(t, err)
	assert.Equal(t, 1024, c.Dimension())
	assert.Equal(t, 64, c.chunkSize)
	assert.Equal(t, 20, c.maxConcurrent)
}

func TestEmbed_EmptyInputReturnsNil(t *testing.T) {
	c, err := NewClient(Config{APIKey: "key"})
	require.NoError(t, err)
	out, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewCapability(t *testing.T) {
	logger := zaptest.NewLogger(t)

	c, err := NewCapability(&Config{Provider: "anthropic", APIKey: "key", Logger: logger})
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = NewCapability(&Config{Provider: "anthropic", Logger: logger})
	assert.Error(t, err)

	_, err = NewCapability(&Config{Provider: "openai", APIKey: "key", Logger: logger})
	assert.EqualError(t, err, "unsupported LLM provider: openai")
}

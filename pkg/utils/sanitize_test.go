package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeMessageContent(t *testing.T) {
	out, err := SanitizeMessageContent("  hello there  ")
	assert.NoError(t, err)
	assert.Equal(t, "hello there", out)

	_, err = SanitizeMessageContent("   \n\t")
	assert.Error(t, err)

	_, err = SanitizeMessageContent(strings.Repeat("a", MaxMessageLength+1))
	assert.Error(t, err)

	out, err = SanitizeMessageContent(`before <script>alert(1)</script> after`)
	assert.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "before")

	out, err = SanitizeMessageContent(`<img src=x onerror=alert(1)>`)
	assert.NoError(t, err)
	assert.NotContains(t, out, "onerror=")
}

package worker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapturedOutputUnderCapReturnsVerbatim(t *testing.T) {
	out := newCapturedOutput(32)
	fmt.Fprint(out, "hello")
	assert.Equal(t, "hello", out.String())
}

func TestCapturedOutputOverCapAppendsTruncationMarkers(t *testing.T) {
	out := newCapturedOutput(8)
	fmt.Fprint(out, "0123456789abcdef")
	s := out.String()
	assert.Contains(t, s, "truncated at 8 bytes")
	assert.Contains(t, s, "bytes omitted)")
}

func TestCapturedOutputExactlyAtCapIsNotTruncated(t *testing.T) {
	out := newCapturedOutput(5)
	fmt.Fprint(out, "12345")
	assert.Equal(t, "12345", out.String())
}

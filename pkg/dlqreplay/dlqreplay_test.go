package dlqreplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_CapsMaxBatchAt100(t *testing.T) {
	r := New(nil, 500)
	assert.Equal(t, 100, r.maxBatch)
}

func TestNew_PreservesMaxBatchUnderCap(t *testing.T) {
	r := New(nil, 25)
	assert.Equal(t, 25, r.maxBatch)
}

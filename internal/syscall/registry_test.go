package syscall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chip8os/internal/vm"
)

func TestRegisterRejectsOutOfRangeID(t *testing.T) {
	r := NewRegistry()
	err := r.Register(0x00FF, func(Kernel, uint32, *vm.Process) vm.Outcome { return vm.Completed })
	assert.ErrorIs(t, err, ErrInvalidID)

	err = r.Register(0x0200, func(Kernel, uint32, *vm.Process) vm.Outcome { return vm.Completed })
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	called := false
	require.NoError(t, r.Register(0x0101, func(Kernel, uint32, *vm.Process) vm.Outcome {
		called = true
		return vm.Yielded
	}))

	h, ok := r.Lookup(0x0101)
	require.True(t, ok)
	outcome := h(nil, 1, nil)
	assert.True(t, called)
	assert.Equal(t, vm.Yielded, outcome)

	_, ok = r.Lookup(0x0102)
	assert.False(t, ok)
}

package syscall

import (
	"errors"

	"chip8os/internal/vm"
)

var ErrFrameTooSmall = errors.New("syscall: frame too small for requested argument")

// ReadArg reads the index-th big-endian 16-bit argument word from the
// syscall call frame at register I: byte 0 is the total frame length,
// followed by a sequence of argument words at offset 1+2*index (spec.md
// §3, "Syscall call frame").
func ReadArg(p *vm.Process, index int) (uint16, error) {
	base := uint32(p.Regs.I)
	frameLen, err := p.ReadU8(base)
	if err != nil {
		return 0, err
	}
	offset := 1 + index*2
	if offset+1 >= int(frameLen) {
		return 0, ErrFrameTooSmall
	}
	return p.ReadU16(base + uint32(offset))
}

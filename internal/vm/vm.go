// Package vm implements the per-process CHIP-8 register file, paged virtual
// address space, and opcode interpreter (spec.md §4, §5).
//
// A Process has no memory of its own beyond its registers; all reads and
// writes go through a page table into a shared internal/memory.Arena, the
// same separation hejops-gone/cpu draws between its Cpu and its Bus.
package vm

import (
	"errors"

	"chip8os/internal/display"
	"chip8os/internal/mask"
	"chip8os/internal/memory"
)

var (
	ErrAddressOutOfRange = errors.New("vm: virtual address out of range")
	ErrPageTableIndex    = errors.New("vm: page table index out of range")
	ErrAddressOverflow   = errors.New("vm: overflow computing address")
	ErrProgramTooLarge   = errors.New("vm: program too large for process memory")
)

// Outcome reports how an interpreter step affected scheduling. It mirrors
// SyscallOutcome from the original runtime: a step either ran to completion,
// voluntarily yielded the CPU, or blocked the calling process.
type Outcome int

const (
	Completed Outcome = iota
	Blocked
	Yielded
)

// Registers is the CHIP-8 register file: 16 general-purpose byte registers,
// delay and sound timers, the address register, stack pointer, and program
// counter. NewProcess sets the initial PC (0x200) and SP (top of the
// process's address space).
type Registers struct {
	V  [16]byte
	DT byte
	ST byte
	I  uint16
	SP uint16
	PC uint16
}

// font80 is the built-in 4x5 hex digit font, loaded at virtual address 0 of
// every process so FX29 can resolve a digit sprite by multiplying by 5.
var font80 = [80]byte{
	0xF0, 0x90, 0x90, 0x90, 0xF0, // 0
	0x20, 0x60, 0x20, 0x20, 0x70, // 1
	0xF0, 0x10, 0xF0, 0x80, 0xF0, // 2
	0xF0, 0x10, 0xF0, 0x10, 0xF0, // 3
	0x90, 0x90, 0xF0, 0x10, 0x10, // 4
	0xF0, 0x80, 0xF0, 0x10, 0xF0, // 5
	0xF0, 0x80, 0xF0, 0x90, 0xF0, // 6
	0xF0, 0x10, 0x20, 0x40, 0x40, // 7
	0xF0, 0x90, 0xF0, 0x90, 0xF0, // 8
	0xF0, 0x90, 0xF0, 0x10, 0xF0, // 9
	0xF0, 0x90, 0xF0, 0x90, 0x90, // A
	0xE0, 0x90, 0xE0, 0x90, 0xE0, // B
	0xF0, 0x80, 0x80, 0x80, 0xF0, // C
	0xE0, 0x90, 0x90, 0x90, 0xE0, // D
	0xF0, 0x80, 0xF0, 0x80, 0xF0, // E
	0xF0, 0x80, 0xF0, 0x80, 0x80, // F
}

// InputMode selects whether the read syscall blocks for a full line or a
// single byte.
type InputMode int

const (
	InputLine InputMode = iota
	InputByte
)

// ConsoleMode selects whether console output from this process is routed to
// the host terminal or rendered onto its own display.
type ConsoleMode int

const (
	ConsoleHost ConsoleMode = iota
	ConsoleDisplay
)

// Process is one CHIP-8 virtual machine: a register file, a page table into
// a shared memory.Arena, and a display.Device it draws to and reads input
// from.
type Process struct {
	Regs      Registers
	Display   display.Device
	arena     *memory.Arena
	pageTable []uint32
	vmSize    uint32

	InputMode    InputMode
	ConsoleMode  ConsoleMode
	ConsoleInput []byte
}

// NewProcess maps pages pages of arena into a fresh process's address space
// and initializes its registers. The stack pointer starts at the top of the
// mapped space, matching the original's "stack grows downward" convention.
func NewProcess(arena *memory.Arena, dev display.Device, pages int) (*Process, error) {
	pageTable, err := arena.Mmap(pages)
	if err != nil {
		return nil, err
	}
	vmSize := uint32(pages) * memory.PageSize

	sp := vmSize
	if sp > 0xFFFF {
		sp = 0xFFFF
	}

	return &Process{
		Regs: Registers{
			PC: 0x200,
			SP: uint16(sp),
		},
		Display:     dev,
		arena:       arena,
		pageTable:   pageTable,
		vmSize:      vmSize,
		InputMode:   InputLine,
		ConsoleMode: ConsoleHost,
	}, nil
}

// Translate resolves a virtual address into a physical arena address.
func (p *Process) Translate(vaddr uint32) (uint32, error) {
	if vaddr >= p.vmSize {
		return 0, ErrAddressOutOfRange
	}
	page := vaddr / memory.PageSize
	offset := vaddr % memory.PageSize
	if int(page) >= len(p.pageTable) {
		return 0, ErrPageTableIndex
	}
	return p.pageTable[page] + offset, nil
}

// ReadU8 reads a single byte via virtual addressing.
func (p *Process) ReadU8(vaddr uint32) (byte, error) {
	phys, err := p.Translate(vaddr)
	if err != nil {
		return 0, err
	}
	data, err := p.arena.Read(phys, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// WriteU8 writes a single byte via virtual addressing.
func (p *Process) WriteU8(vaddr uint32, value byte) error {
	phys, err := p.Translate(vaddr)
	if err != nil {
		return err
	}
	return p.arena.Write(phys, []byte{value}, 1)
}

// WriteBytes writes data starting at vaddr, one byte at a time so a write
// may cross a page boundary.
func (p *Process) WriteBytes(vaddr uint32, data []byte) error {
	for idx, b := range data {
		addr, ok := addAddr(vaddr, uint32(idx))
		if !ok {
			return ErrAddressOverflow
		}
		if err := p.WriteU8(addr, b); err != nil {
			return err
		}
	}
	return nil
}

// ReadBytes reads length bytes starting at vaddr, one byte at a time so a
// read may cross a page boundary.
func (p *Process) ReadBytes(vaddr uint32, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	for idx := range length {
		addr, ok := addAddr(vaddr, uint32(idx))
		if !ok {
			return nil, ErrAddressOverflow
		}
		b, err := p.ReadU8(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ReadU16 reads a big-endian 16-bit value via virtual addressing.
func (p *Process) ReadU16(vaddr uint32) (uint16, error) {
	hi, err := p.ReadU8(vaddr)
	if err != nil {
		return 0, err
	}
	lo, err := p.ReadU8(vaddr + 1)
	if err != nil {
		return 0, err
	}
	return mask.Word(hi, lo), nil
}

// LoadROM installs the built-in hex digit font at address 0 and the program
// image at the CHIP-8 convention address 0x200.
func (p *Process) LoadROM(program []byte) error {
	maxSize := int(p.vmSize) - 0x200
	if len(program) > maxSize {
		return ErrProgramTooLarge
	}
	if err := p.WriteBytes(0x0, font80[:]); err != nil {
		return err
	}
	return p.WriteBytes(0x200, program)
}

func addAddr(base, delta uint32) (uint32, bool) {
	sum := uint64(base) + uint64(delta)
	if sum > 0xFFFFFFFF {
		return 0, false
	}
	return uint32(sum), true
}

func (p *Process) tickTimers(ticks uint32) {
	dec := ticks
	if dec > 0xFF {
		dec = 0xFF
	}
	p.Regs.DT = satSub(p.Regs.DT, byte(dec))
	p.Regs.ST = satSub(p.Regs.ST, byte(dec))
}

func satSub(a, b byte) byte {
	if b >= a {
		return 0
	}
	return a - b
}

// IsKeyDown reports whether key is currently held on the process's display.
func (p *Process) IsKeyDown(key byte) bool {
	return p.Display.IsKeyDown(key)
}

// LastKey returns the most recently pressed key, if any.
func (p *Process) LastKey() (byte, bool) {
	return p.Display.LastKey()
}

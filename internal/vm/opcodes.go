package vm

import "chip8os/internal/mask"

// SyscallDispatcher resolves the NNN field of a 0NNN instruction that falls
// in the reserved syscall range to a syscall.Registry lookup and invocation.
// It is injected rather than imported directly so internal/vm never needs to
// know about internal/syscall or internal/kernel.
type SyscallDispatcher func(nnn uint16, p *Process) (Outcome, error)

// syscallRangeLo and syscallRangeHi bound the reserved, half-open NNN range
// [0x0100, 0x0200) that 0NNN escapes into a syscall dispatch rather than the
// legacy "call machine code routine" no-op (spec.md §9's resolved Open
// Question).
const (
	syscallRangeLo = 0x0100
	syscallRangeHi = 0x0200
)

// extracted fields of a 16-bit instruction, named after the CHIP-8
// reference notation (NNN/X/KK/Y/Z).
type fields struct {
	nnn uint16
	x   byte
	kk  byte
	y   byte
	z   byte
}

func extract(instr uint16) fields {
	return fields{
		nnn: instr & 0x0FFF,
		x:   byte(instr>>8) & 0xF,
		kk:  byte(instr),
		y:   byte(instr>>4) & 0xF,
		z:   byte(instr) & 0xF,
	}
}

// Step fetches and executes a single instruction, having first polled input
// and decremented the timers by ticks 60Hz ticks. Each opcode handler is
// responsible for advancing PC; Step never advances it itself.
func (p *Process) Step(ticks uint32, dispatch SyscallDispatcher) (Outcome, error) {
	p.Display.PollInput(false)
	p.tickTimers(ticks)

	hi, err := p.ReadU8(uint32(p.Regs.PC))
	if err != nil {
		return Completed, err
	}
	lo, err := p.ReadU8(uint32(p.Regs.PC) + 1)
	if err != nil {
		return Completed, err
	}
	instr := mask.Word(hi, lo)
	opcode := mask.Nibble(instr, mask.I1)

	switch opcode {
	case 0x0:
		return p.op0(instr, dispatch)
	case 0x1:
		p.op1(instr)
	case 0x2:
		if err := p.op2(instr); err != nil {
			return Completed, err
		}
	case 0x3:
		p.op3(instr)
	case 0x4:
		p.op4(instr)
	case 0x5:
		p.op5(instr)
	case 0x6:
		p.op6(instr)
	case 0x7:
		p.op7(instr)
	case 0x8:
		p.op8(instr)
	case 0x9:
		p.op9(instr)
	case 0xA:
		p.opA(instr)
	case 0xB:
		p.opB(instr)
	case 0xC:
		p.opC(instr)
	case 0xD:
		if err := p.opD(instr); err != nil {
			return Completed, err
		}
	case 0xE:
		p.opE(instr)
	case 0xF:
		return p.opF(instr)
	}
	return Completed, nil
}

// op0 handles 00E0 (clear screen), 00EE (return), 0NNN syscalls in the
// reserved range, and the legacy machine-code-routine no-op for anything
// else.
func (p *Process) op0(instr uint16, dispatch SyscallDispatcher) (Outcome, error) {
	f := extract(instr)

	switch instr {
	case 0x00E0:
		p.Display.ClearScreen()
		p.Regs.PC += 2
		return Completed, nil
	case 0x00EE:
		hi, err := p.ReadU8(uint32(p.Regs.SP))
		if err != nil {
			return Completed, err
		}
		lo, err := p.ReadU8(uint32(p.Regs.SP) + 1)
		if err != nil {
			return Completed, err
		}
		p.Regs.PC = mask.Word(hi, lo)
		p.Regs.SP += 2
		return Completed, nil
	default:
		if f.nnn < syscallRangeLo || f.nnn >= syscallRangeHi {
			p.Regs.PC += 2
			return Completed, nil
		}
		outcome, err := dispatch(f.nnn, p)
		if err != nil {
			p.Regs.V[0xF] = 1
			p.Regs.V[0x0] = 0x01
			p.Regs.PC += 2
			return Completed, nil
		}
		p.Regs.PC += 2
		return outcome, nil
	}
}

func (p *Process) op1(instr uint16) {
	p.Regs.PC = extract(instr).nnn
}

// op2 pushes the return address (PC+2) onto the stack, which grows downward
// from the top of the process's address space.
func (p *Process) op2(instr uint16) error {
	ret := p.Regs.PC + 2
	p.Regs.SP -= 2
	if err := p.WriteU8(uint32(p.Regs.SP), byte(ret>>8)); err != nil {
		return err
	}
	if err := p.WriteU8(uint32(p.Regs.SP)+1, byte(ret)); err != nil {
		return err
	}
	p.Regs.PC = extract(instr).nnn
	return nil
}

func (p *Process) op3(instr uint16) {
	f := extract(instr)
	if p.Regs.V[f.x] == f.kk {
		p.Regs.PC += 4
	} else {
		p.Regs.PC += 2
	}
}

func (p *Process) op4(instr uint16) {
	f := extract(instr)
	if p.Regs.V[f.x] != f.kk {
		p.Regs.PC += 4
	} else {
		p.Regs.PC += 2
	}
}

func (p *Process) op5(instr uint16) {
	f := extract(instr)
	if p.Regs.V[f.x] == p.Regs.V[f.y] {
		p.Regs.PC += 4
	} else {
		p.Regs.PC += 2
	}
}

func (p *Process) op6(instr uint16) {
	f := extract(instr)
	p.Regs.V[f.x] = f.kk
	p.Regs.PC += 2
}

func (p *Process) op7(instr uint16) {
	f := extract(instr)
	p.Regs.V[f.x] += f.kk
	p.Regs.PC += 2
}

// op8 covers the nine arithmetic/logic variants keyed on the low nibble.
func (p *Process) op8(instr uint16) {
	f := extract(instr)
	vx, vy := p.Regs.V[f.x], p.Regs.V[f.y]

	switch f.z {
	case 0x0:
		p.Regs.V[f.x] = vy
	case 0x1:
		p.Regs.V[f.x] = vx | vy
	case 0x2:
		p.Regs.V[f.x] = vx & vy
	case 0x3:
		p.Regs.V[f.x] = vx ^ vy
	case 0x4:
		sum := uint16(vx) + uint16(vy)
		p.Regs.V[f.x] = byte(sum)
		p.Regs.V[0xF] = boolByte(sum > 0xFF)
	case 0x5:
		p.Regs.V[f.x] = vx - vy
		p.Regs.V[0xF] = boolByte(vx > vy)
	case 0x6:
		p.Regs.V[0xF] = vx & 1
		p.Regs.V[f.x] = vx >> 1
	case 0x7:
		p.Regs.V[f.x] = vy - vx
		p.Regs.V[0xF] = boolByte(vy > vx)
	case 0xE:
		p.Regs.V[0xF] = (vx & 0x80) >> 7
		p.Regs.V[f.x] = vx << 1
	}
	p.Regs.PC += 2
}

func (p *Process) op9(instr uint16) {
	f := extract(instr)
	if p.Regs.V[f.x] != p.Regs.V[f.y] {
		p.Regs.PC += 4
	} else {
		p.Regs.PC += 2
	}
}

func (p *Process) opA(instr uint16) {
	p.Regs.I = extract(instr).nnn
	p.Regs.PC += 2
}

func (p *Process) opB(instr uint16) {
	p.Regs.PC = extract(instr).nnn + uint16(p.Regs.V[0])
}

func (p *Process) opC(instr uint16) {
	f := extract(instr)
	p.Regs.V[f.x] = byte(randSource.Uint32()) & f.kk
	p.Regs.PC += 2
}

func (p *Process) opD(instr uint16) error {
	f := extract(instr)
	x := int(p.Regs.V[f.x])
	y := int(p.Regs.V[f.y])

	sprite, err := p.ReadBytes(uint32(p.Regs.I), int(f.z))
	if err != nil {
		return err
	}
	collision := p.Display.DrawSprite(sprite, x, y)
	p.Regs.V[0xF] = boolByte(collision)

	p.Regs.PC += 2
	return nil
}

func (p *Process) opE(instr uint16) {
	f := extract(instr)
	switch f.kk {
	case 0x9E:
		if p.IsKeyDown(p.Regs.V[f.x]) {
			p.Regs.PC += 4
		} else {
			p.Regs.PC += 2
		}
	case 0xA1:
		if !p.IsKeyDown(p.Regs.V[f.x]) {
			p.Regs.PC += 4
		} else {
			p.Regs.PC += 2
		}
	default:
		p.Regs.PC += 2
	}
}

// opF covers timers, I/key/BCD/register-block transfers keyed on the low
// byte. FX0A blocks (without advancing PC) until a key is observed; every
// other variant always completes and advances PC by 2.
func (p *Process) opF(instr uint16) (Outcome, error) {
	f := extract(instr)

	switch f.kk {
	case 0x07:
		p.Regs.V[f.x] = p.Regs.DT
		p.Regs.PC += 2
	case 0x0A:
		key, ok := p.LastKey()
		if !ok {
			return Blocked, nil
		}
		p.Regs.V[f.x] = key
		p.Regs.PC += 2
	case 0x15:
		p.Regs.DT = p.Regs.V[f.x]
		p.Regs.PC += 2
	case 0x18:
		p.Regs.ST = p.Regs.V[f.x]
		p.Regs.PC += 2
	case 0x1E:
		p.Regs.I += uint16(p.Regs.V[f.x])
		p.Regs.PC += 2
	case 0x29:
		p.Regs.I = uint16(p.Regs.V[f.x]) * 5
		p.Regs.PC += 2
	case 0x33:
		val := p.Regs.V[f.x]
		if err := p.WriteU8(uint32(p.Regs.I), val/100); err != nil {
			return Completed, err
		}
		if err := p.WriteU8(uint32(p.Regs.I)+1, (val%100)/10); err != nil {
			return Completed, err
		}
		if err := p.WriteU8(uint32(p.Regs.I)+2, val%10); err != nil {
			return Completed, err
		}
		p.Regs.PC += 2
	case 0x55:
		for i := 0; i <= int(f.x); i++ {
			if err := p.WriteU8(uint32(p.Regs.I)+uint32(i), p.Regs.V[i]); err != nil {
				return Completed, err
			}
		}
		p.Regs.I += uint16(f.x) + 1
		p.Regs.PC += 2
	case 0x65:
		for i := 0; i <= int(f.x); i++ {
			v, err := p.ReadU8(uint32(p.Regs.I) + uint32(i))
			if err != nil {
				return Completed, err
			}
			p.Regs.V[i] = v
		}
		p.Regs.I += uint16(f.x) + 1
		p.Regs.PC += 2
	default:
		p.Regs.PC += 2
	}
	return Completed, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

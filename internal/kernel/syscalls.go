package kernel

import (
	"chip8os/internal/display"
	"chip8os/internal/syscall"
	"chip8os/internal/vm"
)

func displayModeFor(mode vm.ConsoleMode) display.Mode {
	if mode == vm.ConsoleDisplay {
		return display.ModeConsole
	}
	return display.ModeChip8
}

// fail sets the guest error-return convention (V[0]=code, V[0xF]=1) and
// always reports Completed, matching spec.md §4.6's "handlers always return
// successfully to the scheduler."
func fail(p *vm.Process, code byte) vm.Outcome {
	p.Regs.V[0] = code
	p.Regs.V[0xF] = 1
	return vm.Completed
}

func succeed(p *vm.Process, result byte) vm.Outcome {
	p.Regs.V[0] = result
	p.Regs.V[0xF] = 0
	return vm.Completed
}

func sysSpawn(k syscall.Kernel, _ uint32, p *vm.Process) vm.Outcome {
	namePtr, err := syscall.ReadArg(p, 0)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	nameLen, err := syscall.ReadArg(p, 1)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	pages, err := syscall.ReadArg(p, 2)
	if err != nil {
		pages = 1
	}

	nameBytes, err := p.ReadBytes(uint32(namePtr), int(nameLen))
	if err != nil {
		return fail(p, ErrInvalid)
	}

	path, err := k.ResolveROMPath(string(nameBytes))
	if err != nil {
		return fail(p, ErrIO)
	}

	childPid, err := k.SpawnFromROM(path, int(pages))
	if err != nil {
		return fail(p, ErrIO)
	}
	return succeed(p, byte(childPid&0xFF))
}

func sysExit(k syscall.Kernel, pid uint32, p *vm.Process) vm.Outcome {
	code, err := syscall.ReadArg(p, 0)
	if err != nil {
		code = 0
	}
	k.MarkPendingExit(pid, byte(code))
	p.Regs.V[0xF] = 0
	return vm.Completed
}

func sysWait(k syscall.Kernel, pid uint32, p *vm.Process) vm.Outcome {
	targetArg, err := syscall.ReadArg(p, 0)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	target := uint32(targetArg)

	state, exitCode, found := k.ProcState(target)
	if !found {
		return fail(p, ErrInvalid)
	}
	if procState(state) == stateExited {
		return succeed(p, exitCode)
	}

	k.MarkPendingWaitForPid(pid, target)
	return vm.Blocked
}

func sysYield(_ syscall.Kernel, _ uint32, p *vm.Process) vm.Outcome {
	p.Regs.V[0xF] = 0
	return vm.Yielded
}

func sysWrite(k syscall.Kernel, pid uint32, p *vm.Process) vm.Outcome {
	buf, err := syscall.ReadArg(p, 0)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	length, err := syscall.ReadArg(p, 1)
	if err != nil {
		return fail(p, ErrInvalid)
	}

	data, err := p.ReadBytes(uint32(buf), int(length))
	if err != nil {
		return fail(p, ErrInvalid)
	}

	var writeErr error
	if p.ConsoleMode == vm.ConsoleDisplay {
		writeErr = k.WriteConsole(pid, data)
	} else {
		writeErr = k.WriteStdout(data)
	}
	if writeErr != nil {
		return fail(p, ErrIO)
	}
	return succeed(p, clampByte(len(data)))
}

// sysRead sources from the host input queue in Host console mode, or from
// the calling process's own console input queue in Display console mode
// (spec.md §4.6, "per current input mode and console mode").
func sysRead(k syscall.Kernel, pid uint32, p *vm.Process) vm.Outcome {
	buf, err := syscall.ReadArg(p, 0)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	length, err := syscall.ReadArg(p, 1)
	if err != nil {
		return fail(p, ErrInvalid)
	}

	mode := p.InputMode
	if p.ConsoleMode == vm.ConsoleDisplay {
		return readFromConsoleQueue(k, pid, p, buf, length, mode)
	}

	switch mode {
	case vm.InputLine:
		idx, hasNewline := k.FindNewline()
		if !hasNewline {
			k.MarkPendingWaitForRead(pid, buf, length, mode)
			return vm.Blocked
		}
		count := min(int(length), idx+1)
		data := k.PopInput(count)
		return deliverInline(p, buf, data)
	case vm.InputByte:
		if k.InputLen() == 0 {
			k.MarkPendingWaitForRead(pid, buf, length, mode)
			return vm.Blocked
		}
		count := min(int(length), k.InputLen())
		data := k.PopInput(count)
		return deliverInline(p, buf, data)
	default:
		return fail(p, ErrInvalid)
	}
}

// readFromConsoleQueue reads from p.ConsoleInput, the per-process queue
// routeDisplayConsoleInput fills from the display's keyboard text capture.
// A block here is resolved later by routeDisplayConsoleInput, not by
// push_input, since this queue never sees host stdin.
func readFromConsoleQueue(k syscall.Kernel, pid uint32, p *vm.Process, buf, length uint16, mode vm.InputMode) vm.Outcome {
	switch mode {
	case vm.InputLine:
		idx, hasNewline := findNewlineIn(p.ConsoleInput)
		if !hasNewline {
			k.MarkPendingWaitForRead(pid, buf, length, mode)
			return vm.Blocked
		}
		count := min(int(length), idx+1)
		return deliverInline(p, buf, popFrom(&p.ConsoleInput, count))
	case vm.InputByte:
		if len(p.ConsoleInput) == 0 {
			k.MarkPendingWaitForRead(pid, buf, length, mode)
			return vm.Blocked
		}
		count := min(int(length), len(p.ConsoleInput))
		return deliverInline(p, buf, popFrom(&p.ConsoleInput, count))
	default:
		return fail(p, ErrInvalid)
	}
}

// deliverInline writes data into the calling process's own buffer when a
// read syscall is satisfied immediately, without going through the
// blocked-reader wake path in unblockReaders.
func deliverInline(p *vm.Process, buf uint16, data []byte) vm.Outcome {
	if err := p.WriteBytes(uint32(buf), data); err != nil {
		return fail(p, ErrInvalid)
	}
	return succeed(p, clampByte(len(data)))
}

func sysInputMode(_ syscall.Kernel, _ uint32, p *vm.Process) vm.Outcome {
	modeArg, err := syscall.ReadArg(p, 0)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	switch modeArg {
	case 0:
		p.InputMode = vm.InputLine
	case 1:
		p.InputMode = vm.InputByte
	default:
		return fail(p, ErrInvalid)
	}
	p.Regs.V[0xF] = 0
	return vm.Completed
}

func sysConsoleMode(_ syscall.Kernel, _ uint32, p *vm.Process) vm.Outcome {
	modeArg, err := syscall.ReadArg(p, 0)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	switch modeArg {
	case 0:
		p.ConsoleMode = vm.ConsoleHost
	case 1:
		p.ConsoleMode = vm.ConsoleDisplay
	default:
		return fail(p, ErrInvalid)
	}
	p.ConsoleInput = nil
	p.Display.SetMode(displayModeFor(p.ConsoleMode))
	p.Regs.V[0xF] = 0
	return vm.Completed
}

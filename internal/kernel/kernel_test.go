package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chip8os/internal/display"
	"chip8os/internal/memory"
	"chip8os/internal/vm"
)

func makeKernel(t *testing.T) (*Kernel, string) {
	t.Helper()
	root := t.TempDir()
	k, err := New(memory.NewArena(), root, func() display.Device { return display.NewHeadless() })
	require.NoError(t, err)
	require.NoError(t, k.RegisterBaseSyscalls())
	return k, root
}

func writeOpcode(t *testing.T, p *vm.Process, addr, opcode uint16) {
	t.Helper()
	require.NoError(t, p.WriteBytes(uint32(addr), []byte{byte(opcode >> 8), byte(opcode)}))
}

func writeFrame(t *testing.T, p *vm.Process, base uint16, args []uint16) {
	t.Helper()
	data := []byte{byte(1 + len(args)*2)}
	for _, arg := range args {
		data = append(data, byte(arg>>8), byte(arg))
	}
	require.NoError(t, p.WriteBytes(uint32(base), data))
}

func setInputMode(t *testing.T, p *vm.Process, mode uint16) {
	t.Helper()
	writeFrame(t, p, 0x360, []uint16{mode})
	p.Regs.I = 0x360
	writeOpcode(t, p, p.Regs.PC, 0x0112)
}

func setConsoleMode(t *testing.T, p *vm.Process, mode uint16) {
	t.Helper()
	writeFrame(t, p, 0x370, []uint16{mode})
	p.Regs.I = 0x370
	writeOpcode(t, p, p.Regs.PC, 0x0113)
}

func TestSysWriteSetsV0AndVF(t *testing.T) {
	k, _ := makeKernel(t)
	pid, err := k.SpawnProcess(1)
	require.NoError(t, err)

	p, _ := k.Process(pid)
	require.NoError(t, p.WriteBytes(0x320, []byte{0x00}))
	writeFrame(t, p, 0x300, []uint16{0x0320, 1})
	p.Regs.I = 0x300
	writeOpcode(t, p, 0x200, 0x0110)

	outcome, err := k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Completed, outcome)
	assert.Equal(t, byte(1), p.Regs.V[0])
	assert.Equal(t, byte(0), p.Regs.V[0xF])
}

func TestSysReadCopiesInput(t *testing.T) {
	k, _ := makeKernel(t)
	pid, err := k.SpawnProcess(1)
	require.NoError(t, err)

	p, _ := k.Process(pid)
	setInputMode(t, p, 1)
	_, err = k.StepProcess(pid)
	require.NoError(t, err)

	writeFrame(t, p, 0x300, []uint16{0x0340, 2})
	p.Regs.I = 0x300
	writeOpcode(t, p, p.Regs.PC, 0x0111)

	k.PushInput([]byte("ok"))
	outcome, err := k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Completed, outcome)

	data, err := p.ReadBytes(0x340, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, byte(2), p.Regs.V[0])
	assert.Equal(t, byte(0), p.Regs.V[0xF])
}

func TestSysReadLineBlocksUntilNewline(t *testing.T) {
	k, _ := makeKernel(t)
	pid, err := k.SpawnProcess(1)
	require.NoError(t, err)

	p, _ := k.Process(pid)
	writeFrame(t, p, 0x300, []uint16{0x0340, 4})
	p.Regs.I = 0x300
	writeOpcode(t, p, p.Regs.PC, 0x0111)

	k.PushInput([]byte("hi"))
	outcome, err := k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Blocked, outcome)
	state, _, ok := k.ProcState(pid)
	require.True(t, ok)
	assert.Equal(t, int(stateBlocked), state)

	k.PushInput([]byte("\n"))
	state, _, ok = k.ProcState(pid)
	require.True(t, ok)
	assert.Equal(t, int(stateRunning), state)

	data, err := p.ReadBytes(0x340, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi\n"), data)
	assert.Equal(t, byte(3), p.Regs.V[0])
	assert.Equal(t, byte(0), p.Regs.V[0xF])
}

func TestSysReadRejectsInvalidBuffer(t *testing.T) {
	k, _ := makeKernel(t)
	pid, err := k.SpawnProcess(1)
	require.NoError(t, err)

	p, _ := k.Process(pid)
	setInputMode(t, p, 1)
	_, err = k.StepProcess(pid)
	require.NoError(t, err)

	writeFrame(t, p, 0x300, []uint16{0x2000, 1})
	p.Regs.I = 0x300
	writeOpcode(t, p, p.Regs.PC, 0x0111)

	k.PushInput([]byte("z"))
	outcome, err := k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Completed, outcome)
	assert.Equal(t, ErrInvalid, p.Regs.V[0])
	assert.Equal(t, byte(1), p.Regs.V[0xF])
}

func TestSysWaitUnblocksOnExit(t *testing.T) {
	k, _ := makeKernel(t)
	pidTarget, err := k.SpawnProcess(1)
	require.NoError(t, err)
	pidWaiter, err := k.SpawnProcess(1)
	require.NoError(t, err)

	waiter, _ := k.Process(pidWaiter)
	writeFrame(t, waiter, 0x300, []uint16{uint16(pidTarget)})
	waiter.Regs.I = 0x300
	writeOpcode(t, waiter, 0x200, 0x0103)

	outcome, err := k.StepProcess(pidWaiter)
	require.NoError(t, err)
	assert.Equal(t, vm.Blocked, outcome)
	state, _, ok := k.ProcState(pidWaiter)
	require.True(t, ok)
	assert.Equal(t, int(stateBlocked), state)

	target, _ := k.Process(pidTarget)
	writeFrame(t, target, 0x320, []uint16{0x002A})
	target.Regs.I = 0x320
	writeOpcode(t, target, 0x200, 0x0102)

	_, err = k.StepProcess(pidTarget)
	require.NoError(t, err)

	state, _, ok = k.ProcState(pidWaiter)
	require.True(t, ok)
	assert.Equal(t, int(stateRunning), state)
	assert.Equal(t, byte(0x2A), waiter.Regs.V[0])
	assert.Equal(t, byte(0), waiter.Regs.V[0xF])
}

func TestSysSpawnCreatesProcess(t *testing.T) {
	k, root := makeKernel(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "child.ch8"), []byte{0x01, 0x02}, 0o644))

	pid, err := k.SpawnProcess(1)
	require.NoError(t, err)

	p, _ := k.Process(pid)
	require.NoError(t, p.WriteBytes(0x340, []byte("child.ch8")))
	writeFrame(t, p, 0x300, []uint16{0x0340, 9, 1})
	p.Regs.I = 0x300
	writeOpcode(t, p, 0x200, 0x0101)

	outcome, err := k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Completed, outcome)
	assert.Equal(t, byte(0), p.Regs.V[0xF])

	childPid := uint32(p.Regs.V[0])
	_, ok := k.Process(childPid)
	assert.True(t, ok)
}

func TestResolveROMPathRejectsAbsoluteAndEscapingPaths(t *testing.T) {
	k, _ := makeKernel(t)

	_, err := k.ResolveROMPath("/etc/passwd")
	assert.Error(t, err)

	_, err = k.ResolveROMPath("../escape.ch8")
	assert.Error(t, err)
}

func TestFsListOpenReadClose(t *testing.T) {
	k, root := makeKernel(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "a.txt"), []byte("hello"), 0o644))

	pid, err := k.SpawnProcess(1)
	require.NoError(t, err)
	p, _ := k.Process(pid)

	require.NoError(t, p.WriteBytes(0x400, []byte("data")))
	writeFrame(t, p, 0x300, []uint16{0x0400, 4, 0x0500, 8})
	p.Regs.I = 0x300
	writeOpcode(t, p, 0x200, 0x0120)

	outcome, err := k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Completed, outcome)
	assert.Equal(t, byte(0), p.Regs.V[0xF])
	assert.Equal(t, byte(1), p.Regs.V[0])

	require.NoError(t, p.WriteBytes(0x400, []byte("data/a.txt")))
	writeFrame(t, p, 0x300, []uint16{0x0400, 10, 0})
	p.Regs.I = 0x300
	writeOpcode(t, p, p.Regs.PC, 0x0121)

	outcome, err = k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Completed, outcome)
	assert.Equal(t, byte(0), p.Regs.V[0xF])
	fd := p.Regs.V[0]

	writeFrame(t, p, 0x300, []uint16{uint16(fd), 0x0600, 16})
	p.Regs.I = 0x300
	writeOpcode(t, p, p.Regs.PC, 0x0122)

	outcome, err = k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Completed, outcome)
	assert.Equal(t, byte(0), p.Regs.V[0xF])
	assert.Equal(t, byte(5), p.Regs.V[0])

	data, err := p.ReadBytes(0x600, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	writeFrame(t, p, 0x300, []uint16{uint16(fd)})
	p.Regs.I = 0x300
	writeOpcode(t, p, p.Regs.PC, 0x0123)

	outcome, err = k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Completed, outcome)
	assert.Equal(t, byte(0), p.Regs.V[0xF])
}

func TestFsOpenRejectsDirectory(t *testing.T) {
	k, root := makeKernel(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "data"), 0o755))

	pid, err := k.SpawnProcess(1)
	require.NoError(t, err)
	p, _ := k.Process(pid)

	require.NoError(t, p.WriteBytes(0x400, []byte("data")))
	writeFrame(t, p, 0x300, []uint16{0x0400, 4, 0})
	p.Regs.I = 0x300
	writeOpcode(t, p, 0x200, 0x0121)

	outcome, err := k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Completed, outcome)
	assert.Equal(t, ErrIsDir, p.Regs.V[0])
	assert.Equal(t, byte(1), p.Regs.V[0xF])
}

func TestSysReadRoutesByConsoleMode(t *testing.T) {
	k, _ := makeKernel(t)
	pid, err := k.SpawnProcess(1)
	require.NoError(t, err)

	p, _ := k.Process(pid)
	setConsoleMode(t, p, uint16(vm.ConsoleDisplay))
	outcome, err := k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Completed, outcome)

	writeFrame(t, p, 0x300, []uint16{0x0340, 4})
	p.Regs.I = 0x300
	writeOpcode(t, p, p.Regs.PC, 0x0111)

	k.PushInput([]byte("hi\n"))
	outcome, err = k.StepProcess(pid)
	require.NoError(t, err)
	assert.Equal(t, vm.Blocked, outcome, "display console mode must not drain the host queue")
	state, _, ok := k.ProcState(pid)
	require.True(t, ok)
	assert.Equal(t, int(stateBlocked), state)

	headless, ok := p.Display.(*display.Headless)
	require.True(t, ok)
	headless.QueueText([]byte("ok\n"))
	k.routeDisplayConsoleInput()

	state, _, ok = k.ProcState(pid)
	require.True(t, ok)
	assert.Equal(t, int(stateRunning), state)

	data, err := p.ReadBytes(0x340, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok\n"), data)
	assert.Equal(t, byte(3), p.Regs.V[0])
	assert.Equal(t, byte(0), p.Regs.V[0xF])
}

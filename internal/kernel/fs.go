package kernel

import (
	"errors"
	"os"

	"chip8os/internal/syscall"
	"chip8os/internal/vm"
)

// fs_list/fs_open/fs_read/fs_close are named by spec.md §4.6 but absent
// from the retrieved kernel draft; they follow the same
// read-args-then-never-propagate-an-error idiom as the handlers in
// syscalls.go, scoped to the sandbox resolveSandboxPath already enforces.

const (
	fsKindFile = 0
	fsKindDir  = 1
)

// fsRecordSize is the fixed-layout directory entry record fs_list writes:
// 1 name-length byte, 64 name bytes, 1 kind byte, 4 big-endian size bytes.
const fsRecordSize = 1 + MaxFilenameLen + 1 + 4

func readPathArg(k syscall.Kernel, p *vm.Process, pathPtr, pathLen uint16) (string, error) {
	raw, err := p.ReadBytes(uint32(pathPtr), int(pathLen))
	if err != nil {
		return "", &syscall.FSError{Code: ErrInvalid, Err: err}
	}
	resolved, err := k.ResolveROMPath(string(raw))
	if err != nil {
		return "", &syscall.FSError{Code: ErrPath, Err: err}
	}
	return resolved, nil
}

func failFS(p *vm.Process, err error) vm.Outcome {
	var fsErr *syscall.FSError
	if errors.As(err, &fsErr) {
		return fail(p, fsErr.Code)
	}
	return fail(p, ErrIO)
}

func sysFsList(k syscall.Kernel, _ uint32, p *vm.Process) vm.Outcome {
	pathPtr, err := syscall.ReadArg(p, 0)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	pathLen, err := syscall.ReadArg(p, 1)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	outPtr, err := syscall.ReadArg(p, 2)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	maxEntries, err := syscall.ReadArg(p, 3)
	if err != nil {
		return fail(p, ErrInvalid)
	}

	dirPath, err := readPathArg(k, p, pathPtr, pathLen)
	if err != nil {
		return failFS(p, err)
	}

	entries, err := k.ListDir(dirPath)
	if err != nil {
		return failFS(p, err)
	}
	if len(entries) > MaxDirEntries {
		return fail(p, ErrInvalid)
	}

	count := min(len(entries), int(maxEntries))
	for i := 0; i < count; i++ {
		record, err := encodeDirEntry(entries[i])
		if err != nil {
			return fail(p, ErrNameTooLong)
		}
		addr := uint32(outPtr) + uint32(i*fsRecordSize)
		if err := p.WriteBytes(addr, record); err != nil {
			return fail(p, ErrInvalid)
		}
	}
	return succeed(p, clampByte(count))
}

func encodeDirEntry(entry syscall.DirEntry) ([]byte, error) {
	if len(entry.Name) > MaxFilenameLen {
		return nil, os.ErrInvalid
	}
	record := make([]byte, fsRecordSize)
	record[0] = byte(len(entry.Name))
	copy(record[1:1+MaxFilenameLen], entry.Name)

	kind := byte(fsKindFile)
	if entry.IsDir {
		kind = fsKindDir
	}
	record[1+MaxFilenameLen] = kind

	size := uint32(entry.Size)
	sizeOff := 1 + MaxFilenameLen + 1
	record[sizeOff] = byte(size >> 24)
	record[sizeOff+1] = byte(size >> 16)
	record[sizeOff+2] = byte(size >> 8)
	record[sizeOff+3] = byte(size)
	return record, nil
}

func sysFsOpen(k syscall.Kernel, pid uint32, p *vm.Process) vm.Outcome {
	pathPtr, err := syscall.ReadArg(p, 0)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	pathLen, err := syscall.ReadArg(p, 1)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	// flags (arg 2) are reserved for future read/write mode selection; the
	// current core only opens files read-only.
	if _, err := syscall.ReadArg(p, 2); err != nil {
		return fail(p, ErrInvalid)
	}

	path, err := readPathArg(k, p, pathPtr, pathLen)
	if err != nil {
		return failFS(p, err)
	}

	fd, err := k.OpenFile(pid, path)
	if err != nil {
		return failFS(p, err)
	}
	return succeed(p, fd)
}

func sysFsRead(k syscall.Kernel, pid uint32, p *vm.Process) vm.Outcome {
	fdArg, err := syscall.ReadArg(p, 0)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	buf, err := syscall.ReadArg(p, 1)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	length, err := syscall.ReadArg(p, 2)
	if err != nil {
		return fail(p, ErrInvalid)
	}

	data, err := k.ReadFile(pid, byte(fdArg), int(length))
	if err != nil {
		return failFS(p, err)
	}
	if err := p.WriteBytes(uint32(buf), data); err != nil {
		return fail(p, ErrInvalid)
	}
	return succeed(p, clampByte(len(data)))
}

func sysFsClose(k syscall.Kernel, pid uint32, p *vm.Process) vm.Outcome {
	fdArg, err := syscall.ReadArg(p, 0)
	if err != nil {
		return fail(p, ErrInvalid)
	}
	if err := k.CloseFile(pid, byte(fdArg)); err != nil {
		return failFS(p, err)
	}
	p.Regs.V[0xF] = 0
	return vm.Completed
}

// Command chip8os boots one process per ROM argument into a shared kernel
// and runs them to completion (or interactively, under --debug).
package main

import (
	"flag"
	"fmt"
	"os"

	"chip8os/internal/display"
	"chip8os/internal/inspector"
	"chip8os/internal/kernel"
	"chip8os/internal/memory"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "chip8os:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("chip8os", flag.ContinueOnError)
	root := fs.String("root", ".", "sandbox root ROMs and fs_* syscalls resolve against")
	debug := fs.Bool("debug", false, "attach the interactive inspector to the first spawned process instead of running to completion")
	if err := fs.Parse(args); err != nil {
		return err
	}

	roms := fs.Args()
	if len(roms) == 0 {
		return fmt.Errorf("usage: chip8os [--root dir] [--debug] <rom...>")
	}

	arena := memory.NewArena()
	k, err := kernel.New(arena, *root, func() display.Device { return display.NewHeadless() })
	if err != nil {
		return fmt.Errorf("build kernel: %w", err)
	}
	if err := k.RegisterBaseSyscalls(); err != nil {
		return fmt.Errorf("register syscalls: %w", err)
	}

	var firstPid uint32
	for i, rom := range roms {
		pid, err := k.SpawnFromName(rom, 1)
		if err != nil {
			return fmt.Errorf("spawn %s: %w", rom, err)
		}
		if i == 0 {
			firstPid = pid
		}
	}

	if *debug {
		return inspector.Run(k, firstPid)
	}
	return k.Run()
}

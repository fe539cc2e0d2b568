package vm

import (
	"math/rand/v2"
	"os"
	"time"
)

// randSource backs the CXNN "random AND mask" opcode. The original runtime
// draws from the rand crate; no example repo in the corpus imports a
// third-party randomness library for a CPU core, so this stays on the
// standard library (see DESIGN.md).
var randSource = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(os.Getpid())))

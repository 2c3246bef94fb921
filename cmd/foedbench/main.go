// Command foedbench is a small acceptance harness that boots an Engine,
// registers one overwrite procedure, and drives it through a fixed
// workload, printing commit/abort counts, the elapsed time and the current
// global epoch. It
// stands in for the full multi-scenario benchmark suite (spec §7) without
// pulling in a CLI framework: the Non-goals already exclude a polished CLI
// example program, and flag.Parse is all this harness needs (see
// DESIGN.md for the urfave/cli drop).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shino/foedus/engine"
	"github.com/shino/foedus/engineconfig"
	"github.com/shino/foedus/proc"
)

func main() {
	configPath := flag.String("config", "", "path to an engine TOML config; empty uses defaults")
	dataDir := flag.String("data-dir", "", "working directory for log/savepoint/storage files (default: a temp dir)")
	ops := flag.Int("ops", 10000, "number of overwrite transactions to run")
	flag.Parse()

	dir := *dataDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "foedbench-")
		if err != nil {
			log.Fatalf("mkdir temp dir: %v", err)
		}
	}

	opts := engineconfig.Default()
	if *configPath != "" {
		loaded, err := engineconfig.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		opts = loaded
	}
	opts.Log.FolderPathPattern = dir + "/log"
	opts.Savepoint.Path = dir + "/savepoint.toml"
	opts.Storage.ArrayDBPath = dir + "/array"
	opts.Storage.HashDBPath = dir + "/hash"

	e, err := engine.New(opts, nil)
	if err != nil {
		log.Fatalf("building engine: %v", err)
	}

	const slotSize, numSlots = 64, 1 << 16
	arr, err := e.CreateArrayStorage("bench", slotSize, numSlots)
	if err != nil {
		log.Fatalf("creating array storage: %v", err)
	}

	if err := e.RegisterProc("overwrite", func(pc *proc.Context) error {
		slot := uint64(0)
		if len(pc.Session.Input()) >= 8 {
			for _, b := range pc.Session.Input()[:8] {
				slot = slot<<8 | uint64(b)
			}
		}
		return arr.Overwrite(pc.Xct, slot%uint64(numSlots), 0, pc.Session.Input())
	}); err != nil {
		log.Fatalf("registering procedure: %v", err)
	}

	e.Start()
	defer e.Stop()

	// Each call impersonates "overwrite" with no thread argument (spec
	// §4.4): the pool itself picks whichever worker is idle, so driving
	// *ops calls here needs no load-balancing logic of its own.
	start := time.Now()
	committed, aborted := 0, 0
	for i := 0; i < *ops; i++ {
		payload := []byte(fmt.Sprintf("txn-%08d", i))
		if _, err := e.Executor.CallSynchronous("overwrite", payload, nil); err != nil {
			aborted++
			continue
		}
		committed++
	}
	elapsed := time.Since(start)

	fmt.Printf("committed=%d aborted=%d elapsed=%s epoch=%d\n",
		committed, aborted, elapsed, e.XctMgr.CurrentGlobalEpoch())
}

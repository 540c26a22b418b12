package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/tendermint/tendermint/libs/log"

	"hotstuff_demo/libs/utils"
)

var logger = log.NewNopLogger()

func main() {
	var durationInt, rate, connections int
	var verbose bool

	flagSet := flag.NewFlagSet("hs-bench", flag.ExitOnError)
	flagSet.IntVar(&connections, "c", 1, "Connections to keep open per endpoint")
	flagSet.IntVar(&durationInt, "T", 10, "Exit after the specified amount of time in seconds")
	flagSet.IntVar(&rate, "r", 100, "Commands per second to send on each connection")
	flagSet.BoolVar(&verbose, "v", false, "Verbose output")

	flagSet.Usage = func() {
		fmt.Println(`Command benchmarking tool for the replica cluster.

Usage:
	hs-bench [-c 1] [-T 10] [-r 100] [endpoints]

Examples:
	hs-bench 127.0.0.1:26657`)
		fmt.Println("Flags:")
		flagSet.PrintDefaults()
	}

	flagSet.Parse(os.Args[1:])

	if flagSet.NArg() == 0 {
		flagSet.Usage()
		os.Exit(1)
	}

	if verbose {
		logger = log.NewTMLogger(log.NewSyncWriter(os.Stdout))
	}

	endpoints := strings.Split(flagSet.Arg(0), ",")

	sendTimer := metrics.NewTimer()
	transacters := make([]*transacter, len(endpoints))
	for i, e := range endpoints {
		t := newTransacter(e, connections, rate)
		t.SetLogger(logger)
		transacters[i] = t
	}

	for _, t := range transacters {
		start := time.Now()
		if err := t.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		sendTimer.UpdateSince(start)
	}

	duration := time.Duration(durationInt) * time.Second
	time.Sleep(duration)

	connectLatencies := make([]float64, 0, len(transacters))
	for range transacters {
		connectLatencies = append(connectLatencies, sendTimer.Mean())
	}

	for _, t := range transacters {
		t.Stop()
	}

	total := int64(len(transacters)*connections*rate) * int64(durationInt)
	fmt.Printf("sent ~%d commands over %ds\n", total, durationInt)
	fmt.Printf("connect latency ms: mean=%.3f min=%.3f max=%.3f\n",
		utils.Mean(connectLatencies...)/1e6,
		utils.Min(connectLatencies...)/1e6,
		utils.Max(connectLatencies...)/1e6)
}

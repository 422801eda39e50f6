package main

import (
	"flag"
	"fmt"
	"os"
)

type args struct {
	dataDir     string
	nodes       int
	genesis     bool
	metricsAddr string
}

func ParseArgs() (args, error) {
	flag.Usage = func() {
		fmt.Printf("Run keygen, signing and handover ceremonies between local nodes.\n\n")
		fmt.Printf("Usage: %s [options]\n", os.Args[0])
		flag.PrintDefaults()
	}
	dataDir := flag.String("data-dir", "data", "Data directory for config and keystores")
	nodes := flag.Int("nodes", 4, "Number of nodes in the initial authority set")
	genesis := flag.Bool("genesis", false, "Deal the first key locally instead of running keygen")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")

	flag.Parse()

	if *nodes < 2 {
		return args{}, fmt.Errorf("need at least 2 nodes, got %d", *nodes)
	}
	return args{
		*dataDir,
		*nodes,
		*genesis,
		*metricsAddr,
	}, nil
}

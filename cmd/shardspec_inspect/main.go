// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// shardspec_inspect prints, for each tensor of a job file, how it is sharded over the ranks of the job:
// the grid coordinates of each rank and the slice of the tensor it holds.
//
// Usage:
//
//	shardspec_inspect -job=job.hcl -world_size=8 [-rank=3] [-tensors=weights,bias]
package main

import (
	"flag"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/shardrt/pkg/support/fsutil"
	"github.com/gomlx/shardrt/pkg/support/xslices"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagJob       = flag.String("job", "", "Job file (HCL) describing the tensors and their sharding.")
	flagWorldSize = flag.Int("world_size", 1, "Number of ranks in the job. Available as world_size in the job file.")
	flagRank      = flag.Int("rank", -1, "Only report the given rank. If -1, report all ranks.")
	flagNoColor   = flag.Bool("no_color", false, "Disable colors in the output.")
	flagTensors   = xslices.Flag("tensors", nil, "Comma-separated list of tensors to report. Default is all.",
		func(name string) (string, error) { return name, nil })
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagJob == "" {
		klog.Errorf("Missing -job file to inspect. See 'shardspec_inspect -help'.")
		os.Exit(1)
	}
	if exists, err := fsutil.FileExists(*flagJob); err != nil || !exists {
		klog.Errorf("Job file %q not found (err=%v).", *flagJob, err)
		os.Exit(1)
	}
	if *flagRank >= *flagWorldSize {
		klog.Errorf("-rank=%d is out of -world_size=%d.", *flagRank, *flagWorldSize)
		os.Exit(1)
	}
	profile := termenv.NewOutput(os.Stdout).EnvColorProfile()
	if *flagNoColor {
		profile = termenv.Ascii
	}
	lipgloss.SetColorProfile(profile)
	if err := report(os.Stdout, *flagJob, *flagWorldSize, *flagRank, *flagTensors); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

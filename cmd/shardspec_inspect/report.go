// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gomlx/shardrt/pkg/sharding"
	"github.com/gomlx/shardrt/pkg/sharding/shardfile"
	"github.com/gomlx/shardrt/pkg/support/xslices"
	"github.com/pkg/errors"
)

// report writes the sharding of the tensors of the job file at path. If rank >= 0, only that rank is listed.
// If names is not empty, only the tensors with those names are reported.
func report(w io.Writer, path string, worldSize, rank int, names []string) error {
	ranks := []int{rank}
	if rank < 0 {
		ranks = xslices.Iota(0, worldSize)
	}

	// The job file is evaluated once per rank: expressions may depend on the rank.
	jobs := make([]*shardfile.Job, len(ranks))
	for i, r := range ranks {
		var err error
		jobs[i], err = shardfile.Load(path, worldSize, r)
		if err != nil {
			return err
		}
	}
	if len(jobs) == 0 {
		return errors.Errorf("no ranks to report for world_size=%d", worldSize)
	}

	tensors := jobs[0].Tensors
	if len(names) > 0 {
		tensors = make([]*shardfile.Tensor, 0, len(names))
		for _, name := range names {
			tensor := jobs[0].Tensor(name)
			if tensor == nil {
				return errors.Errorf("tensor %q not found in job file %q", name, path)
			}
			tensors = append(tensors, tensor)
		}
	}
	for _, tensor := range tensors {
		title := fmt.Sprintf("%s %v: %s", tensor.Name, tensor.Shape, tensor.Spec)
		if _, err := fmt.Fprintln(w, titleStyle.Render(title)); err != nil {
			return err
		}
		shard, ok := tensor.Spec.(*sharding.Shard)
		if !ok {
			if _, err := fmt.Fprintf(w, "  full tensor on every rank\n\n"); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "  replica groups: %v\n  shard groups: %v\n", shard.ReplicaGroups(), shard.ShardGroups())

		table := newRankTable("Rank", "Phy", "Logic", "Subgroup", "Slice", "Shard shape")
		for i, r := range ranks {
			spec := jobs[i].Tensor(tensor.Name).Spec.(*sharding.Shard)
			if spec.IsIdle() {
				table.Row(true, strconv.Itoa(r), "-", "-", "-", "idle", "-")
				continue
			}
			begin, end, _ := spec.SliceRange(tensor.Shape)
			table.Row(false, strconv.Itoa(r),
				fmt.Sprint(spec.PhyIndex()), fmt.Sprint(spec.LogicIndex()), fmt.Sprint(spec.SubgroupIndex()),
				formatRange(begin, end), fmt.Sprint(spec.ShardShape(tensor.Shape)))
		}
		if _, err := fmt.Fprintf(w, "%s\n\n", table.Table.Render()); err != nil {
			return err
		}
	}
	return nil
}

// formatRange formats a slice range as "[b0:e0, b1:e1, ...]".
func formatRange(begin, end []int) string {
	parts := make([]string, len(begin))
	for i := range begin {
		parts[i] = fmt.Sprintf("%d:%d", begin[i], end[i])
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

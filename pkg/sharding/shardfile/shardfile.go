// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shardfile loads job files: HCL files describing tensors and how they are sharded.
//
// Example:
//
//	tensor "weights" {
//	  shape          = [1024, 512]
//	  ranks          = range(world_size)
//	  phy_shape      = [world_size / 2, 2]
//	  subgroup_shape = [1, 2]
//	  immutable      = true
//	}
//
//	tensor "bias" {
//	  shape = [512]
//	  kind  = "replicated"
//	}
//
// Expressions can use the variables world_size and rank, and the functions range, min, max and length.
package shardfile

import (
	"slices"

	"github.com/gomlx/shardrt/pkg/sharding"
	"github.com/gomlx/shardrt/pkg/support/fsutil"
	"github.com/gomlx/shardrt/pkg/support/xslices"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Kinds of spec accepted in the "kind" attribute of a tensor block.
const (
	KindShard      = "shard"
	KindReplicated = "replicated"
	KindMirrored   = "mirrored"
)

// Tensor is one tensor block of a job file, with its spec built for the job's rank.
type Tensor struct {
	Name  string
	Shape []int
	Spec  sharding.Spec
}

// Job is the content of a job file, evaluated for one rank.
type Job struct {
	Filename  string
	WorldSize int
	Rank      int
	Tensors   []*Tensor
}

// Tensor returns the tensor with the given name, or nil if there is none.
func (j *Job) Tensor(name string) *Tensor {
	idx := slices.IndexFunc(j.Tensors, func(t *Tensor) bool { return t.Name == name })
	if idx < 0 {
		return nil
	}
	return j.Tensors[idx]
}

type hclJobFile struct {
	Tensors []*hclTensor `hcl:"tensor,block"`
}

type hclTensor struct {
	Name          string `hcl:"name,label"`
	Shape         []int  `hcl:"shape"`
	Kind          string `hcl:"kind,optional"`
	Ranks         []int  `hcl:"ranks,optional"`
	PhyShape      []int  `hcl:"phy_shape,optional"`
	SubgroupShape []int  `hcl:"subgroup_shape,optional"`
	Immutable     bool   `hcl:"immutable,optional"`
}

// EvalContext returns the HCL evaluation context used for the expressions of job files.
func EvalContext(worldSize, rank int) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"world_size": cty.NumberIntVal(int64(worldSize)),
			"rank":       cty.NumberIntVal(int64(rank)),
		},
		Functions: map[string]function.Function{
			"range":  stdlib.RangeFunc,
			"min":    stdlib.MinFunc,
			"max":    stdlib.MaxFunc,
			"length": stdlib.LengthFunc,
		},
	}
}

// Load parses the job file at path and builds the specs of its tensors as seen by rank.
// A leading "~" in path is expanded to the user's home directory.
func Load(path string, worldSize, rank int) (*Job, error) {
	path, err := fsutil.ReplaceTilde(path)
	if err != nil {
		return nil, err
	}
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to parse job file %q", path)
	}
	return decode(file, path, worldSize, rank)
}

// Parse is like Load, but takes the contents of the job file. filename is only used for error messages.
func Parse(src []byte, filename string, worldSize, rank int) (*Job, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to parse job file %q", filename)
	}
	return decode(file, filename, worldSize, rank)
}

func decode(file *hcl.File, filename string, worldSize, rank int) (*Job, error) {
	if worldSize <= 0 {
		return nil, errors.Errorf("invalid world_size %d for job file %q", worldSize, filename)
	}
	var parsed hclJobFile
	diags := gohcl.DecodeBody(file.Body, EvalContext(worldSize, rank), &parsed)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to decode job file %q", filename)
	}
	job := &Job{Filename: filename, WorldSize: worldSize, Rank: rank}
	for _, t := range parsed.Tensors {
		if job.Tensor(t.Name) != nil {
			return nil, errors.Errorf("job file %q: tensor %q defined more than once", filename, t.Name)
		}
		spec, err := t.spec(worldSize, rank)
		if err != nil {
			return nil, errors.WithMessagef(err, "job file %q, tensor %q", filename, t.Name)
		}
		job.Tensors = append(job.Tensors, &Tensor{Name: t.Name, Shape: t.Shape, Spec: spec})
	}
	return job, nil
}

func (t *hclTensor) spec(worldSize, rank int) (sharding.Spec, error) {
	for _, dim := range t.Shape {
		if dim < 0 {
			return nil, errors.Errorf("invalid shape %v", t.Shape)
		}
	}
	switch t.Kind {
	case KindReplicated:
		return sharding.NewReplicated(t.Immutable), nil
	case KindMirrored:
		return sharding.NewMirrored(t.Immutable), nil
	case "", KindShard:
	default:
		return nil, errors.Errorf("unknown kind %q, valid kinds are %q, %q and %q",
			t.Kind, KindShard, KindReplicated, KindMirrored)
	}

	ranks := t.Ranks
	if ranks == nil {
		ranks = xslices.Iota(0, worldSize)
	}
	for _, r := range ranks {
		if r >= worldSize {
			return nil, errors.Errorf("rank %d out of world_size %d", r, worldSize)
		}
	}
	phyShape := t.PhyShape
	if phyShape == nil {
		phyShape = []int{len(ranks)}
	}
	subgroupShape := t.SubgroupShape
	if subgroupShape == nil {
		subgroupShape = xslices.SliceWithValue(len(phyShape), 1)
	}
	shard, err := sharding.NewShard(rank, t.Immutable, ranks, phyShape, subgroupShape)
	if err != nil {
		return nil, err
	}
	if len(t.Shape) != shard.NDim() {
		return nil, errors.Errorf("shape %v has rank %d, but the spec has %d axes", t.Shape, len(t.Shape), shard.NDim())
	}
	logic := make([]int, shard.NDim())
	for i := range logic {
		logic[i] = phyShape[i] / subgroupShape[i]
		if t.Shape[i]%logic[i] != 0 {
			return nil, errors.Errorf("dimension #%d of shape %v is not divisible by its %d shards", i, t.Shape, logic[i])
		}
	}
	return shard, nil
}

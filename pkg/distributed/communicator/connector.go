// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package communicator

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Connector reports the identity of the process in the job, as assigned by the job launcher.
type Connector interface {
	Rank() int
	Size() int
	LocalRank() int
	LocalSize() int
}

// StaticConnector is a Connector with fixed values.
type StaticConnector struct {
	rank, size, localRank, localSize int
}

var _ Connector = (*StaticConnector)(nil)

// NewStaticConnector validates and returns a StaticConnector.
func NewStaticConnector(rank, size, localRank, localSize int) (*StaticConnector, error) {
	if size <= 0 || rank < 0 || rank >= size {
		return nil, errors.Errorf("invalid rank %d for job of size %d", rank, size)
	}
	if localSize <= 0 || localSize > size || localRank < 0 || localRank >= localSize {
		return nil, errors.Errorf("invalid local rank %d for %d local processes (job size %d)", localRank, localSize, size)
	}
	return &StaticConnector{rank: rank, size: size, localRank: localRank, localSize: localSize}, nil
}

// SingleProcess returns the connector of a job with only one process.
func SingleProcess() *StaticConnector {
	return &StaticConnector{rank: 0, size: 1, localRank: 0, localSize: 1}
}

// Rank implements Connector.
func (c *StaticConnector) Rank() int { return c.rank }

// Size implements Connector.
func (c *StaticConnector) Size() int { return c.size }

// LocalRank implements Connector.
func (c *StaticConnector) LocalRank() int { return c.localRank }

// LocalSize implements Connector.
func (c *StaticConnector) LocalSize() int { return c.localSize }

// Environment variables read by EnvConnector, for each value in order of preference:
// the torchrun style variables, then OpenMPI's.
var (
	RankEnvVars      = []string{"RANK", "OMPI_COMM_WORLD_RANK"}
	SizeEnvVars      = []string{"WORLD_SIZE", "OMPI_COMM_WORLD_SIZE"}
	LocalRankEnvVars = []string{"LOCAL_RANK", "OMPI_COMM_WORLD_LOCAL_RANK"}
	LocalSizeEnvVars = []string{"LOCAL_WORLD_SIZE", "OMPI_COMM_WORLD_LOCAL_SIZE"}
)

// lookupInt returns the value of the first set variable, or defaultValue if none is set.
func lookupInt(names []string, defaultValue int) (int, error) {
	for _, name := range names {
		str, found := os.LookupEnv(name)
		if !found || str == "" {
			continue
		}
		value, err := strconv.Atoi(str)
		if err != nil {
			return 0, errors.Wrapf(err, "parsing environment variable %s=%q", name, str)
		}
		return value, nil
	}
	return defaultValue, nil
}

// EnvConnector reads the process identity from the environment variables set by the job launcher.
// If no variable is set, the job is a single process.
//
// When only the global rank/size are given, all processes are assumed to run on the same host.
func EnvConnector() (*StaticConnector, error) {
	rank, err := lookupInt(RankEnvVars, 0)
	if err != nil {
		return nil, err
	}
	size, err := lookupInt(SizeEnvVars, 1)
	if err != nil {
		return nil, err
	}
	localRank, err := lookupInt(LocalRankEnvVars, rank)
	if err != nil {
		return nil, err
	}
	localSize, err := lookupInt(LocalSizeEnvVars, size)
	if err != nil {
		return nil, err
	}
	c, err := NewStaticConnector(rank, size, localRank, localSize)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid job configuration in environment variables")
	}
	klog.V(1).Infof("communicator: process rank %d of %d (local %d of %d)", rank, size, localRank, localSize)
	return c, nil
}

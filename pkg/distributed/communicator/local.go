// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package communicator

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/shardrt/internal/workerspool"
	"github.com/gomlx/shardrt/pkg/core/dtypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LocalName is the name of the in-process implementation.
const LocalName = "local"

// DefaultLocalGroup is the group joined by "local" communicators created without config.
const DefaultLocalGroup = "default"

func init() {
	Register(LocalName, newLocal)
}

// Local is a Communicator whose collectives run among the communicators of the same group in the same
// process, over host memory. Each participant is usually one goroutine simulating one rank, with its own
// Manager. The group is named by the config ("local:<group>") and completes once Size ranks joined.
//
// Its CommHandle is the Local itself, which implements Collectives.
type Local struct {
	Info
	group *localGroup
	seq   atomic.Uint64
}

var (
	_ Communicator = (*Local)(nil)
	_ Collectives  = (*Local)(nil)
)

func newLocal(connector Connector, config string) (Communicator, error) {
	name := config
	if name == "" {
		name = DefaultLocalGroup
	}
	l := &Local{Info: NewInfo(LocalName, connector, 0)}
	group, err := groups.join(name, l.Rank(), l.Size())
	if err != nil {
		return nil, err
	}
	l.group = group
	return l, nil
}

// CommHandle implements Communicator.
func (l *Local) CommHandle() any { return l }

// GroupID returns the unique id of the group, shared by all its members.
func (l *Local) GroupID() uuid.UUID { return l.group.id }

// Finalize implements Communicator: the rank leaves its group.
func (l *Local) Finalize() error {
	if l.group == nil {
		return errors.Errorf("local communicator (rank %d) already finalized", l.Rank())
	}
	groups.leave(l.group, l.Rank())
	l.group = nil
	return nil
}

type collectiveKind int

const (
	allReduce collectiveKind = iota
	allGather
	reduceScatter
)

var collectiveNames = []string{"AllReduce", "AllGather", "ReduceScatter"}

// collective describes one collective call. All ranks in a round must agree on it.
type collective struct {
	kind  collectiveKind
	count int
	dtype dtypes.DType
	op    ReduceOp
}

func (c collective) String() string {
	return fmt.Sprintf("%s(count=%d, dtype=%s, op=%s)", collectiveNames[c.kind], c.count, c.dtype, c.op)
}

func deviceBytes(ptr unsafe.Pointer, nbytes int) []byte {
	if nbytes == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), nbytes)
}

func (l *Local) launch(c collective, send, recv []byte, launch Launcher) error {
	if l.group == nil {
		return errors.Errorf("collective %s on a finalized local communicator", c)
	}
	if c.count < 0 {
		return errors.Errorf("collective %s with negative count", c)
	}
	if err := checkReduceArgs(c.dtype, c.op); err != nil {
		return err
	}
	group, rank := l.group, l.Rank()
	launch(func() error {
		// Sequence numbers follow the order of execution on the stream, the same on all ranks.
		seq := l.seq.Add(1) - 1
		return group.run(seq, rank, c, send, recv)
	})
	return nil
}

// AllReduce implements Collectives.
func (l *Local) AllReduce(send, recv unsafe.Pointer, count int, dtype dtypes.DType, op ReduceOp, launch Launcher) error {
	nbytes := count * dtype.Size()
	return l.launch(collective{kind: allReduce, count: count, dtype: dtype, op: op},
		deviceBytes(send, nbytes), deviceBytes(recv, nbytes), launch)
}

// AllGather implements Collectives.
func (l *Local) AllGather(send, recv unsafe.Pointer, sendCount int, dtype dtypes.DType, launch Launcher) error {
	nbytes := sendCount * dtype.Size()
	return l.launch(collective{kind: allGather, count: sendCount, dtype: dtype},
		deviceBytes(send, nbytes), deviceBytes(recv, nbytes*l.Size()), launch)
}

// ReduceScatter implements Collectives.
func (l *Local) ReduceScatter(send, recv unsafe.Pointer, recvCount int, dtype dtypes.DType, op ReduceOp, launch Launcher) error {
	nbytes := recvCount * dtype.Size()
	return l.launch(collective{kind: reduceScatter, count: recvCount, dtype: dtype, op: op},
		deviceBytes(send, nbytes*l.Size()), deviceBytes(recv, nbytes), launch)
}

// localGroups is the process-wide table of local groups.
type localGroups struct {
	mu     sync.Mutex
	groups map[string]*localGroup
}

var groups = &localGroups{groups: make(map[string]*localGroup)}

func (gs *localGroups) join(name string, rank, size int) (*localGroup, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	g, found := gs.groups[name]
	if !found {
		g = &localGroup{
			name:    name,
			id:      uuid.New(),
			size:    size,
			members: make([]bool, size),
			rounds:  make(map[uint64]*round),
			workers: workerspool.New(),
		}
		gs.groups[name] = g
		klog.V(1).Infof("local communicator group %q (%s) created with size %d", name, g.id, size)
	}
	if g.size != size {
		return nil, errors.Errorf("local communicator group %q has size %d, cannot join with size %d", name, g.size, size)
	}
	if g.members[rank] {
		return nil, errors.Errorf("rank %d already joined local communicator group %q", rank, name)
	}
	g.members[rank] = true
	g.numMembers++
	return g, nil
}

func (gs *localGroups) leave(g *localGroup, rank int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	g.members[rank] = false
	g.numMembers--
	if g.numMembers == 0 && gs.groups[g.name] == g {
		delete(gs.groups, g.name)
		klog.V(1).Infof("local communicator group %q (%s) closed", g.name, g.id)
	}
}

// localGroup synchronizes the collectives of its members: the i-th collective of every rank forms round i.
type localGroup struct {
	name       string
	id         uuid.UUID
	size       int
	members    []bool // Protected by groups.mu.
	numMembers int

	mu      sync.Mutex
	rounds  map[uint64]*round
	workers *workerspool.Pool
}

type round struct {
	c       collective
	sends   [][]byte
	recvs   [][]byte
	arrived int
	done    chan struct{}
	err     error
}

// run contributes the buffers of rank to round seq and blocks until the round completes.
// The last rank to arrive computes the results for everyone.
func (g *localGroup) run(seq uint64, rank int, c collective, send, recv []byte) error {
	g.mu.Lock()
	r, found := g.rounds[seq]
	if !found {
		r = &round{c: c, sends: make([][]byte, g.size), recvs: make([][]byte, g.size), done: make(chan struct{})}
		g.rounds[seq] = r
	}
	if r.c != c && r.err == nil {
		r.err = errors.Errorf("local communicator group %q: mismatched collectives in round %d: %s and %s (rank %d)",
			g.name, seq, r.c, c, rank)
	}
	r.sends[rank] = send
	r.recvs[rank] = recv
	r.arrived++
	last := r.arrived == g.size
	if last {
		delete(g.rounds, seq)
	}
	g.mu.Unlock()

	if !last {
		<-r.done
		return r.err
	}
	if r.err == nil {
		r.err = g.compute(r)
	}
	close(r.done)
	return r.err
}

// reduceMinChunk is the minimum number of bytes reduced by one worker.
const reduceMinChunk = 1 << 16

// reduceAll reduces the blocks [offset, offset+n) of all sends into a new buffer.
func (g *localGroup) reduceAll(sends [][]byte, offset, n int, c collective) ([]byte, error) {
	acc := slices.Clone(sends[0][offset : offset+n])
	elemSize := c.dtype.Size()
	numElems := n / elemSize
	var firstErr error
	var errMu sync.Mutex
	g.workers.ParallelFor(numElems, reduceMinChunk/elemSize, func(start, end int) {
		lo, hi := start*elemSize, end*elemSize
		for _, send := range sends[1:] {
			if err := ReduceBytes(acc[lo:hi], send[offset+lo:offset+hi], c.dtype, c.op); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}
		}
	})
	return acc, firstErr
}

func (g *localGroup) compute(r *round) error {
	// Snapshot the inputs: sends and recvs may alias.
	sends := make([][]byte, len(r.sends))
	for i, send := range r.sends {
		sends[i] = slices.Clone(send)
	}
	n := r.c.count * r.c.dtype.Size()
	switch r.c.kind {
	case allReduce:
		result, err := g.reduceAll(sends, 0, n, r.c)
		if err != nil {
			return err
		}
		for _, recv := range r.recvs {
			copy(recv, result)
		}
	case allGather:
		for _, recv := range r.recvs {
			for k, send := range sends {
				copy(recv[k*n:(k+1)*n], send)
			}
		}
	case reduceScatter:
		for rank, recv := range r.recvs {
			result, err := g.reduceAll(sends, rank*n, n, r.c)
			if err != nil {
				return err
			}
			copy(recv, result)
		}
	}
	return nil
}

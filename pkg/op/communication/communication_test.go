package communication

import (
	"fmt"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/core/tensors"
	"github.com/gomlx/shardrt/pkg/distributed/communicator"
	"github.com/gomlx/shardrt/pkg/op"
	"github.com/gomlx/shardrt/pkg/op/executor"
	"github.com/gomlx/shardrt/pkg/runtime"
	_ "github.com/gomlx/shardrt/pkg/runtime/deviceapi/cpu"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// rankEnv is what each simulated rank gets to run its operators.
type rankEnv struct {
	rank int
	rt   *runtime.Runtime
	exec *executor.Executor
	dev  device.Device
}

func (r *rankEnv) run(call *op.Call) {
	call.Device = r.dev
	r.exec.Run(call)
	r.exec.Synchronize()
}

// runRanks runs fn for each of size simulated ranks, each with its own runtime, sharing a "local"
// communicator group.
func runRanks(t *testing.T, group string, size int, fn func(r *rankEnv)) {
	var g errgroup.Group
	for rank := range size {
		g.Go(func() error {
			connector, err := communicator.NewStaticConnector(rank, size, rank, size)
			if err != nil {
				return err
			}
			rt, err := runtime.New(runtime.WithConnector(connector),
				runtime.WithCommunicator(communicator.LocalName+":"+group))
			if err != nil {
				return err
			}
			defer rt.Finalize()
			r := &rankEnv{rank: rank, rt: rt, exec: executor.New(rt), dev: rt.DistContext().LocalDevice}
			fn(r)
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestAllReduce(t *testing.T) {
	const size = 4
	runRanks(t, "test_allreduce", size, func(r *rankEnv) {
		rf := float32(r.rank)
		a := tensors.FromFlat(r.rt.Memory, r.dev, []float32{rf, rf + 1}, 2)
		b := tensors.FromFlat(r.rt.Memory, r.dev, []float32{10 * rf, 10*rf + 1, 10*rf + 2}, 3, 1)

		// Fused.
		call := &op.Call{Op: AllReduceOp, Args: &AllReduceArgs{X: []*tensors.Tensor{a, b}}}
		r.run(call)
		outputs := call.Outputs()
		assert.Len(t, outputs, 2)
		assert.Equal(t, []float32{6, 10}, tensors.ToFlat[float32](outputs[0]))
		assert.Equal(t, []int{3, 1}, outputs[1].Shape().Dimensions)
		assert.Equal(t, []float32{60, 64, 68}, tensors.ToFlat[float32](outputs[1]))

		// Fusion gives the same results as independent calls.
		for i, x := range []*tensors.Tensor{a, b} {
			single := &op.Call{Op: AllReduceOp, Args: &AllReduceArgs{X: []*tensors.Tensor{x}}}
			r.run(single)
			assert.Equal(t, tensors.ToFlat[float32](outputs[i]), tensors.ToFlat[float32](single.Output()))
			single.Output().Finalize()
		}

		// In-place, with Max.
		inPlace := &op.Call{Op: AllReduceOp, Args: &AllReduceArgs{X: []*tensors.Tensor{a}, Op: communicator.Max}, Out: a}
		r.run(inPlace)
		assert.Equal(t, []float32{3, 4}, tensors.ToFlat[float32](a))

		for _, x := range append(outputs, a, b) {
			x.Finalize()
		}
	})
}

func TestAllGather(t *testing.T) {
	const size = 3
	runRanks(t, "test_allgather", size, func(r *rankEnv) {
		x := tensors.FromFlat(r.rt.Memory, r.dev, []int32{int32(r.rank), int32(10 * r.rank)}, 1, 2)
		call := &op.Call{Op: AllGatherOp, Args: &AllGatherArgs{X: x}}
		r.run(call)
		out := call.Output()
		assert.Equal(t, []int{3, 2}, out.Shape().Dimensions)
		assert.Equal(t, []int32{0, 0, 1, 10, 2, 20}, tensors.ToFlat[int32](out))
		out.Finalize()
		x.Finalize()
	})
}

func TestReduceScatter(t *testing.T) {
	const size = 4
	runRanks(t, "test_reduce_scatter", size, func(r *rankEnv) {
		xs := make([]*tensors.Tensor, size)
		for j := range size {
			xs[j] = tensors.FromFlat(r.rt.Memory, r.dev, []float64{float64(r.rank + 100*j), 1}, 2)
		}
		call := &op.Call{Op: ReduceScatterOp, Args: &ReduceScatterArgs{X: xs}}
		r.run(call)
		want := []float64{float64(6 + 400*r.rank), size}
		assert.Equal(t, want, tensors.ToFlat[float64](call.Output()), fmt.Sprintf("rank %d", r.rank))
		call.Output().Finalize()
		for _, x := range xs {
			x.Finalize()
		}
	})
}

func TestCollectiveErrors(t *testing.T) {
	rt := must.M1(runtime.New(runtime.WithConnector(communicator.SingleProcess()),
		runtime.WithCommunicator(communicator.VoidName)))
	defer rt.Finalize()
	exec := executor.New(rt)
	dev := device.Make(device.CPU, 0)
	x := tensors.FromFlat(rt.Memory, dev, []float32{1, 2}, 2)
	defer x.Finalize()

	err := exceptions.TryCatch[error](func() {
		exec.Run(&op.Call{Op: AllReduceOp, Device: dev, Args: &AllReduceArgs{X: []*tensors.Tensor{x}}})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doesn't support collectives")

	y := tensors.FromFlat(rt.Memory, dev, []int32{1, 2}, 2)
	defer y.Finalize()
	require.Panics(t, func() {
		exec.Run(&op.Call{Op: AllReduceOp, Device: dev, Args: &AllReduceArgs{X: []*tensors.Tensor{x, y}}})
	})
	require.Panics(t, func() {
		exec.Run(&op.Call{Op: ReduceScatterOp, Device: dev, Args: &ReduceScatterArgs{X: []*tensors.Tensor{x, x}}})
	})
	assert.Equal(t, []string{Dialect}, op.Dialects(AllGatherOp, device.CPU))
}

package distributed

import (
	"testing"

	"github.com/gomlx/shardrt/pkg/core/device"
	"github.com/gomlx/shardrt/pkg/distributed/communicator"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
)

func TestNewContext(t *testing.T) {
	connector := must.M1(communicator.NewStaticConnector(2, 4, 0, 2))
	m := communicator.NewManager(communicator.WithConnector(connector), communicator.WithPreferred("void"))
	defer m.Remove()
	ctx := NewContext(m.GetCommunicator())

	assert.Equal(t, 2, ctx.Rank)
	assert.Equal(t, 4, ctx.Size)
	assert.Equal(t, 0, ctx.LocalRank)
	assert.Equal(t, 2, ctx.LocalSize)
	assert.False(t, ctx.IsRoot())
	assert.Len(t, ctx.DistDevices, 4)
	assert.Equal(t, device.Make(device.CPU, 2), ctx.LocalDevice)
	assert.Equal(t, 2, ctx.AutoDPProfilingStartIter)
	assert.Equal(t, 4, ctx.AutoDPProfilingEndIter)
	assert.False(t, ctx.EnableDataParallel)
	assert.Contains(t, ctx.String(), "rank=2/4")
}

package tasks

import (
	"github.com/gogpu/taskgraph"
	"github.com/gogpu/taskgraph/driver"
)

// BufferUse pairs a buffer with the access a dispatch needs on it.
type BufferUse struct {
	Buffer taskgraph.BufferHandle
	Access driver.AccessMask
}

// Dispatch runs a compute workload over a set of buffers. The Payload is
// passed through to the backend untouched.
type Dispatch struct {
	TaskName string
	Buffers  []BufferUse
	GroupsX  uint32
	GroupsY  uint32
	GroupsZ  uint32
	Payload  any
}

func (d *Dispatch) Name() string {
	if d.TaskName != "" {
		return d.TaskName
	}
	return "Dispatch"
}

func (d *Dispatch) Caps() driver.QueueCaps { return driver.QueueCompute }

func (d *Dispatch) Register(reg *taskgraph.ResourceRegistry) {
	for _, use := range d.Buffers {
		reg.UseBuffer(use.Buffer, driver.StageComputeShader, use.Access)
	}
}

func (d *Dispatch) Record(sink driver.CommandSink, res *taskgraph.Resources) error {
	for _, use := range d.Buffers {
		if _, err := res.Buffer(use.Buffer); err != nil {
			return err
		}
	}
	sink.Record(driver.Dispatch{
		GroupsX: d.GroupsX,
		GroupsY: d.GroupsY,
		GroupsZ: d.GroupsZ,
		Payload: d.Payload,
	})
	return nil
}

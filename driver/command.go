package driver

// Command is one opaque recorded device command. The scheduler never
// inspects commands; it only forwards them from tasks to the sink. Each
// backend interprets the set below as far as it can and is free to
// ignore Dispatch payloads it does not understand.
type Command interface {
	isCommand()
}

// WriteBuffer copies host bytes into a buffer.
type WriteBuffer struct {
	Buffer Buffer
	Offset uint64
	Data   []byte
}

// WriteImage copies host bytes into an image. Data is tightly packed
// rows for the full extent; the image must be in LayoutTransferDst.
type WriteImage struct {
	Image Image
	Data  []byte
}

// CopyBuffer copies a byte range between two buffers.
type CopyBuffer struct {
	Src       Buffer
	Dst       Buffer
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// CopyBufferToImage copies packed buffer bytes into an image.
type CopyBufferToImage struct {
	Src       Buffer
	Dst       Image
	SrcOffset uint64
}

// Blit copies one full image into another, scaling if the extents
// differ. Src must be in LayoutTransferSrc, Dst in LayoutTransferDst.
type Blit struct {
	Src Image
	Dst Image
}

// Dispatch launches GroupsX*GroupsY*GroupsZ workgroups of a compute
// kernel the backend resolved out of band. Payload is backend-defined.
type Dispatch struct {
	GroupsX, GroupsY, GroupsZ uint32
	Payload                   any
}

func (WriteBuffer) isCommand()       {}
func (WriteImage) isCommand()        {}
func (CopyBuffer) isCommand()        {}
func (CopyBufferToImage) isCommand() {}
func (Blit) isCommand()              {}
func (Dispatch) isCommand()          {}

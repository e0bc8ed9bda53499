// Package render provides reference paired-object types riding the
// corethread synchronization machinery.
//
// The types here exist so the engine ships at least one complete consumer of
// the object package: Texture shows the full pattern — embedding
// object.Object, the CreateCore factory hook, dirty-flag driven SerializeDiff
// into the frame arena, and a core half embedding object.CoreState. Real
// resource types follow the same shape.
package render

import (
	"encoding/binary"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/corethread"
	"github.com/gogpu/corethread/object"
)

// Dirty bits used by Texture.
const (
	// DirtyDescriptor marks a pending size/format change.
	DirtyDescriptor uint32 = 1 << iota

	// DirtyPixels marks pending pixel data.
	DirtyPixels
)

// TextureDescriptor describes a texture's shape.
type TextureDescriptor struct {
	Label  string
	Size   gputypes.Extent3D
	Format gputypes.TextureFormat
}

// Option configures a Texture during creation.
type Option func(*textureOptions)

type textureOptions struct {
	device gpucontext.DeviceProvider
}

// WithDevice hands the core half a shared GPU device from the host
// application. The handle is stored opaquely; device work belongs to the
// consumer's core-thread commands.
func WithDevice(dp gpucontext.DeviceProvider) Option {
	return func(o *textureOptions) { o.device = dp }
}

// Texture is the sim-thread half of a paired texture.
//
// All methods are sim-thread-only, matching the object package's threading
// rules. Mutations mark the texture dirty; the next Manager.SyncFrame (or an
// explicit SyncToCore) carries the changes to the core half.
type Texture struct {
	object.Object

	desc   TextureDescriptor
	pixels []byte

	core *CoreTexture
}

// NewTexture creates, attaches, and initializes a paired texture. The core
// half initializes on the core thread.
func NewTexture(mgr *object.Manager, desc TextureDescriptor, opts ...Option) *Texture {
	var o textureOptions
	for _, opt := range opts {
		opt(&o)
	}
	t := &Texture{desc: desc}
	t.core = &CoreTexture{desc: desc, device: o.device}
	t.Attach(mgr, t, object.RequiresCoreInit)
	t.Initialize()
	return t
}

// Descriptor returns the sim-side descriptor.
func (t *Texture) Descriptor() TextureDescriptor { return t.desc }

// Resize changes the texture's extent.
func (t *Texture) Resize(size gputypes.Extent3D) {
	t.desc.Size = size
	t.MarkCoreDirty(DirtyDescriptor)
}

// SetFormat changes the texture's pixel format.
func (t *Texture) SetFormat(f gputypes.TextureFormat) {
	t.desc.Format = f
	t.MarkCoreDirty(DirtyDescriptor)
}

// SetPixels replaces the texture's pixel data. The slice is copied.
func (t *Texture) SetPixels(p []byte) {
	t.pixels = append(t.pixels[:0], p...)
	t.MarkCoreDirty(DirtyPixels)
}

// CreateCore returns the core-thread counterpart. Invoked once by
// Object.Initialize.
func (t *Texture) CreateCore() object.CoreObject { return t.core }

// SerializeDiff packs the dirty parts of the texture into arena memory.
//
// Layout: u32 dirty mask, then for DirtyDescriptor a packed descriptor
// (width, height, depth, format as u32 each), then for DirtyPixels a u32
// length followed by the pixel bytes.
func (t *Texture) SerializeDiff(arena *corethread.FrameArena) object.SyncData {
	mask := t.DirtyFlags()

	size := 4
	if mask&DirtyDescriptor != 0 {
		size += 16
	}
	if mask&DirtyPixels != 0 {
		size += 4 + len(t.pixels)
	}

	buf := arena.Alloc(size)
	binary.LittleEndian.PutUint32(buf[0:4], mask)
	off := 4
	if mask&DirtyDescriptor != 0 {
		binary.LittleEndian.PutUint32(buf[off:], t.desc.Size.Width)
		binary.LittleEndian.PutUint32(buf[off+4:], t.desc.Size.Height)
		binary.LittleEndian.PutUint32(buf[off+8:], t.desc.Size.DepthOrArrayLayers)
		binary.LittleEndian.PutUint32(buf[off+12:], uint32(t.desc.Format))
		off += 16
	}
	if mask&DirtyPixels != 0 {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(t.pixels)))
		copy(buf[off+4:], t.pixels)
	}
	return object.SyncData{Bytes: buf}
}

// CoreTexture is the core-thread half of a paired texture.
type CoreTexture struct {
	object.CoreState

	device gpucontext.DeviceProvider

	desc     TextureDescriptor
	pixels   []byte
	uploads  int
	reshapes int
}

// Initialize runs on the core thread before any diff is applied.
func (ct *CoreTexture) Initialize() {
	corethread.Logger().Debug("render: core texture initialized",
		"label", ct.desc.Label,
		"width", ct.desc.Size.Width,
		"height", ct.desc.Size.Height)
}

// ApplyDiff unpacks a diff produced by the sim half's SerializeDiff.
func (ct *CoreTexture) ApplyDiff(data object.SyncData) {
	buf := data.Bytes
	if len(buf) < 4 {
		return
	}
	mask := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	if mask&DirtyDescriptor != 0 && len(buf) >= off+16 {
		ct.desc.Size.Width = binary.LittleEndian.Uint32(buf[off:])
		ct.desc.Size.Height = binary.LittleEndian.Uint32(buf[off+4:])
		ct.desc.Size.DepthOrArrayLayers = binary.LittleEndian.Uint32(buf[off+8:])
		ct.desc.Format = gputypes.TextureFormat(binary.LittleEndian.Uint32(buf[off+12:]))
		off += 16
		ct.reshapes++
	}
	if mask&DirtyPixels != 0 && len(buf) >= off+4 {
		n := int(binary.LittleEndian.Uint32(buf[off:]))
		if len(buf) >= off+4+n {
			// Diff bytes live in the frame arena; copy before the
			// arena resets.
			ct.pixels = append(ct.pixels[:0], buf[off+4:off+4+n]...)
			ct.uploads++
		}
	}
}

// Descriptor returns the core-side descriptor. Core thread only.
func (ct *CoreTexture) Descriptor() TextureDescriptor { return ct.desc }

// Pixels returns the core-side pixel data. Core thread only.
func (ct *CoreTexture) Pixels() []byte { return ct.pixels }

// Device returns the shared device handle, or nil when the texture was
// created without one.
func (ct *CoreTexture) Device() gpucontext.DeviceProvider { return ct.device }

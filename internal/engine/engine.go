// Package engine implements the Render Engine: the embedder-facing object
// that owns the graphics/transfer/compute queues, per-frame-in-flight
// command buffers and timeline semaphores, and drives the
// transfer->compute->graphics submission chain each frame. Grounded on
// application.go's render loop (vulkan-go-asche/application.go) for
// the overall Update/Render shape, with the single binary graphics fence
// replaced by per-stage timeline semaphores the way gogpu-wgpu's
// hal/vulkan/fence.go wraps VK_KHR_timeline_semaphore.
package engine

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/descbuf"
	"github.com/andewx/vkforge/internal/mesh"
	"github.com/andewx/vkforge/internal/modelbundle"
	"github.com/andewx/vkforge/internal/modelmgr"
	"github.com/andewx/vkforge/internal/renderpassmgr"
	"github.com/andewx/vkforge/internal/staging"
	"github.com/andewx/vkforge/internal/threadpool"
	"github.com/andewx/vkforge/internal/vkdevice"
	"github.com/andewx/vkforge/internal/vkerr"
	"github.com/andewx/vkforge/internal/vklog"
	"github.com/andewx/vkforge/internal/vkmemory"
)

// Variant selects which Model Manager / Mesh Manager / Pipeline Binder
// family the engine drives, matching the device feature support
// vkdevice.Validate reported.
type Variant int

const (
	VariantVSIndividual Variant = iota
	VariantVSIndirect
	VariantMS
)

// frameSync holds one frame-in-flight's command buffers and timeline
// semaphore wait values for the transfer->compute->graphics chain.
type frameSync struct {
	transferCmd vk.CommandBuffer
	computeCmd  vk.CommandBuffer
	graphicsCmd vk.CommandBuffer

	transferDone uint64
	computeDone  uint64
	graphicsDone uint64
}

// Config bundles the external collaborators kept outside the engine's own
// scope: device/instance creation, surface/swapchain management and
// physical device selection are all handed in already constructed.
type Config struct {
	Device         vk.Device
	PhysicalDevice vk.PhysicalDevice

	GraphicsQueue vk.Queue
	TransferQueue vk.Queue
	ComputeQueue  vk.Queue
	Queues        vkdevice.QueueFamilies

	GraphicsPool vk.CommandPool
	TransferPool vk.CommandPool
	ComputePool  vk.CommandPool

	FrameCount int
	Variant    Variant

	DeviceLocalTypeIndex, DeviceLocalHeap   uint32
	HostCoherentTypeIndex, HostCoherentHeap uint32

	Logger *vklog.Logger
}

// Engine is the top-level render orchestration object an embedder
// constructs once per device and drives once per frame.
type Engine struct {
	cfg Config
	log *vklog.Logger

	allocator *vkmemory.Allocator
	pool      *threadpool.Pool
	staging   *staging.Manager
	descs     *descbuf.Buffer

	frames   []frameSync
	frameIdx int

	transferSem vk.Semaphore
	computeSem  vk.Semaphore
	graphicsSem vk.Semaphore

	meshVS  *mesh.VSIndividual
	meshVSI *mesh.VSIndirect
	meshMS  *mesh.MS

	modelsVS  *modelmgr.VSIndividual
	modelsVSI *modelmgr.VSIndirect
	modelsMS  *modelmgr.MS

	shaderPath string
	frameCount uint64
}

// New constructs the Render Engine's own subsystems (allocator, staging,
// descriptor buffer, mesh/model managers for cfg.Variant) from an
// already-created device and queues. Instance/device/surface/swapchain
// creation remain the embedder's responsibility.
func New(cfg Config) (*Engine, error) {
	if cfg.FrameCount <= 0 {
		cfg.FrameCount = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = vklog.Discard()
	}

	props := &vkdevice.Properties{}
	allocator := vkmemory.New(cfg.Device, props, cfg.DeviceLocalTypeIndex, cfg.DeviceLocalHeap, cfg.HostCoherentTypeIndex, cfg.HostCoherentHeap)
	pool := threadpool.New(4)
	stagingMgr := staging.New(cfg.Device, allocator, pool, cfg.Queues)
	descs := descbuf.New(cfg.Device, allocator, props)

	e := &Engine{
		cfg:       cfg,
		log:       logger,
		allocator: allocator,
		pool:      pool,
		staging:   stagingMgr,
		descs:     descs,
	}

	if err := e.createFrameResources(); err != nil {
		return nil, err
	}
	if err := e.createVariant(); err != nil {
		return nil, err
	}

	logger.Info.Printf("render engine initialised: variant=%d frames=%d", cfg.Variant, cfg.FrameCount)
	return e, nil
}

func (e *Engine) createVariant() error {
	switch e.cfg.Variant {
	case VariantVSIndividual:
		m, err := mesh.NewVSIndividual(e.cfg.Device, e.allocator, 48, 4<<20)
		if err != nil {
			return err
		}
		e.meshVS = m
		e.modelsVS = modelmgr.NewVSIndividual(m)
	case VariantVSIndirect:
		m, err := mesh.NewVSIndirect(e.cfg.Device, e.allocator, 48, 4<<20)
		if err != nil {
			return err
		}
		e.meshVSI = m
		e.modelsVSI = modelmgr.NewVSIndirect(m)
	case VariantMS:
		m, err := mesh.NewMS(e.cfg.Device, e.allocator, 4<<20)
		if err != nil {
			return err
		}
		e.meshMS = m
		e.modelsMS = modelmgr.NewMS(m)
	default:
		return vkerr.New(vkerr.KindInvalidHandle, "unknown engine variant %d", e.cfg.Variant)
	}
	return nil
}

func (e *Engine) createFrameResources() error {
	e.frames = make([]frameSync, e.cfg.FrameCount)
	for i := range e.frames {
		e.frames[i].transferCmd = allocCmd(e.cfg.Device, e.cfg.TransferPool)
		e.frames[i].computeCmd = allocCmd(e.cfg.Device, e.cfg.ComputePool)
		e.frames[i].graphicsCmd = allocCmd(e.cfg.Device, e.cfg.GraphicsPool)
	}

	var err error
	if e.transferSem, err = newTimelineSemaphore(e.cfg.Device); err != nil {
		return err
	}
	if e.computeSem, err = newTimelineSemaphore(e.cfg.Device); err != nil {
		return err
	}
	if e.graphicsSem, err = newTimelineSemaphore(e.cfg.Device); err != nil {
		return err
	}
	return nil
}

func allocCmd(device vk.Device, pool vk.CommandPool) vk.CommandBuffer {
	bufs := make([]vk.CommandBuffer, 1)
	vk.AllocateCommandBuffers(device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, bufs)
	return bufs[0]
}

func newTimelineSemaphore(device vk.Device) (vk.Semaphore, error) {
	typeInfo := vk.SemaphoreTypeCreateInfo{
		SType:         vk.StructureTypeSemaphoreTypeCreateInfo,
		SemaphoreType: vk.SemaphoreTypeTimeline,
		InitialValue:  0,
	}
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
		PNext: unsafe.Pointer(&typeInfo),
	}, nil, &sem)
	if vkerr.IsResultError(ret) {
		return vk.NullSemaphore, vkerr.FromResult(ret, "vkCreateSemaphore(timeline)")
	}
	return sem, nil
}

// FinaliseInitialisation completes any setup that needed the first round of
// resources registered (shader path, pipelines, model bundles) before the
// engine can render its first frame. Embedders call this once after adding
// every pipeline and model bundle they intend to have present at startup.
func (e *Engine) FinaliseInitialisation() error {
	if e.shaderPath == "" {
		return vkerr.New(vkerr.KindInvalidHandle, "SetShaderPath must be called before FinaliseInitialisation")
	}
	if err := e.descs.RecreateSetLayout(); err != nil {
		return err
	}
	e.log.Info.Printf("render engine finalised initialisation")
	return nil
}

// SetShaderPath records the directory pipeline creation loads SPIR-V
// modules from.
func (e *Engine) SetShaderPath(path string) { e.shaderPath = path }

// Resize logs the new render extent; it recreates nothing. The swapchain
// itself is the embedder's responsibility.
func (e *Engine) Resize(width, height uint32) error {
	e.log.Info.Printf("render engine resize %dx%d", width, height)
	return nil
}

// AddModelBundle registers bundle with the active variant's Model Manager.
func (e *Engine) AddModelBundle(bundle *modelbundle.Bundle) (uint32, error) {
	switch e.cfg.Variant {
	case VariantVSIndividual:
		return e.modelsVS.AddModelBundle(bundle), nil
	case VariantVSIndirect:
		return e.modelsVSI.AddModelBundle(bundle), nil
	case VariantMS:
		return e.modelsMS.AddModelBundle(bundle), nil
	default:
		return 0, vkerr.New(vkerr.KindInvalidHandle, "unknown engine variant")
	}
}

// AddMeshBundle registers a vertex-shader-variant mesh bundle (reserving its
// ranges; the bytes are not copied to the GPU) and returns its handle plus
// per-mesh details for pipeline binder setup. Only valid for
// VariantVSIndividual; the indirect and mesh-shader variants have their own
// bundle-shaped inputs (AABB bounds, pre-meshletized data respectively).
func (e *Engine) AddMeshBundle(verts [][]byte, indices [][]uint32) (uint32, []mesh.Details, error) {
	if e.meshVS == nil {
		return 0, nil, vkerr.New(vkerr.KindInvalidHandle, "AddMeshBundle requires VariantVSIndividual")
	}
	return e.meshVS.AddMeshBundle(verts, indices)
}

// WaitForCurrentBackBuffer blocks until the frame whose resources this
// frame index is about to reuse has finished on the GPU, waiting on the
// graphics timeline semaphore reaching that frame's recorded signal value.
func (e *Engine) WaitForCurrentBackBuffer() error {
	f := &e.frames[e.frameIdx]
	if f.graphicsDone == 0 {
		return nil
	}
	waitInfo := vk.SemaphoreWaitInfo{
		SType:          vk.StructureTypeSemaphoreWaitInfo,
		SemaphoreCount: 1,
		PSemaphores:    []vk.Semaphore{e.graphicsSem},
		PValues:        []uint64{f.graphicsDone},
	}
	ret := vk.WaitSemaphores(e.cfg.Device, &waitInfo, ^uint64(0))
	if vkerr.IsResultError(ret) {
		return vkerr.FromResult(ret, "vkWaitSemaphores")
	}
	return nil
}

// Update advances the frame counter that Render uses as this frame's
// timeline signal value. It writes no model records, argument buffers or
// descriptors.
func (e *Engine) Update() error {
	e.frameCount++
	return nil
}

// Render records and submits this frame's transfer, compute and graphics
// work in a chain: the transfer submission signals transferSem at a value
// compute waits on, compute signals computeSem at a value graphics waits
// on, and graphics signals graphicsSem at the value WaitForCurrentBackBuffer
// will wait for N frames from now.
func (e *Engine) Render(draw func(pass *renderpassmgr.Pass, cmd vk.CommandBuffer)) error {
	f := &e.frames[e.frameIdx]

	vk.BeginCommandBuffer(f.transferCmd, &vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo})
	if err := e.staging.CopyAndClearQueuedBuffers(f.transferCmd); err != nil {
		return err
	}
	vk.EndCommandBuffer(f.transferCmd)

	f.transferDone = e.frameCount
	if err := e.submitTimeline(e.cfg.TransferQueue, f.transferCmd, e.transferSem, f.transferDone, nil, nil); err != nil {
		return fmt.Errorf("transfer submit: %w", err)
	}

	if e.cfg.Variant == VariantVSIndirect {
		vk.BeginCommandBuffer(f.computeCmd, &vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo})
		vk.EndCommandBuffer(f.computeCmd)
		f.computeDone = e.frameCount
		if err := e.submitTimeline(e.cfg.ComputeQueue, f.computeCmd, e.computeSem, f.computeDone,
			[]vk.Semaphore{e.transferSem}, []uint64{f.transferDone}); err != nil {
			return fmt.Errorf("compute submit: %w", err)
		}
	}

	vk.BeginCommandBuffer(f.graphicsCmd, &vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo})
	pass := renderpassmgr.New(vk.Extent2D{})
	draw(pass, f.graphicsCmd)
	vk.EndCommandBuffer(f.graphicsCmd)

	f.graphicsDone = e.frameCount
	waitSem, waitVal := []vk.Semaphore{e.transferSem}, []uint64{f.transferDone}
	if e.cfg.Variant == VariantVSIndirect {
		waitSem, waitVal = append(waitSem, e.computeSem), append(waitVal, f.computeDone)
	}
	if err := e.submitTimeline(e.cfg.GraphicsQueue, f.graphicsCmd, e.graphicsSem, f.graphicsDone, waitSem, waitVal); err != nil {
		return fmt.Errorf("graphics submit: %w", err)
	}

	e.frameIdx = (e.frameIdx + 1) % len(e.frames)
	return nil
}

func (e *Engine) submitTimeline(queue vk.Queue, cmd vk.CommandBuffer, signalSem vk.Semaphore, signalValue uint64, waitSems []vk.Semaphore, waitValues []uint64) error {
	timelineInfo := vk.TimelineSemaphoreSubmitInfo{
		SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
		WaitSemaphoreValueCount:   uint32(len(waitValues)),
		PWaitSemaphoreValues:      waitValues,
		SignalSemaphoreValueCount: 1,
		PSignalSemaphoreValues:    []uint64{signalValue},
	}
	waitStages := make([]vk.PipelineStageFlags, len(waitSems))
	for i := range waitStages {
		waitStages[i] = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		PNext:                unsafe.Pointer(&timelineInfo),
		WaitSemaphoreCount:   uint32(len(waitSems)),
		PWaitSemaphores:      waitSems,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{signalSem},
	}
	ret := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submit}, vk.NullFence)
	if vkerr.IsResultError(ret) {
		return vkerr.FromResult(ret, "vkQueueSubmit")
	}
	return nil
}

// WaitForGPUToFinish blocks until every queue this engine submits to is
// idle, for use at shutdown before destroying resources.
func (e *Engine) WaitForGPUToFinish() error {
	for _, q := range []vk.Queue{e.cfg.GraphicsQueue, e.cfg.TransferQueue, e.cfg.ComputeQueue} {
		if q == nil {
			continue
		}
		if ret := vk.QueueWaitIdle(q); vkerr.IsResultError(ret) {
			return vkerr.FromResult(ret, "vkQueueWaitIdle")
		}
	}
	return nil
}

// DescriptorBuffer exposes the engine's single descriptor buffer for
// embedder-driven texture/camera binding updates.
func (e *Engine) DescriptorBuffer() *descbuf.Buffer { return e.descs }

// CleanUp destroys every subsystem the engine owns. The caller must have
// already called WaitForGPUToFinish.
func (e *Engine) CleanUp() {
	e.pool.Close()
	e.staging.CleanUp()
	e.descs.CleanUp()
	if e.meshVS != nil {
		e.meshVS.CleanUp()
	}
	if e.meshVSI != nil {
		e.meshVSI.CleanUp()
	}
	if e.meshMS != nil {
		e.meshMS.CleanUp()
	}
	vk.DestroySemaphore(e.cfg.Device, e.transferSem, nil)
	vk.DestroySemaphore(e.cfg.Device, e.computeSem, nil)
	vk.DestroySemaphore(e.cfg.Device, e.graphicsSem, nil)
}


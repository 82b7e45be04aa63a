// Package vkboot creates the instance, physical device, queue families and
// logical device that engine.Config expects an embedder to already hold.
// Everything here runs once at startup; nothing in it participates in a
// frame.
package vkboot

import (
	"fmt"
	"strings"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/vkdevice"
	"github.com/andewx/vkforge/internal/vkerr"
)

// InstanceExtensions reports the instance extensions the loader advertises.
func InstanceExtensions() ([]string, error) {
	var count uint32
	if ret := vk.EnumerateInstanceExtensionProperties("", &count, nil); ret != vk.Success {
		return nil, vkerr.FromResult(ret, "enumerate instance extensions")
	}
	list := make([]vk.ExtensionProperties, count)
	if ret := vk.EnumerateInstanceExtensionProperties("", &count, list); ret != vk.Success {
		return nil, vkerr.FromResult(ret, "enumerate instance extensions")
	}
	names := make([]string, 0, count)
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

// ValidationLayers reports the instance layers the loader advertises.
func ValidationLayers() ([]string, error) {
	var count uint32
	if ret := vk.EnumerateInstanceLayerProperties(&count, nil); ret != vk.Success {
		return nil, vkerr.FromResult(ret, "enumerate instance layers")
	}
	list := make([]vk.LayerProperties, count)
	if ret := vk.EnumerateInstanceLayerProperties(&count, list); ret != vk.Success {
		return nil, vkerr.FromResult(ret, "enumerate instance layers")
	}
	names := make([]string, 0, count)
	for _, l := range list {
		l.Deref()
		names = append(names, vk.ToString(l.LayerName[:]))
	}
	return names, nil
}

// DeviceExtensions reports the extensions gpu advertises.
func DeviceExtensions(gpu vk.PhysicalDevice) ([]string, error) {
	var count uint32
	if ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil); ret != vk.Success {
		return nil, vkerr.FromResult(ret, "enumerate device extensions")
	}
	list := make([]vk.ExtensionProperties, count)
	if ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list); ret != vk.Success {
		return nil, vkerr.FromResult(ret, "enumerate device extensions")
	}
	names := make([]string, 0, count)
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

func filterSupported(wanted, available []string) []string {
	have := make(map[string]bool, len(available))
	for _, a := range available {
		have[a] = true
	}
	var out []string
	for _, w := range wanted {
		if have[w] {
			out = append(out, w)
		}
	}
	return out
}

// CreateInstance builds a vk.Instance enabling whichever of wantExtensions
// and wantLayers the platform actually advertises, the way vulkan-go-asche's
// NewPlatform trims its wish list down to what EnumerateInstance* returns
// before calling vk.CreateInstance.
func CreateInstance(appName string, appVersion uint32, wantExtensions, wantLayers []string) (vk.Instance, error) {
	available, err := InstanceExtensions()
	if err != nil {
		return nil, err
	}
	layers, err := ValidationLayers()
	if err != nil {
		return nil, err
	}

	enabledExt := filterSupported(wantExtensions, available)
	enabledLayers := filterSupported(wantLayers, layers)

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			PApplicationName:   appName + "\x00",
			ApplicationVersion: appVersion,
			PEngineName:        "vkforge\x00",
			EngineVersion:      uint32(vk.MakeVersion(1, 0, 0)),
			ApiVersion:         uint32(vk.MakeVersion(1, 3, 0)),
		},
		EnabledExtensionCount:   uint32(len(enabledExt)),
		PpEnabledExtensionNames: enabledExt,
		EnabledLayerCount:       uint32(len(enabledLayers)),
		PpEnabledLayerNames:     enabledLayers,
	}, nil, &instance)
	if ret != vk.Success {
		return nil, vkerr.FromResult(ret, "create instance")
	}
	vk.InitInstance(instance)
	return instance, nil
}

// PhysicalDevice bundles one enumerated GPU with the properties the rest of
// bring-up and vkdevice need repeatedly, so callers don't re-query them.
type PhysicalDevice struct {
	Handle     vk.PhysicalDevice
	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties
	Extensions []string
	Families   []vk.QueueFamilyProperties
}

// EnumeratePhysicalDevices lists every GPU the instance can see, along with
// the per-device state PickPhysicalDevice and SelectQueueFamilies consult.
func EnumeratePhysicalDevices(instance vk.Instance) ([]PhysicalDevice, error) {
	var count uint32
	if ret := vk.EnumeratePhysicalDevices(instance, &count, nil); ret != vk.Success {
		return nil, vkerr.FromResult(ret, "enumerate physical devices")
	}
	if count == 0 {
		return nil, vkerr.New(vkerr.KindUnsupportedDevice, "no vulkan physical devices present")
	}
	handles := make([]vk.PhysicalDevice, count)
	if ret := vk.EnumeratePhysicalDevices(instance, &count, handles); ret != vk.Success {
		return nil, vkerr.FromResult(ret, "enumerate physical devices")
	}

	out := make([]PhysicalDevice, 0, count)
	for _, gpu := range handles {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(gpu, &props)
		props.Deref()

		var mem vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(gpu, &mem)
		mem.Deref()

		ext, err := DeviceExtensions(gpu)
		if err != nil {
			return nil, err
		}

		var famCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &famCount, nil)
		families := make([]vk.QueueFamilyProperties, famCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &famCount, families)
		for i := range families {
			families[i].Deref()
		}

		out = append(out, PhysicalDevice{
			Handle:     gpu,
			Properties: props,
			Memory:     mem,
			Extensions: ext,
			Families:   families,
		})
	}
	return out, nil
}

// supportsRequired reports whether dev advertises every hard-required
// extension name vkdevice.RequiredFeatures lists (feature bits such as
// bufferDeviceAddress are validated later against
// VkPhysicalDeviceFeatures2, not against the extension string list).
func supportsRequired(dev PhysicalDevice) bool {
	have := make(map[string]bool, len(dev.Extensions))
	for _, e := range dev.Extensions {
		have[e] = true
	}
	for _, f := range vkdevice.RequiredFeatures() {
		if !f.Hard || !strings.HasPrefix(f.Name, "VK_") {
			continue
		}
		if !have[f.Name] {
			return false
		}
	}
	return true
}

// PickPhysicalDevice chooses the first enumerated GPU advertising every hard
// VK_* extension vkdevice.RequiredFeatures names, the way vulkan-go-asche's
// NewPlatform walks EnumeratePhysicalDevices and keeps index 0 of whatever
// passes its suitability check instead of scoring candidates.
func PickPhysicalDevice(devices []PhysicalDevice) (PhysicalDevice, error) {
	for _, d := range devices {
		if supportsRequired(d) {
			return d, nil
		}
	}
	return PhysicalDevice{}, vkerr.New(vkerr.KindUnsupportedDevice,
		"no physical device advertises the required extensions")
}

// SelectQueueFamilies picks graphics/transfer/compute family indices from
// dev's queue family properties. It prefers a family dedicated to transfer
// (no graphics or compute bit) and one dedicated to compute (no graphics
// bit) over folding them onto the graphics family, so
// vkdevice.QueueFamilies.NeedsTransfer/NeedsCompute have something to report
// on devices that expose the extra families; CoreQueue's linear
// QueueFlags scan is the same shape, generalized here from "find one
// graphics-capable family" to three independently-scored roles.
func SelectQueueFamilies(dev PhysicalDevice) (vkdevice.QueueFamilies, error) {
	graphicsIdx := -1
	transferIdx := -1
	computeIdx := -1

	for i, fam := range dev.Families {
		flags := fam.QueueFlags
		isGraphics := flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		isCompute := flags&vk.QueueFlags(vk.QueueComputeBit) != 0
		isTransfer := flags&vk.QueueFlags(vk.QueueTransferBit) != 0

		if isGraphics && graphicsIdx == -1 {
			graphicsIdx = i
		}
		if isTransfer && !isGraphics && !isCompute {
			transferIdx = i
		}
		if isCompute && !isGraphics {
			computeIdx = i
		}
	}

	if graphicsIdx == -1 {
		return vkdevice.QueueFamilies{}, vkerr.New(vkerr.KindUnsupportedDevice,
			"no queue family supports graphics")
	}
	if transferIdx == -1 {
		transferIdx = graphicsIdx
	}
	if computeIdx == -1 {
		computeIdx = graphicsIdx
	}

	return vkdevice.NewQueueFamilies(uint32(graphicsIdx), uint32(transferIdx), uint32(computeIdx)), nil
}

// CreateLogicalDevice creates one queue per distinct family in families and
// enables wantExtensions filtered against what dev actually advertises,
// mirroring CoreQueue.GetCreateInfos generalized from "one queue per
// property-array slot" to "one queue per distinct role family" since
// SelectQueueFamilies may alias two roles onto the same index.
func CreateLogicalDevice(dev PhysicalDevice, families vkdevice.QueueFamilies, wantExtensions []string) (vk.Device, error) {
	enabled := filterSupported(wantExtensions, dev.Extensions)

	seen := map[uint32]bool{}
	var infos []vk.DeviceQueueCreateInfo
	priority := float32(1.0)
	for _, idx := range []uint32{families.Graphics, families.Transfer, families.Compute} {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		infos = append(infos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: idx,
			QueueCount:       1,
			PQueuePriorities: []float32{priority},
		})
	}

	var device vk.Device
	ret := vk.CreateDevice(dev.Handle, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(infos)),
		PQueueCreateInfos:       infos,
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: enabled,
	}, nil, &device)
	if ret != vk.Success {
		return nil, vkerr.FromResult(ret, "create device")
	}
	return device, nil
}

// CreateCommandPool wraps vk.CreateCommandPool with the
// reset-command-buffer flag engine's per-frame recording needs, the same
// flag vulkan-go-asche's CorePool always set.
func CreateCommandPool(device vk.Device, family uint32) (vk.CommandPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if ret != vk.Success {
		return nil, vkerr.FromResult(ret, fmt.Sprintf("create command pool for family %d", family))
	}
	return pool, nil
}

package gpu

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the single WebGPU context for the application
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
	initErr  error
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it if necessary
func GetContext() (*Context, error) {
	ctx.once.Do(func() {
		ctx.initErr = ctx.init()
	})

	if ctx.initErr != nil {
		return nil, ctx.initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}

func (c *Context) init() error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return fmt.Errorf("failed to create WebGPU instance")
	}

	// High performance first, then low power, then whatever the platform offers
	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err == nil && c.Adapter != nil {
			break
		}
		slog.Debug("adapter request failed, falling back", "error", err)
	}
	if c.Adapter == nil {
		return fmt.Errorf("all adapter attempts failed: %v", err)
	}

	info := c.Adapter.GetInfo()
	slog.Debug("using GPU adapter", "name", info.Name, "vendor", info.VendorName)

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	c.Queue = c.Device.GetQueue()
	return nil
}

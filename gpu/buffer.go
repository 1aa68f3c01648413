package gpu

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// readTimeout bounds how long a buffer readback may poll the device.
const readTimeout = 2 * time.Second

// EnsureGPU ensures the GPU context is initialized
func EnsureGPU() error {
	_, err := GetContext()
	return err
}

// NewFloatBuffer creates a buffer with the given float32 data
func NewFloatBuffer(data []float32, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Contents: wgpu.ToBytes(data),
		Usage:    usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer: %v", err)
	}
	return buf, nil
}

// readMapped maps a MapRead buffer and copies out size float32 values.
func readMapped(c *Context, buf *wgpu.Buffer, size int) ([]float32, error) {
	sizeBytes := uint64(size * 4)
	done := make(chan struct{})
	var mapErr error

	err := buf.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, fmt.Errorf("MapAsync failed: %v", err)
	}

	timeout := time.After(readTimeout)
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-timeout:
			return nil, fmt.Errorf("buffer read timed out after %s", readTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := buf.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		return nil, fmt.Errorf("failed to get mapped range")
	}
	result := make([]float32, size)
	copy(result, wgpu.FromBytes[float32](data))
	buf.Unmap()

	return result, nil
}

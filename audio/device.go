package audio

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	log "github.com/sirupsen/logrus"
)

// AudioDevice представляет устройство вывода
type AudioDevice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// ListDevices возвращает список устройств воспроизведения
func ListDevices() ([]AudioDevice, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio backend: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	playbackDevices, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate playback devices: %w", err)
	}

	devices := make([]AudioDevice, 0, len(playbackDevices))
	for _, dev := range playbackDevices {
		devices = append(devices, AudioDevice{
			ID:        deviceIDToString(dev.ID),
			Name:      dev.Name(),
			IsDefault: dev.IsDefault != 0,
		})
	}
	return devices, nil
}

// Device - устройство воспроизведения malgo, которое забирает звук из Context.
// Реализует Sink: Context сам стартует и останавливает устройство в Resume/Suspend.
type Device struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	source *Context
	name   string

	buf []float32

	mu      sync.Mutex
	running bool
	closed  bool
}

// OpenDevice открывает устройство вывода для контекста.
// deviceName - подстрока имени устройства, пустая строка = устройство по умолчанию.
func OpenDevice(c *Context, deviceName string) (*Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio backend: %w", err)
	}

	d := &Device{ctx: mctx, source: c, name: deviceName}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = OutputChannels
	deviceConfig.SampleRate = uint32(c.SampleRate())
	deviceConfig.Alsa.NoMMap = 1

	if deviceName != "" {
		id, err := d.findDeviceByName(deviceName)
		if err != nil {
			d.free()
			return nil, err
		}
		deviceConfig.Playback.DeviceID = id.Pointer()
	}

	onSendFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		sampleCount := int(framecount) * OutputChannels
		if len(pOutputSample) < sampleCount*4 {
			return
		}

		// callback всегда вызывается из одного потока устройства, буфер без блокировки
		if cap(d.buf) < sampleCount {
			d.buf = make([]float32, sampleCount)
		}
		buf := d.buf[:sampleCount]

		c.Render(buf)

		for i, s := range buf {
			bits := math.Float32bits(s)
			pOutputSample[i*4] = byte(bits)
			pOutputSample[i*4+1] = byte(bits >> 8)
			pOutputSample[i*4+2] = byte(bits >> 16)
			pOutputSample[i*4+3] = byte(bits >> 24)
		}
	}

	d.device, err = malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSendFrames,
	})
	if err != nil {
		d.free()
		return nil, fmt.Errorf("failed to init playback device: %w", err)
	}

	if err := c.AttachSink(d); err != nil {
		d.Close()
		return nil, err
	}

	log.Printf("Playback device opened (rate=%d, device=%q)", c.SampleRate(), deviceName)
	return d, nil
}

// Start запускает воспроизведение
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("device is closed")
	}
	if d.running {
		return nil
	}
	if err := d.device.Start(); err != nil {
		return err
	}
	d.running = true
	log.Println("Playback device started")
	return nil
}

// Stop останавливает воспроизведение
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || !d.running {
		return nil
	}
	if err := d.device.Stop(); err != nil {
		return err
	}
	d.running = false
	log.Println("Playback device stopped")
	return nil
}

// Close освобождает устройство
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.running = false
	d.mu.Unlock()

	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	d.free()
	log.Println("Playback device closed")
}

func (d *Device) free() {
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}

// findDeviceByName ищет устройство воспроизведения по имени (частичное совпадение)
func (d *Device) findDeviceByName(name string) (*malgo.DeviceID, error) {
	devices, err := d.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, err
	}

	nameLower := strings.ToLower(name)
	for _, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name()), nameLower) {
			id := dev.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// deviceIDToString использует первые 32 байта ID как строку
func deviceIDToString(id malgo.DeviceID) string {
	var result strings.Builder
	for _, b := range id[:32] {
		if b == 0 {
			break
		}
		result.WriteByte(b)
	}
	return result.String()
}

package audio

import (
	"context"
	"errors"
	"time"
)

// DefaultFrameRate - частота кадров опроса, как у vsync
const DefaultFrameRate = 60

// ErrNotRunning возвращается офлайн драйвером, когда часы контекста стоят
var ErrNotRunning = errors.New("audio context is not running")

// RealtimeDriver выдаёт кадры опроса по тикеру; звук рендерит устройство.
type RealtimeDriver struct {
	interval time.Duration
}

// NewRealtimeDriver создаёт драйвер с заданной частотой кадров
func NewRealtimeDriver(frameRate int) *RealtimeDriver {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return &RealtimeDriver{interval: time.Second / time.Duration(frameRate)}
}

// WaitFrame ждёт следующий кадр
func (d *RealtimeDriver) WaitFrame(ctx context.Context) error {
	timer := time.NewTimer(d.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Now возвращает системное время
func (d *RealtimeDriver) Now() time.Time {
	return time.Now()
}

// OfflineDriver рендерит граф сам: каждый кадр опроса проталкивает через контекст
// 1/frameRate секунды звука. Время драйвера - часы контекста, поэтому анализ
// идёт быстрее реального времени и детерминирован.
type OfflineDriver struct {
	ctx   *Context
	epoch time.Time
	buf   []float32

	// Sink получает отрендеренный интерлив-стерео звук (может быть nil)
	Sink func(samples []float32) error
}

// NewOfflineDriver создаёт офлайн драйвер для контекста
func NewOfflineDriver(c *Context, frameRate int) *OfflineDriver {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	frames := c.SampleRate() / frameRate
	if frames < 1 {
		frames = 1
	}
	return &OfflineDriver{
		ctx:   c,
		epoch: time.Unix(0, 0),
		buf:   make([]float32, frames*OutputChannels),
	}
}

// WaitFrame рендерит один кадр звука
func (d *OfflineDriver) WaitFrame(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.ctx.State() != StateRunning {
		return ErrNotRunning
	}
	d.ctx.Render(d.buf)
	if d.Sink != nil {
		return d.Sink(d.buf)
	}
	return nil
}

// Now возвращает виртуальное время по часам контекста
func (d *OfflineDriver) Now() time.Time {
	return d.epoch.Add(time.Duration(d.ctx.CurrentTime() * float64(time.Second)))
}

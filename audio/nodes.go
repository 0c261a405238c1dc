package audio

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Destination - вход устройства вывода (всегда стерео)
type Destination struct {
	*node
}

func newDestination(c *Context) *Destination {
	d := &Destination{}
	d.node = newNode(c, "destination", 1, 1, d)
	d.in[0].channels = OutputChannels
	return d
}

func (d *Destination) process(n *node, q uint64) {
	in := n.mixInput(0, q)
	out := n.setOutput(0, OutputChannels)
	for ch := range out {
		copy(out[ch], in[ch])
	}
}

// GainNode умножает сигнал на коэффициент
type GainNode struct {
	*node
	gain atomic.Uint32 // float32 bits
}

// CreateGain создаёт узел усиления с gain=1
func (c *Context) CreateGain() *GainNode {
	g := &GainNode{}
	g.node = newNode(c, "gain", 1, 1, g)
	g.SetGain(1)
	return g
}

// SetGain устанавливает коэффициент усиления
func (g *GainNode) SetGain(v float32) {
	g.gain.Store(math.Float32bits(v))
}

// Gain возвращает коэффициент усиления
func (g *GainNode) Gain() float32 {
	return math.Float32frombits(g.gain.Load())
}

func (g *GainNode) process(n *node, q uint64) {
	in := n.mixInput(0, q)
	out := n.setOutput(0, len(in))
	gain := g.Gain()
	for ch := range in {
		for i, s := range in[ch] {
			out[ch][i] = s * gain
		}
	}
}

// ChannelSplitter раскладывает каналы входа по отдельным моно выходам
type ChannelSplitter struct {
	*node
}

// CreateChannelSplitter создаёт сплиттер на outputs каналов.
// Моно вход раскладывается во все выходы (up-mix), поэтому L-R моно файла = 0.
func (c *Context) CreateChannelSplitter(outputs int) (*ChannelSplitter, error) {
	if outputs < 1 || outputs > OutputChannels {
		return nil, fmt.Errorf("unsupported splitter outputs: %d", outputs)
	}
	s := &ChannelSplitter{}
	s.node = newNode(c, "splitter", 1, outputs, s)
	s.in[0].channels = outputs
	return s, nil
}

func (s *ChannelSplitter) process(n *node, q uint64) {
	in := n.mixInput(0, q)
	for o := range n.out {
		out := n.setOutput(o, 1)
		copy(out[0], in[o])
	}
}

// ChannelMerger собирает моно входы в один многоканальный выход.
// Соединения на один и тот же вход суммируются.
type ChannelMerger struct {
	*node
}

// CreateChannelMerger создаёт мерджер на inputs входов
func (c *Context) CreateChannelMerger(inputs int) (*ChannelMerger, error) {
	if inputs < 1 || inputs > OutputChannels {
		return nil, fmt.Errorf("unsupported merger inputs: %d", inputs)
	}
	m := &ChannelMerger{}
	m.node = newNode(c, "merger", inputs, 1, m)
	for i := range m.in {
		m.in[i].channels = 1
	}
	return m, nil
}

func (m *ChannelMerger) process(n *node, q uint64) {
	out := n.setOutput(0, len(n.in))
	for i := range n.in {
		in := n.mixInput(i, q)
		copy(out[i], in[0])
	}
}

package audio

import "fmt"

// FrameReader - источник PCM, который тянет граф (медиа плеер).
// ReadFrames заполняет планарный буфер dst[channel][frame] и возвращает
// количество записанных фреймов; остаток буфера граф заполнит тишиной.
type FrameReader interface {
	Channels() int
	ReadFrames(dst [][]float32) int
}

// MediaElementSource - отвод (tap) от медиа источника.
// Один tap может питать несколько независимых путей; отключение пути tap не разрушает.
type MediaElementSource struct {
	*node
	reader   FrameReader
	channels int
}

// CreateMediaElementSource создаёт tap для источника
func (c *Context) CreateMediaElementSource(r FrameReader) (*MediaElementSource, error) {
	if r == nil {
		return nil, fmt.Errorf("nil media source")
	}
	channels := r.Channels()
	if channels < 1 || channels > OutputChannels {
		return nil, fmt.Errorf("unsupported channel count: %d", channels)
	}
	s := &MediaElementSource{reader: r, channels: channels}
	s.node = newNode(c, "media-source", 0, 1, s)
	// Медиа элемент играет независимо от того, подключён ли к нему какой-то путь
	c.addAutoPull(s.node)
	return s, nil
}

// Channels возвращает число каналов источника
func (s *MediaElementSource) Channels() int {
	return s.channels
}

func (s *MediaElementSource) process(n *node, q uint64) {
	out := n.setOutput(0, s.channels)
	s.reader.ReadFrames(out)
}

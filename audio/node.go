package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrContextClosed возвращается при работе с закрытым контекстом
	ErrContextClosed = errors.New("audio context is closed")
	// ErrNodeReleased возвращается при подключении освобождённого узла
	ErrNodeReleased = errors.New("audio node is released")
	// ErrCycle возвращается если соединение образует цикл в графе
	ErrCycle = errors.New("connection would create a cycle")
)

// Node - любой узел графа обработки
type Node interface {
	base() *node
}

// processor вычисляет выходы узла для одного render quantum
type processor interface {
	process(n *node, q uint64)
}

// edge - соединение выхода одного узла со входом другого
type edge struct {
	from   *node
	output int
	to     *node
	input  int
}

// inputPort описывает вход узла
type inputPort struct {
	edges []edge
	// channels - фиксированное число каналов входа (0 = максимум по источникам)
	channels int
	buf      [][]float32
}

// node содержит общую часть всех узлов: соединения и кеш выходов
type node struct {
	ctx   *Context
	kind  string
	proc  processor
	in    []inputPort
	out   [][][]float32 // [output][channel][frame]
	edges []edge        // исходящие соединения

	renderedAt uint64
	released   bool
}

func newNode(ctx *Context, kind string, inputs, outputs int, proc processor) *node {
	n := &node{
		ctx:  ctx,
		kind: kind,
		proc: proc,
		in:   make([]inputPort, inputs),
		out:  make([][][]float32, outputs),
	}
	return n
}

func (n *node) base() *node { return n }

// Kind возвращает тип узла (gain, splitter, merger, analyser, ...)
func (n *node) Kind() string { return n.kind }

// Connect соединяет выход 0 этого узла со входом 0 узла dst
func (n *node) Connect(dst Node) error {
	return n.ConnectPort(dst, 0, 0)
}

// ConnectPort соединяет выход output этого узла со входом input узла dst.
// Повторное соединение тех же портов ничего не делает.
func (n *node) ConnectPort(dst Node, output, input int) error {
	if dst == nil {
		return fmt.Errorf("connect %s: nil destination", n.kind)
	}
	d := dst.base()

	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()

	if n.ctx.state == StateClosed {
		return ErrContextClosed
	}
	if d.ctx != n.ctx {
		return fmt.Errorf("connect %s -> %s: nodes belong to different contexts", n.kind, d.kind)
	}
	if n.released || d.released {
		return ErrNodeReleased
	}
	if output < 0 || output >= len(n.out) {
		return fmt.Errorf("connect %s: output index %d out of range", n.kind, output)
	}
	if input < 0 || input >= len(d.in) {
		return fmt.Errorf("connect %s -> %s: input index %d out of range", n.kind, d.kind, input)
	}
	for _, e := range n.edges {
		if e.to == d && e.output == output && e.input == input {
			return nil
		}
	}
	if d == n || d.reaches(n) {
		return ErrCycle
	}

	e := edge{from: n, output: output, to: d, input: input}
	n.edges = append(n.edges, e)
	d.in[input].edges = append(d.in[input].edges, e)
	return nil
}

// Disconnect разрывает все исходящие соединения узла
func (n *node) Disconnect() {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	n.disconnectLocked(nil)
}

// DisconnectFrom разрывает исходящие соединения с узлом dst
func (n *node) DisconnectFrom(dst Node) {
	if dst == nil {
		return
	}
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	n.disconnectLocked(dst.base())
}

// ConnectedTo сообщает есть ли хотя бы одно соединение с dst
func (n *node) ConnectedTo(dst Node) bool {
	if dst == nil {
		return false
	}
	d := dst.base()
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	for _, e := range n.edges {
		if e.to == d {
			return true
		}
	}
	return false
}

// InputCount возвращает число соединений, приходящих на вход input
func (n *node) InputCount(input int) int {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	if input < 0 || input >= len(n.in) {
		return 0
	}
	return len(n.in[input].edges)
}

// Release отсоединяет узел со всех сторон и исключает его из рендера.
// После Release узел нельзя подключить снова.
func (n *node) Release() {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	if n.released {
		return
	}
	n.disconnectLocked(nil)
	for i := range n.in {
		for _, e := range n.in[i].edges {
			e.from.removeEdge(e)
		}
		n.in[i].edges = nil
	}
	delete(n.ctx.autoPull, n)
	n.released = true
}

// Released сообщает был ли узел освобождён
func (n *node) Released() bool {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	return n.released
}

func (n *node) disconnectLocked(only *node) {
	kept := n.edges[:0]
	for _, e := range n.edges {
		if only != nil && e.to != only {
			kept = append(kept, e)
			continue
		}
		e.to.removeInputEdge(e)
	}
	n.edges = kept
}

func (n *node) removeEdge(target edge) {
	kept := n.edges[:0]
	for _, e := range n.edges {
		if e != target {
			kept = append(kept, e)
		}
	}
	n.edges = kept
}

func (n *node) removeInputEdge(target edge) {
	port := &n.in[target.input]
	kept := port.edges[:0]
	for _, e := range port.edges {
		if e != target {
			kept = append(kept, e)
		}
	}
	port.edges = kept
}

// reaches сообщает достижим ли target по исходящим соединениям
func (n *node) reaches(target *node) bool {
	for _, e := range n.edges {
		if e.to == target || e.to.reaches(target) {
			return true
		}
	}
	return false
}

// pull вычисляет выходы узла один раз за render quantum
func (n *node) pull(q uint64) {
	if n.renderedAt == q {
		return
	}
	n.renderedAt = q
	n.proc.process(n, q)
}

// mixInput смешивает все соединения входа i в буфер входа.
// Правила up/down-mix как у "speakers": моно -> стерео копирует канал,
// стерео -> моно берёт 0.5*(L+R).
func (n *node) mixInput(i int, q uint64) [][]float32 {
	port := &n.in[i]

	channels := port.channels
	if channels == 0 {
		channels = 1
		for _, e := range port.edges {
			e.from.pull(q)
			if c := len(e.from.out[e.output]); c > channels {
				channels = c
			}
		}
	}

	port.buf = ensureBus(port.buf, channels)
	for _, e := range port.edges {
		e.from.pull(q)
		mixInto(port.buf, e.from.out[e.output])
	}
	return port.buf
}

// setOutput подготавливает выходной буфер с нужным числом каналов (обнулённый)
func (n *node) setOutput(o, channels int) [][]float32 {
	n.out[o] = ensureBus(n.out[o], channels)
	return n.out[o]
}

func ensureBus(bus [][]float32, channels int) [][]float32 {
	if len(bus) != channels {
		bus = make([][]float32, channels)
		for ch := range bus {
			bus[ch] = make([]float32, RenderQuantum)
		}
		return bus
	}
	for ch := range bus {
		clear(bus[ch])
	}
	return bus
}

func mixInto(dst, src [][]float32) {
	switch {
	case len(src) == 0:
		return
	case len(dst) == len(src):
		for ch := range dst {
			addInto(dst[ch], src[ch], 1)
		}
	case len(src) == 1:
		// Up-mix: моно во все каналы
		for ch := range dst {
			addInto(dst[ch], src[0], 1)
		}
	case len(dst) == 1:
		// Down-mix: среднее каналов
		scale := 1 / float32(len(src))
		for ch := range src {
			addInto(dst[0], src[ch], scale)
		}
	default:
		// Discrete: лишние каналы отбрасываются
		for ch := 0; ch < len(dst) && ch < len(src); ch++ {
			addInto(dst[ch], src[ch], 1)
		}
	}
}

func addInto(dst, src []float32, scale float32) {
	for i := range dst {
		dst[i] += src[i] * scale
	}
}

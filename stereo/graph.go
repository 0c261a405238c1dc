package stereo

import (
	"errors"
	"fmt"
	"sync"

	"stereochecker/audio"

	log "github.com/sirupsen/logrus"
)

const (
	monoBranchGain     = 0.5
	analysisLeftGain   = 1.0
	analysisRightGain  = -1.0
	stereoPassThrough  = 1.0
	analysisPathLabel  = "analysis"
	splitterChannels   = 2
	mergerInputs       = 1
	mergerDefaultInput = 0
)

// graphNode - узел аудио графа с операциями соединения
type graphNode interface {
	audio.Node
	Connect(dst audio.Node) error
	ConnectPort(dst audio.Node, output, input int) error
	DisconnectFrom(dst audio.Node)
	ConnectedTo(dst audio.Node) bool
	Release()
}

// Path - цепочка узлов от tap. entry получает сигнал от tap,
// exit подключается к выходу устройства (у пути анализа выхода нет).
type Path struct {
	label string
	entry graphNode
	exit  graphNode
	nodes []graphNode
	probe *audio.AnalyserNode
}

// Label возвращает имя пути
func (p *Path) Label() string {
	return p.label
}

// Probe возвращает анализатор пути (nil для выходных путей)
func (p *Path) Probe() *audio.AnalyserNode {
	return p.probe
}

func (p *Path) attach(tap *audio.MediaElementSource, dest audio.Node) error {
	if err := tap.Connect(p.entry); err != nil {
		return fmt.Errorf("failed to connect tap to %s path: %w", p.label, err)
	}
	if dest == nil {
		return nil
	}
	if err := p.exit.Connect(dest); err != nil {
		tap.DisconnectFrom(p.entry)
		return fmt.Errorf("failed to connect %s path to output: %w", p.label, err)
	}
	return nil
}

func (p *Path) detach(tap *audio.MediaElementSource, dest audio.Node) {
	tap.DisconnectFrom(p.entry)
	if dest != nil {
		p.exit.DisconnectFrom(dest)
	}
}

func (p *Path) release(tap *audio.MediaElementSource) {
	tap.DisconnectFrom(p.entry)
	for _, n := range p.nodes {
		n.Release()
	}
}

// Graph - граф сигналов одного источника: stereo, mono и путь анализа,
// все питаются от одного tap. Ни один путь не подключён к выходу при создании.
type Graph struct {
	ctx *audio.Context
	tap *audio.MediaElementSource

	analyser audio.AnalyserOptions

	mu       sync.Mutex
	stereo   *Path
	mono     *Path
	analysis *Path
	released bool
}

// NewGraph строит все три пути от tap
func NewGraph(ctx *audio.Context, tap *audio.MediaElementSource) (*Graph, error) {
	return NewGraphWithOptions(ctx, tap, audio.DefaultAnalyserOptions())
}

// NewGraphWithOptions строит граф с заданными параметрами анализатора
func NewGraphWithOptions(ctx *audio.Context, tap *audio.MediaElementSource, opts audio.AnalyserOptions) (*Graph, error) {
	if ctx == nil || tap == nil {
		return nil, ErrNotReady
	}
	if tap.Channels() < splitterChannels {
		// Моно источник допустим: сплиттер растянет его на оба канала, вердикт будет "mono"
		log.Printf("Graph: tap has %d channel(s), analysis will report mono", tap.Channels())
	}

	g := &Graph{ctx: ctx, tap: tap, analyser: opts}

	stereo, err := g.buildStereoPath()
	if err != nil {
		return nil, err
	}
	g.stereo = stereo

	mono, err := g.buildMonoPath()
	if err != nil {
		stereo.release(tap)
		return nil, err
	}
	g.mono = mono

	analysis, err := g.buildAnalysisPath()
	if err != nil {
		stereo.release(tap)
		mono.release(tap)
		return nil, err
	}
	g.analysis = analysis

	return g, nil
}

// Context возвращает аудио контекст графа
func (g *Graph) Context() *audio.Context {
	return g.ctx
}

// Tap возвращает общий tap источника
func (g *Graph) Tap() *audio.MediaElementSource {
	return g.tap
}

// Output возвращает выходной путь
func (g *Graph) Output(kind PathKind) *Path {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch kind {
	case PathStereo:
		return g.stereo
	case PathMono:
		return g.mono
	default:
		return nil
	}
}

// AnalysisPath возвращает текущий путь анализа
func (g *Graph) AnalysisPath() *Path {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.analysis
}

// NewAnalysisPath освобождает прежний путь анализа и строит новый:
// свежие splitter/merger/probe без накопленного сглаживания.
func (g *Graph) NewAnalysisPath() (*Path, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return nil, ErrNotReady
	}
	if g.analysis != nil {
		g.analysis.release(g.tap)
		g.analysis = nil
	}
	p, err := g.buildAnalysisPath()
	if err != nil {
		return nil, err
	}
	g.analysis = p
	return p, nil
}

// ReleaseAnalysisPath отключает и освобождает путь анализа, если он текущий
func (g *Graph) ReleaseAnalysisPath(p *Path) {
	if p == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p.release(g.tap)
	if g.analysis == p {
		g.analysis = nil
	}
}

// OutputConnected сообщает подключён ли путь к выходу устройства
func (g *Graph) OutputConnected(kind PathKind) bool {
	p := g.Output(kind)
	if p == nil {
		return false
	}
	return p.exit.ConnectedTo(g.ctx.Destination()) && g.tap.ConnectedTo(p.entry)
}

// ConnectedOutputs возвращает число путей, подключённых к выходу устройства
func (g *Graph) ConnectedOutputs() int {
	return g.ctx.Destination().InputCount(0)
}

// Release отключает и освобождает все внутренние узлы. Tap не трогается.
func (g *Graph) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return
	}
	g.released = true

	dest := g.ctx.Destination()
	for _, p := range []*Path{g.stereo, g.mono, g.analysis} {
		if p == nil {
			continue
		}
		p.detach(g.tap, dest)
		p.release(g.tap)
	}
	g.analysis = nil
	log.Printf("Graph: released")
}

func (g *Graph) buildStereoPath() (*Path, error) {
	gain := g.ctx.CreateGain()
	gain.SetGain(stereoPassThrough)
	return &Path{
		label: PathStereo.String(),
		entry: gain,
		exit:  gain,
		nodes: []graphNode{gain},
	}, nil
}

func (g *Graph) buildMonoPath() (*Path, error) {
	return g.buildSumPath(PathMono.String(), monoBranchGain, monoBranchGain, nil)
}

func (g *Graph) buildAnalysisPath() (*Path, error) {
	probe, err := g.ctx.CreateAnalyser(g.analyser)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyser: %w", err)
	}
	p, err := g.buildSumPath(analysisPathLabel, analysisLeftGain, analysisRightGain, probe)
	if err != nil {
		probe.Release()
		return nil, err
	}
	return p, nil
}

// buildSumPath строит splitter(2) -> gain(L), gain(R) -> merger(1) [-> probe]
func (g *Graph) buildSumPath(label string, leftGain, rightGain float32, probe *audio.AnalyserNode) (*Path, error) {
	splitter, err := g.ctx.CreateChannelSplitter(splitterChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to create splitter: %w", err)
	}
	merger, err := g.ctx.CreateChannelMerger(mergerInputs)
	if err != nil {
		splitter.Release()
		return nil, fmt.Errorf("failed to create merger: %w", err)
	}
	left := g.ctx.CreateGain()
	left.SetGain(leftGain)
	right := g.ctx.CreateGain()
	right.SetGain(rightGain)

	p := &Path{
		label: label,
		entry: splitter,
		exit:  merger,
		nodes: []graphNode{splitter, left, right, merger},
	}

	err = errors.Join(
		splitter.ConnectPort(left, 0, 0),
		splitter.ConnectPort(right, 1, 0),
		left.ConnectPort(merger, 0, mergerDefaultInput),
		right.ConnectPort(merger, 0, mergerDefaultInput),
	)
	if err == nil && probe != nil {
		err = merger.Connect(probe)
		p.exit = probe
		p.probe = probe
		p.nodes = append(p.nodes, probe)
	}
	if err != nil {
		p.release(g.tap)
		return nil, fmt.Errorf("failed to wire %s path: %w", label, err)
	}
	return p, nil
}

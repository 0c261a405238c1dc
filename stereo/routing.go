package stereo

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// RoutingController владеет тем, какой путь подключён к выходу устройства.
// Путь анализа никогда не становится текущим: классификатор подключает его
// временно, а затем восстанавливает выход, сохранённый в BeginAnalysis.
type RoutingController struct {
	mu      sync.Mutex
	graph   *Graph
	current PathKind

	analyzing bool
	restore   PathKind
	probe     *Path
}

// NewRoutingController создаёт контроллер без графа
func NewRoutingController() *RoutingController {
	return &RoutingController{}
}

// SetGraph привязывает контроллер к новому графу (или отвязывает при nil).
// Подключения старого графа снимает его Release; здесь только сброс состояния.
func (r *RoutingController) SetGraph(g *Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graph = g
	r.current = PathNone
	r.analyzing = false
	r.restore = PathNone
	r.probe = nil
}

// Graph возвращает текущий граф
func (r *RoutingController) Graph() *Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.graph
}

// Current возвращает путь, реально подключённый к выходу
func (r *RoutingController) Current() PathKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Preferred возвращает выбор пользователя: во время анализа - путь,
// который будет восстановлен, иначе текущий
func (r *RoutingController) Preferred() PathKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.analyzing {
		return r.restore
	}
	return r.current
}

// Analyzing сообщает идёт ли анализ
func (r *RoutingController) Analyzing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.analyzing
}

// Connect подключает путь kind к выходу, предварительно отключив текущий.
// Повторный вызов с тем же путём ничего не меняет. Во время анализа
// только запоминает выбор: он будет подключён в EndAnalysis.
func (r *RoutingController) Connect(kind PathKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graph == nil {
		return ErrNotReady
	}
	if r.analyzing {
		r.restore = kind
		log.Printf("Routing: analysis running, %s will be restored afterwards", kind)
		return nil
	}
	return r.connectLocked(kind)
}

// DisconnectCurrent отключает текущий путь от выхода
func (r *RoutingController) DisconnectCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.analyzing {
		r.restore = PathNone
		return
	}
	r.disconnectLocked()
}

// Toggle переключает Stereo <-> Mono (None -> Mono) и возвращает выбранный путь
func (r *RoutingController) Toggle() (PathKind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graph == nil {
		return PathNone, ErrNotReady
	}

	from := r.current
	if r.analyzing {
		from = r.restore
	}
	next := PathMono
	if from == PathMono {
		next = PathStereo
	}

	if r.analyzing {
		r.restore = next
		return next, nil
	}
	if err := r.connectLocked(next); err != nil {
		return r.current, err
	}
	return next, nil
}

// BeginAnalysis запоминает и отключает текущий выход. Возвращает запомненный путь.
func (r *RoutingController) BeginAnalysis() (PathKind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graph == nil {
		return PathNone, ErrNotReady
	}
	if r.analyzing {
		return PathNone, ErrAnalysisInProgress
	}
	r.restore = r.current
	r.disconnectLocked()
	r.analyzing = true
	return r.restore, nil
}

// AttachProbe временно подключает путь анализа к tap (без выхода на устройство)
func (r *RoutingController) AttachProbe(p *Path) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graph == nil {
		return ErrNotReady
	}
	if !r.analyzing {
		return fmt.Errorf("attach probe: no analysis in progress")
	}
	r.detachProbeLocked()
	if err := p.attach(r.graph.tap, nil); err != nil {
		return err
	}
	r.probe = p
	return nil
}

// DetachProbe отключает путь анализа от tap
func (r *RoutingController) DetachProbe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachProbeLocked()
}

// EndAnalysis отключает путь анализа и восстанавливает запомненный выход
func (r *RoutingController) EndAnalysis() (PathKind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graph == nil {
		return PathNone, ErrNotReady
	}
	r.detachProbeLocked()
	if !r.analyzing {
		return r.current, nil
	}
	r.analyzing = false
	restore := r.restore
	r.restore = PathNone
	if err := r.connectLocked(restore); err != nil {
		return r.current, fmt.Errorf("failed to restore %s output: %w", restore, err)
	}
	return restore, nil
}

func (r *RoutingController) connectLocked(kind PathKind) error {
	if kind == r.current && (kind == PathNone || r.graph.OutputConnected(kind)) {
		return nil
	}
	r.disconnectLocked()
	if kind == PathNone {
		return nil
	}

	p := r.graph.Output(kind)
	if p == nil {
		return fmt.Errorf("unknown output path %d", int(kind))
	}
	if err := p.attach(r.graph.tap, r.graph.ctx.Destination()); err != nil {
		return err
	}
	r.current = kind
	log.Printf("Routing: %s connected", kind)
	return nil
}

// disconnectLocked снимает оба выходных пути, а не только текущий
func (r *RoutingController) disconnectLocked() {
	r.current = PathNone
	if r.graph == nil {
		return
	}
	dest := r.graph.ctx.Destination()
	for _, kind := range []PathKind{PathStereo, PathMono} {
		if p := r.graph.Output(kind); p != nil {
			p.detach(r.graph.tap, dest)
		}
	}
}

func (r *RoutingController) detachProbeLocked() {
	if r.probe == nil {
		return
	}
	r.probe.detach(r.graph.tap, nil)
	r.probe = nil
}

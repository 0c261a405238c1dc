package stereo

import (
	"fmt"
	"slices"

	log "github.com/sirupsen/logrus"
)

// RunState - состояние прогона анализа
type RunState int

const (
	RunIdle RunState = iota
	RunSeeking
	RunSampling
	RunRestoring
	RunDone
	RunAborted
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunSeeking:
		return "seeking"
	case RunSampling:
		return "sampling"
	case RunRestoring:
		return "restoring"
	case RunDone:
		return "done"
	case RunAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText для JSON
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText разбирает имя состояния
func (s *RunState) UnmarshalText(text []byte) error {
	for st := RunIdle; st <= RunAborted; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", text)
}

// Terminal сообщает что прогон завершён
func (s RunState) Terminal() bool {
	return s == RunDone || s == RunAborted
}

var runTransitions = map[RunState][]RunState{
	RunIdle:      {RunSeeking, RunAborted},
	RunSeeking:   {RunSampling, RunRestoring},
	RunSampling:  {RunSeeking, RunRestoring},
	RunRestoring: {RunDone, RunAborted},
}

// StateChange - уведомление о переходе прогона
type StateChange struct {
	RunID   string         `json:"runId"`
	State   RunState       `json:"state"`
	Section int            `json:"section"`
	Total   int            `json:"total"`
	Point   *AnalysisPoint `json:"point,omitempty"`
	Err     error          `json:"-"`
}

// run - конечный автомат одного прогона
type run struct {
	id       string
	state    RunState
	total    int
	section  int
	point    *AnalysisPoint
	onChange func(StateChange)
}

func newRun(id string, onChange func(StateChange)) *run {
	return &run{id: id, state: RunIdle, onChange: onChange}
}

// to выполняет переход; недопустимый переход логируется и игнорируется
func (r *run) to(next RunState, err error) bool {
	if !slices.Contains(runTransitions[r.state], next) {
		log.Warnf("Classifier: invalid transition %s -> %s (run %s)", r.state, next, r.id)
		return false
	}
	r.state = next
	if r.onChange != nil {
		r.onChange(StateChange{
			RunID:   r.id,
			State:   next,
			Section: r.section,
			Total:   r.total,
			Point:   r.point,
			Err:     err,
		})
	}
	return true
}

// seek переводит автомат в Seeking для секции i
func (r *run) seek(i int, p AnalysisPoint) {
	r.section = i + 1
	r.point = &p
	r.to(RunSeeking, nil)
}

package stereo

import "errors"

var (
	// ErrNotReady - операция вызвана до того, как появились источник и граф
	ErrNotReady = errors.New("stereo: source graph not ready")

	// ErrDeviceSuspended - часы устройства стоят и resume не разрешён
	ErrDeviceSuspended = errors.New("stereo: audio device suspended")

	// ErrInsufficientDuration - источник короче минимальной длительности анализа
	ErrInsufficientDuration = errors.New("stereo: source too short to analyze")

	// ErrDurationUnknown - длительность так и не стала известна
	ErrDurationUnknown = errors.New("stereo: source duration unknown")

	// ErrAnalysisAborted - источник сменился или выгружен во время анализа
	ErrAnalysisAborted = errors.New("stereo: analysis aborted")

	// ErrAnalysisInProgress - анализ уже идёт
	ErrAnalysisInProgress = errors.New("stereo: analysis already in progress")

	// ErrNoSamples - ни одна секция не получила ни одного кадра.
	// Пустая секция сама по себе даёт нулевой вклад, но если пусты все три,
	// средняя энергия 0 читалась бы как вердикт mono, поэтому прогон отказывает.
	ErrNoSamples = errors.New("stereo: no energy samples collected")
)

// IsFailure сообщает что err означает "не удалось определить", а не вердикт.
// ErrNotReady не считается отказом: это no-op.
func IsFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrNotReady)
}

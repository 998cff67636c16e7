// internal/service/imaging/progress.go

package imaging

// CompressionStep is a stage of a compression run
type CompressionStep string

const (
	StepIdle        CompressionStep = "idle"
	StepReading     CompressionStep = "reading"
	StepResizing    CompressionStep = "resizing"
	StepCompressing CompressionStep = "compressing"
	StepReady       CompressionStep = "ready"
	StepError       CompressionStep = "error"
)

// CompressionState is reported to progress callbacks. Progress is 0-100 and
// only meant for display.
type CompressionState struct {
	Step     CompressionStep `json:"step"`
	Progress int             `json:"progress"`
	Error    string          `json:"error,omitempty"`
}

// ProgressFunc receives compression state changes
type ProgressFunc func(CompressionState)

var stepProgress = map[CompressionStep]int{
	StepIdle:        0,
	StepReading:     10,
	StepResizing:    30,
	StepCompressing: 60,
	StepReady:       100,
}

type tracker struct {
	fn       ProgressFunc
	progress int
}

func newTracker(fn ProgressFunc) *tracker {
	return &tracker{fn: fn}
}

// emit reports step. Progress never goes backwards on the resize-retry path.
func (t *tracker) emit(step CompressionStep) {
	if p := stepProgress[step]; p > t.progress {
		t.progress = p
	}
	if t.fn != nil {
		t.fn(CompressionState{Step: step, Progress: t.progress})
	}
}

func (t *tracker) fail(err error) {
	if t.fn != nil {
		t.fn(CompressionState{Step: StepError, Progress: t.progress, Error: err.Error()})
	}
}

package upload

import "fmt"

type State int

const (
	StateNotStarted State = iota
	StateSessionOpened
	StateUploading
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateSessionOpened:
		return "SessionOpened"
	case StateUploading:
		return "Uploading"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Outcome is the result of one upload run: either a created resource or an
// error carrying a Kind.
type Outcome struct {
	ResourceID string
	URL        string
	Err        error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.ResourceID != ""
}

func (o Outcome) Kind() Kind {
	if o.Err == nil {
		return KindUnknown
	}
	if kind := KindOf(o.Err); kind != KindUnknown {
		return kind
	}
	return KindServer
}

func Failure(err error) Outcome {
	return Outcome{Err: err}
}

type Progress struct {
	Sent  int64
	Total int64
}

func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Sent) / float64(p.Total)
	return min(max(f, 0), 1)
}

type ProgressFunc func(Progress)

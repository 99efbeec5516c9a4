package sched

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// StackTrace is a list of frames captured by [GetStackTrace], optionally continued by the stack
// of whichever goroutine caused this one to run.
type StackTrace struct {
	Frames []StackFrame
	Parent *StackTrace
}

// StackFrame is a single function call within a [StackTrace]
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// GetStackTrace returns the stack of the calling goroutine, skipping the innermost skip frames
// above the caller. The parent, if not nil, is appended when printing.
func GetStackTrace(parent *StackTrace, skip uint) StackTrace {
	return StackTrace{Frames: captureFrames(skip + 1), Parent: parent}
}

// Top returns the innermost frame, or the zero StackFrame if there are none
func (st StackTrace) Top() StackFrame {
	if len(st.Frames) == 0 {
		return StackFrame{}
	}
	return st.Frames[0]
}

func (st StackTrace) String() string {
	var sb strings.Builder

	for cur := &st; cur != nil; cur = cur.Parent {
		if len(cur.Frames) == 0 {
			sb.WriteString("<empty stack>\n")
			continue
		}

		for _, f := range cur.Frames {
			f.writeTo(&sb)
		}
	}

	return sb.String()
}

func (f StackFrame) writeTo(sb *strings.Builder) {
	if f.Function == "" {
		sb.WriteString("<unknown function>")
	} else {
		sb.WriteString(f.Function)
		sb.WriteString("(...)")
	}
	sb.WriteString("\n\t")

	if f.File == "" {
		sb.WriteString("<unknown file>")
	} else {
		sb.WriteString(f.File)
		if f.Line != 0 {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(f.Line))
		}
	}
	sb.WriteByte('\n')
}

var pcPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, 64)
		return &buf
	},
}

func captureFrames(skip uint) []StackFrame {
	// skip runtime.Callers and this function
	skip += 2

	bufp := pcPool.Get().(*[]uintptr)
	defer func() {
		if cap(*bufp) <= 1024 {
			pcPool.Put(bufp)
		}
	}()

	var pcs []uintptr
	for {
		n := runtime.Callers(0, *bufp)
		if n < len(*bufp) {
			pcs = (*bufp)[:n]
			break
		}
		*bufp = make([]uintptr, 2*len(*bufp))
	}

	var frames []StackFrame
	iter := runtime.CallersFrames(pcs)
	for more := len(pcs) != 0; more; {
		var frame runtime.Frame
		frame, more = iter.Next()

		if skip > 0 {
			skip -= 1
			continue
		}

		frames = append(frames, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
	}

	return frames
}

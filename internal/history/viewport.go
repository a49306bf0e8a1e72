package history

import (
	"strings"
	"sync"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// Viewport is the rendered list the loader keeps anchored. Heights and
// offsets are in the viewport's own units (pixels, rows).
type Viewport interface {
	// Render lays out items, oldest first.
	Render(items []core.Message)
	// ContentHeight is the total height of the last render.
	ContentHeight() int
	// ScrollOffset is the distance from the top of the content to the top
	// of the visible area.
	ScrollOffset() int
	SetScrollOffset(offset int)
	// AtBottom reports whether the last line is visible.
	AtBottom() bool
	ScrollToBottom()
}

// TextViewport renders messages as terminal rows: one row for the header
// plus one per content line.
type TextViewport struct {
	mu      sync.Mutex
	height  int
	offset  int
	content int
	items   []core.Message
}

// NewTextViewport creates a viewport that shows height rows at a time.
func NewTextViewport(height int) *TextViewport {
	if height < 1 {
		height = 1
	}
	return &TextViewport{height: height}
}

// RowsFor returns the rendered height of one message.
func RowsFor(m core.Message) int {
	return 1 + strings.Count(m.Content, "\n") + 1
}

func (v *TextViewport) Render(items []core.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = append(v.items[:0], items...)
	v.content = 0
	for _, m := range items {
		v.content += RowsFor(m)
	}
	v.offset = v.clamp(v.offset)
}

func (v *TextViewport) ContentHeight() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.content
}

func (v *TextViewport) ScrollOffset() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

func (v *TextViewport) SetScrollOffset(offset int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offset = v.clamp(offset)
}

func (v *TextViewport) AtBottom() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset >= v.maxOffset()
}

func (v *TextViewport) ScrollToBottom() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offset = v.maxOffset()
}

// TopItem returns the index of the first message visible at the top edge,
// or -1 when nothing is rendered.
func (v *TextViewport) TopItem() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	y := 0
	for i, m := range v.items {
		y += RowsFor(m)
		if y > v.offset {
			return i
		}
	}
	return -1
}

// Visible returns the messages intersecting the visible rows.
func (v *TextViewport) Visible() []core.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []core.Message
	y := 0
	for _, m := range v.items {
		h := RowsFor(m)
		if y+h > v.offset && y < v.offset+v.height {
			out = append(out, m)
		}
		y += h
	}
	return out
}

func (v *TextViewport) maxOffset() int {
	if v.content <= v.height {
		return 0
	}
	return v.content - v.height
}

func (v *TextViewport) clamp(offset int) int {
	if offset < 0 {
		return 0
	}
	if m := v.maxOffset(); offset > m {
		return m
	}
	return offset
}

package groundedsam

// TaskType selects the server-side pipeline.
type TaskType string

const (
	TaskInpainting   TaskType = "inpainting"
	TaskSegmentation TaskType = "seg"
	TaskDetection    TaskType = "det"
	TaskScribble     TaskType = "scribble"
	TaskAutomask     TaskType = "automask"
	TaskAutomatic    TaskType = "automatic"
)

// InpaintMode controls how several detected regions are combined before
// inpainting.
type InpaintMode string

const (
	InpaintMerge InpaintMode = "merge"
	InpaintFirst InpaintMode = "first"
)

// ScribbleMode controls how several scribble strokes are interpreted.
type ScribbleMode string

const (
	ScribbleMerge ScribbleMode = "merge"
	ScribbleSplit ScribbleMode = "split"
)

// TaskTypes lists every known task type.
func TaskTypes() []TaskType {
	return []TaskType{TaskInpainting, TaskSegmentation, TaskDetection, TaskScribble, TaskAutomask, TaskAutomatic}
}

// InpaintModes lists every known inpaint mode.
func InpaintModes() []InpaintMode {
	return []InpaintMode{InpaintMerge, InpaintFirst}
}

// ScribbleModes lists every known scribble mode.
func ScribbleModes() []ScribbleMode {
	return []ScribbleMode{ScribbleMerge, ScribbleSplit}
}

// IsKnown reports whether t is one of the documented task types.
func (t TaskType) IsKnown() bool { return contains(TaskTypes(), t) }

// IsKnown reports whether m is one of the documented inpaint modes.
func (m InpaintMode) IsKnown() bool { return contains(InpaintModes(), m) }

// IsKnown reports whether m is one of the documented scribble modes.
func (m ScribbleMode) IsKnown() bool { return contains(ScribbleModes(), m) }

func contains[E ~string](set []E, v E) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

type choiceKind uint8

const (
	choiceUnset choiceKind = iota
	choiceEnum
	choiceRaw
)

// Choice holds an optional selector that is either an enum member or a raw
// string forwarded without validation. The zero value is unset.
type Choice[E ~string] struct {
	kind  choiceKind
	value string
}

// Of selects an enum member.
func Of[E ~string](v E) Choice[E] {
	return Choice[E]{kind: choiceEnum, value: string(v)}
}

// Raw selects an arbitrary string. Values outside the enum are still sent.
func Raw[E ~string](s string) Choice[E] {
	return Choice[E]{kind: choiceRaw, value: s}
}

// IsSet reports whether a value was chosen.
func (c Choice[E]) IsSet() bool { return c.kind != choiceUnset }

// IsRaw reports whether the value came from a raw string.
func (c Choice[E]) IsRaw() bool { return c.kind == choiceRaw }

// Value returns the canonical wire string, or "" when unset.
func (c Choice[E]) Value() string { return c.value }

// Or returns c, or def when c is unset.
func (c Choice[E]) Or(def E) Choice[E] {
	if c.IsSet() {
		return c
	}
	return Of(def)
}

func (c Choice[E]) wire() *string {
	if !c.IsSet() {
		return nil
	}
	v := c.value
	return &v
}

// TaskTypeOf wraps a raw task type string.
func TaskTypeOf(s string) Choice[TaskType] { return Raw[TaskType](s) }

// InpaintModeOf wraps a raw inpaint mode string.
func InpaintModeOf(s string) Choice[InpaintMode] { return Raw[InpaintMode](s) }

// ScribbleModeOf wraps a raw scribble mode string.
func ScribbleModeOf(s string) Choice[ScribbleMode] { return Raw[ScribbleMode](s) }

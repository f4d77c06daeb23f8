package sheet

// Command is one invertible mutation. apply and revert must be exact
// inverses over the captured state; compound edits (range formula, fill)
// are a single command so one undo reverses the whole gesture.
type Command interface {
	Name() string
	apply(t *Table) error
	revert(t *Table) error
	effects() (data, meta bool)
}

// recomputing is implemented by commands that can change computed cells.
// A nil slice means the whole table must be recomputed.
type recomputing interface {
	touchedRows() []RowID
}

// Effect markers embedded by commands.
type dataEffect struct{}

func (dataEffect) effects() (data, meta bool) { return true, false }

type metaEffect struct{}

func (metaEffect) effects() (data, meta bool) { return false, true }

type dataMetaEffect struct{}

func (dataMetaEffect) effects() (data, meta bool) { return true, true }

// History is the bounded undo/redo store. Pushing past the cap evicts the
// oldest entry; any new command clears the redo side.
type History struct {
	limit  int
	past   []Command
	future []Command
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 1
	}
	return &History{limit: limit}
}

func (h *History) Push(cmd Command) {
	if len(h.past) >= h.limit {
		copy(h.past, h.past[1:])
		h.past = h.past[:len(h.past)-1]
	}
	h.past = append(h.past, cmd)
	h.future = h.future[:0]
}

// PopUndo moves the newest past command to the redo side and returns it.
func (h *History) PopUndo() (Command, error) {
	if len(h.past) == 0 {
		return nil, ErrNothingToUndo
	}
	cmd := h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	h.future = append(h.future, cmd)
	return cmd, nil
}

// PopRedo moves the newest undone command back to the past side.
func (h *History) PopRedo() (Command, error) {
	if len(h.future) == 0 {
		return nil, ErrNothingToRedo
	}
	cmd := h.future[len(h.future)-1]
	h.future = h.future[:len(h.future)-1]
	h.past = append(h.past, cmd)
	return cmd, nil
}

func (h *History) CanUndo() bool { return len(h.past) > 0 }
func (h *History) CanRedo() bool { return len(h.future) > 0 }
func (h *History) Depth() int    { return len(h.past) }

// Labels lists command names on both sides: the undo side oldest first,
// the redo side next-to-redo first.
func (h *History) Labels() (undo, redo []string) {
	for _, cmd := range h.past {
		undo = append(undo, cmd.Name())
	}
	for i := len(h.future) - 1; i >= 0; i-- {
		redo = append(redo, h.future[i].Name())
	}
	return undo, redo
}

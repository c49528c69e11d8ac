package pool

// QueryBinder collects positional statement arguments. Each Bind advances the
// cursor by one placeholder. A connection owns one binder, reset every time
// it is handed out.
type QueryBinder struct {
	args []any
}

// Bind appends v at the next placeholder position.
func (b *QueryBinder) Bind(v any) *QueryBinder {
	b.args = append(b.args, v)
	return b
}

// BindAll appends every value in order.
func (b *QueryBinder) BindAll(vs ...any) *QueryBinder {
	b.args = append(b.args, vs...)
	return b
}

// Position is the number of placeholders bound so far.
func (b *QueryBinder) Position() int {
	return len(b.args)
}

// Args returns the bound arguments.
func (b *QueryBinder) Args() []any {
	return b.args
}

// Reset rewinds the cursor, keeping the backing storage.
func (b *QueryBinder) Reset() {
	clear(b.args)
	b.args = b.args[:0]
}

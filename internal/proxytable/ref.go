package proxytable

// Ref names one table cell. It is the lightweight work item the I/O cores
// hand to the filter pools instead of a full OQ (§4.5).
type Ref struct {
	Grid uint16
	Slot uint16
}

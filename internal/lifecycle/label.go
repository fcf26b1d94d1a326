package lifecycle

// LabelRevised is shown for a file that replaces a rejected one or one
// sent back for revision.
const LabelRevised = "REVISED"

// DisplayLabel derives the user-facing label of a file. superseded is the
// status of the file this one replaces, or nil when it replaces nothing.
// The label is a view-level fact and is never stored.
func (d *Definition) DisplayLabel(status Status, superseded *Status) string {
	if superseded != nil && (d.IsRejection(*superseded) || *superseded == StatusUnderRevision) {
		return LabelRevised
	}
	if info, ok := d.statuses[status]; ok {
		return info.Label
	}
	return string(status)
}

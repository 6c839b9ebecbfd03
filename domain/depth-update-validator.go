package domain

// DepthUpdateValidator checks a diff's sequence id range against the book
// cursor. The rules follow the snapshot-plus-diff reconciliation protocol:
//
//	initial diff after a snapshot S: first <= S+1 <= final
//	every later diff:                first == previous final + 1
type DepthUpdateValidator struct{}

// ValidateInitial is applied to the first diff after a snapshot with
// last_update_id == snapshotID.
func (v *DepthUpdateValidator) ValidateInitial(d *DiffEvent, snapshotID int64) error {
	if d.FinalUpdateID <= snapshotID {
		return ErrUpdateOutdated
	}
	if d.FirstUpdateID > snapshotID+1 {
		return ErrUpdateOutOfSequence
	}
	return nil
}

// ValidateSequential is applied to every diff once synced.
func (v *DepthUpdateValidator) ValidateSequential(d *DiffEvent, lastUpdateID int64) error {
	if d.FinalUpdateID <= lastUpdateID {
		return ErrUpdateOutdated
	}
	if d.FirstUpdateID != lastUpdateID+1 {
		return ErrUpdateOutOfSequence
	}
	return nil
}

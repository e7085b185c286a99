package domain

// PositionUpdate assigns one sibling its new dense position. ParentID is
// the column id for cards and the board id for columns.
type PositionUpdate struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	ParentID string `json:"parentId"`
}

// PlanMove computes the dense renumbering needed to place movedID at
// destIndex. source and dest are the current ordered sibling id lists of
// the source and destination parents; for a same-parent move dest must be
// nil and destParent equal to sourceParent. The result contains an update
// for every sibling whose position (or parent) changes, and is empty when
// the move is a no-op.
//
// Positions are contiguous zero-based integers, so every sibling behind an
// insertion or removal point shifts. destIndex past the end clamps to
// append.
func PlanMove(source, dest []string, sourceParent, destParent, movedID string, destIndex int) []PositionUpdate {
	if destIndex < 0 {
		destIndex = 0
	}
	if sourceParent == destParent {
		return planSameParent(source, sourceParent, movedID, destIndex)
	}

	var updates []PositionUpdate
	rest := removeID(source, movedID)
	updates = appendShifted(updates, rest, source, sourceParent)

	if destIndex > len(dest) {
		destIndex = len(dest)
	}
	reordered := make([]string, 0, len(dest)+1)
	reordered = append(reordered, dest[:destIndex]...)
	reordered = append(reordered, movedID)
	reordered = append(reordered, dest[destIndex:]...)
	// The moved entity always appears in the output: it is absent from the
	// original destination list, so its index never matches.
	return appendShifted(updates, reordered, dest, destParent)
}

func planSameParent(siblings []string, parent, movedID string, destIndex int) []PositionUpdate {
	from := indexOf(siblings, movedID)
	if from == -1 {
		// Treat an id the caller has not inserted yet as an append-style
		// placement among its future siblings.
		return PlanMove(nil, siblings, "", parent, movedID, destIndex)
	}
	if destIndex >= len(siblings) {
		destIndex = len(siblings) - 1
	}
	if destIndex == from {
		return nil
	}
	reordered := removeID(siblings, movedID)
	tail := make([]string, 0, len(siblings))
	tail = append(tail, reordered[:destIndex]...)
	tail = append(tail, movedID)
	tail = append(tail, reordered[destIndex:]...)
	return appendShifted(nil, tail, siblings, parent)
}

// appendShifted emits updates for ids whose index in reordered differs
// from their index in the original list.
func appendShifted(updates []PositionUpdate, reordered, original []string, parent string) []PositionUpdate {
	for i, id := range reordered {
		if indexOf(original, id) != i {
			updates = append(updates, PositionUpdate{ID: id, Position: i, ParentID: parent})
		}
	}
	return updates
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

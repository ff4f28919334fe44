package domain

import "sort"

// NextPosition computes the append position for a new task in a column.
// last is the column's highest-position record, nil when the column is empty.
func NextPosition(last *Task) int {
	if last == nil {
		return 0
	}
	return last.Position + 1
}

// SamePlacement reports whether moving t to (status, position) would change
// nothing. Such moves must cause no write and no broadcast.
func SamePlacement(t Task, status Status, position int) bool {
	return t.Status == status && t.Position == position
}

// SortColumn orders tasks ascending by position. Positions are not required
// to be contiguous or unique, so ties fall back to creation time and finally
// the task ID to keep the order deterministic.
func SortColumn(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// Column returns the sorted tasks of a single (board, status) column.
func Column(tasks []Task, status Status) []Task {
	col := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == status {
			col = append(col, t)
		}
	}
	SortColumn(col)
	return col
}

// MaxPosition returns the column's highest-position task, or nil when the
// column is empty. It mirrors the store's LastInColumn for in-memory lists.
func MaxPosition(tasks []Task, boardID string, status Status) *Task {
	var last *Task
	for i := range tasks {
		t := &tasks[i]
		if t.BoardID != boardID || t.Status != status {
			continue
		}
		if last == nil || t.Position > last.Position {
			last = t
		}
	}
	return last
}

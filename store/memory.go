package store

import (
	"context"
	"fmt"
	"sync"

	"campaign-tracker/models"
)

// MemoryGrid is an in-process Grid. It backs tests and dry runs.
type MemoryGrid struct {
	mu     sync.RWMutex
	sheets map[string][][]string
	writes int
}

// NewMemoryGrid copies the given sheets into a new grid.
func NewMemoryGrid(sheets map[string][][]string) *MemoryGrid {
	g := &MemoryGrid{sheets: make(map[string][][]string, len(sheets))}
	for name, rows := range sheets {
		g.sheets[name] = copyRows(rows)
	}
	return g
}

// NewMemoryStore is a GridStore over a fresh MemoryGrid.
func NewMemoryStore(sheets map[string][][]string) (*GridStore, *MemoryGrid) {
	g := NewMemoryGrid(sheets)
	return NewGridStore(g), g
}

func (g *MemoryGrid) ReadAll(ctx context.Context, sheet string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	rows, ok := g.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSheetNotFound, sheet)
	}
	return copyRows(rows), nil
}

func (g *MemoryGrid) ReadRows(ctx context.Context, sheet string, rows ...int) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	all, ok := g.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSheetNotFound, sheet)
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		if r >= 1 && r <= len(all) {
			out[i] = append([]string(nil), all[r-1]...)
		}
	}
	return out, nil
}

func (g *MemoryGrid) WriteCells(ctx context.Context, sheet string, cells []Cell) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	rows, ok := g.sheets[sheet]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSheetNotFound, sheet)
	}
	for _, c := range cells {
		for len(rows) < c.Row {
			rows = append(rows, nil)
		}
		row := rows[c.Row-1]
		for len(row) < c.Col {
			row = append(row, "")
		}
		row[c.Col-1] = c.Value
		rows[c.Row-1] = row
	}
	g.sheets[sheet] = rows
	g.writes++
	return nil
}

// Writes returns how many WriteCells calls have been applied.
func (g *MemoryGrid) Writes() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.writes
}

// Cell returns the current value at a 1-based position.
func (g *MemoryGrid) Cell(sheet string, row, col int) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rows := g.sheets[sheet]
	if row < 1 || row > len(rows) || col < 1 || col > len(rows[row-1]) {
		return ""
	}
	return rows[row-1][col-1]
}

func (g *MemoryGrid) Close() error {
	return nil
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

package store

import (
	"context"
	"fmt"
	"sync"

	"campaign-tracker/models"

	"github.com/xuri/excelize/v2"
)

// XLSXGrid is a Grid over a local workbook file. Writes are saved to disk
// immediately. Access is serialized within the process only.
type XLSXGrid struct {
	mu   sync.Mutex
	path string
	f    *excelize.File
}

func OpenXLSX(path string) (*XLSXGrid, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	return &XLSXGrid{path: path, f: f}, nil
}

func (g *XLSXGrid) ReadAll(ctx context.Context, sheet string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.rows(sheet)
}

func (g *XLSXGrid) ReadRows(ctx context.Context, sheet string, rows ...int) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	all, err := g.rows(sheet)
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		if r >= 1 && r <= len(all) {
			out[i] = all[r-1]
			if out[i] == nil {
				out[i] = []string{}
			}
		}
	}
	return out, nil
}

func (g *XLSXGrid) WriteCells(ctx context.Context, sheet string, cells []Cell) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkSheet(sheet); err != nil {
		return err
	}
	for _, c := range cells {
		name, err := excelize.CoordinatesToCellName(c.Col, c.Row)
		if err != nil {
			return fmt.Errorf("invalid cell %d,%d: %w", c.Row, c.Col, err)
		}
		if err := g.f.SetCellStr(sheet, name, c.Value); err != nil {
			return fmt.Errorf("failed to write %s!%s: %w", sheet, name, err)
		}
	}
	if err := g.f.Save(); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", g.path, err)
	}
	return nil
}

func (g *XLSXGrid) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.f.Close()
}

func (g *XLSXGrid) rows(sheet string) ([][]string, error) {
	if err := g.checkSheet(sheet); err != nil {
		return nil, err
	}
	rows, err := g.f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheet, err)
	}
	return rows, nil
}

func (g *XLSXGrid) checkSheet(sheet string) error {
	idx, err := g.f.GetSheetIndex(sheet)
	if err != nil || idx < 0 {
		return fmt.Errorf("%w: %s", models.ErrSheetNotFound, sheet)
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"sort"

	"campaign-tracker/models"
)

// Cell is a single 1-based cell write.
type Cell struct {
	Row   int
	Col   int
	Value string
}

// Grid is a spreadsheet-like backend addressed by sheet name and 1-based
// row/column positions.
type Grid interface {
	// ReadAll returns every row of the sheet, header first.
	ReadAll(ctx context.Context, sheet string) ([][]string, error)

	// ReadRows returns the requested 1-based rows in order. Rows past the end
	// of the sheet come back as nil.
	ReadRows(ctx context.Context, sheet string, rows ...int) ([][]string, error)

	// WriteCells writes all cells in one round trip where the backend allows.
	WriteCells(ctx context.Context, sheet string, cells []Cell) error

	Close() error
}

// GridStore implements RowStore on top of any Grid, resolving columns by header
// name on every call so reordered columns are picked up immediately.
type GridStore struct {
	grid Grid
}

func NewGridStore(grid Grid) *GridStore {
	return &GridStore{grid: grid}
}

func (s *GridStore) GetRow(ctx context.Context, sheet string, row int) (*models.CampaignRow, error) {
	if row < 2 {
		return nil, errRowNotFound(sheet, row)
	}

	rows, err := s.grid.ReadRows(ctx, sheet, 1, row)
	if err != nil {
		return nil, err
	}

	h := parseHeader(rows[0])
	if err := h.require(sheet, models.ColumnEmail, models.ColumnStatus, models.ColumnTimestamp, models.ColumnOpened); err != nil {
		return nil, err
	}
	if rows[1] == nil || blank(rows[1]) {
		return nil, errRowNotFound(sheet, row)
	}
	return h.decode(sheet, row, rows[1]), nil
}

func (s *GridStore) ListPendingRows(ctx context.Context, sheet string) ([]*models.CampaignRow, error) {
	values, err := s.grid.ReadAll(ctx, sheet)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: sheet %q has no header row", models.ErrMissingColumn, sheet)
	}

	h := parseHeader(values[0])
	if err := h.require(sheet, models.CampaignColumns...); err != nil {
		return nil, err
	}

	var pending []*models.CampaignRow
	for i := 1; i < len(values); i++ {
		if blank(values[i]) {
			continue
		}
		row := h.decode(sheet, i+1, values[i])
		if row.SendStatus() == models.StatusUnset {
			pending = append(pending, row)
		}
	}
	return pending, nil
}

func (s *GridStore) UpdateCells(ctx context.Context, sheet string, updates ...models.RowUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	rows, err := s.grid.ReadRows(ctx, sheet, 1)
	if err != nil {
		return err
	}
	h := parseHeader(rows[0])

	var cells []Cell
	for _, u := range updates {
		if u.Row < 2 {
			return errRowNotFound(sheet, u.Row)
		}
		columns := make([]string, 0, len(u.Cells))
		for c := range u.Cells {
			columns = append(columns, c)
		}
		sort.Strings(columns)
		for _, c := range columns {
			i, ok := h.index(c)
			if !ok {
				return fmt.Errorf("%w: sheet %q lacks %s", models.ErrMissingColumn, sheet, c)
			}
			cells = append(cells, Cell{Row: u.Row, Col: i + 1, Value: u.Cells[c]})
		}
	}
	return s.grid.WriteCells(ctx, sheet, cells)
}

func (s *GridStore) Records(ctx context.Context, sheet string) ([]map[string]string, error) {
	values, err := s.grid.ReadAll(ctx, sheet)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	h := parseHeader(values[0])
	var records []map[string]string
	for _, v := range values[1:] {
		if blank(v) {
			continue
		}
		records = append(records, h.record(v))
	}
	return records, nil
}

func (s *GridStore) Close() error {
	return s.grid.Close()
}

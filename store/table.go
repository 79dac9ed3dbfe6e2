package store

import (
	"fmt"
	"strings"

	"campaign-tracker/models"
)

// header maps a normalized column name to its 0-based position.
type header map[string]int

func normalizeHeader(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func parseHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		key := normalizeHeader(name)
		if key == "" {
			continue
		}
		// first occurrence wins on duplicate headers
		if _, exists := h[key]; !exists {
			h[key] = i
		}
	}
	return h
}

func (h header) index(column string) (int, bool) {
	i, ok := h[normalizeHeader(column)]
	return i, ok
}

func (h header) require(sheet string, columns ...string) error {
	var missing []string
	for _, c := range columns {
		if _, ok := h.index(c); !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: sheet %q lacks %s", models.ErrMissingColumn, sheet, strings.Join(missing, ", "))
	}
	return nil
}

func (h header) decode(sheet string, rowNum int, values []string) *models.CampaignRow {
	row := &models.CampaignRow{Sheet: sheet, Row: rowNum}
	for _, column := range models.CampaignColumns {
		i, ok := h.index(column)
		if !ok || i >= len(values) {
			continue
		}
		row.Set(column, strings.TrimSpace(values[i]))
	}
	// the message body keeps its own whitespace
	if i, ok := h.index(models.ColumnMessage); ok && i < len(values) {
		row.Message = values[i]
	}
	return row
}

func (h header) record(values []string) map[string]string {
	rec := make(map[string]string, len(h))
	for name, i := range h {
		if i < len(values) {
			rec[name] = strings.TrimSpace(values[i])
		} else {
			rec[name] = ""
		}
	}
	return rec
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ColumnLetter converts a 1-based column number to its A1 letters.
func ColumnLetter(col int) string {
	letter := ""
	for col > 0 {
		col--
		letter = string(rune('A'+(col%26))) + letter
		col /= 26
	}
	return letter
}

// RecordValue reads a field of a Records entry by header name.
func RecordValue(rec map[string]string, column string) string {
	return rec[normalizeHeader(column)]
}

func errRowNotFound(sheet string, row int) error {
	return models.NewAppErrorf("ROW_NOT_FOUND", "%s row %d", models.ErrRowNotFound, sheet, row)
}

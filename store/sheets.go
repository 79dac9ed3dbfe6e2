package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"campaign-tracker/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsGrid is a Grid backed by a Google Sheets spreadsheet.
type SheetsGrid struct {
	svc           *sheets.Service
	spreadsheetID string
}

// NewSheetsGrid authenticates with a service-account JSON key.
func NewSheetsGrid(ctx context.Context, credentialsJSON []byte, spreadsheetID string) (*SheetsGrid, error) {
	if len(credentialsJSON) == 0 {
		return nil, fmt.Errorf("%w: google service account JSON is empty", models.ErrMissingCredentials)
	}
	if spreadsheetID == "" {
		return nil, fmt.Errorf("%w: spreadsheet id is empty", models.ErrMissingCredentials)
	}

	jwtCfg, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT config: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &SheetsGrid{svc: srv, spreadsheetID: spreadsheetID}, nil
}

// Ping checks that the spreadsheet is reachable with the configured credentials.
func (g *SheetsGrid) Ping(ctx context.Context) error {
	_, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	return nil
}

func (g *SheetsGrid) ReadAll(ctx context.Context, sheet string) ([][]string, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, quoteSheet(sheet)).Context(ctx).Do()
	if err != nil {
		return nil, mapSheetsError(sheet, err)
	}
	return toStrings(resp.Values), nil
}

func (g *SheetsGrid) ReadRows(ctx context.Context, sheet string, rows ...int) ([][]string, error) {
	ranges := make([]string, len(rows))
	for i, r := range rows {
		ranges[i] = fmt.Sprintf("%s!%d:%d", quoteSheet(sheet), r, r)
	}

	resp, err := g.svc.Spreadsheets.Values.BatchGet(g.spreadsheetID).Ranges(ranges...).Context(ctx).Do()
	if err != nil {
		return nil, mapSheetsError(sheet, err)
	}

	out := make([][]string, len(rows))
	for i, vr := range resp.ValueRanges {
		if i >= len(out) {
			break
		}
		if vr != nil && len(vr.Values) > 0 {
			out[i] = toStrings(vr.Values[:1])[0]
		}
	}
	return out, nil
}

func (g *SheetsGrid) WriteCells(ctx context.Context, sheet string, cells []Cell) error {
	if len(cells) == 0 {
		return nil
	}

	data := make([]*sheets.ValueRange, 0, len(cells))
	for _, c := range cells {
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s%d", quoteSheet(sheet), ColumnLetter(c.Col), c.Row),
			Values: [][]interface{}{{c.Value}},
		})
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}
	if _, err := g.svc.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return mapSheetsError(sheet, err)
	}
	return nil
}

func (g *SheetsGrid) Close() error {
	return nil
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			out[i][j] = fmt.Sprint(v)
		}
	}
	return out
}

func mapSheetsError(sheet string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest &&
		strings.Contains(apiErr.Message, "Unable to parse range") {
		return fmt.Errorf("%w: %s", models.ErrSheetNotFound, sheet)
	}
	return fmt.Errorf("sheets request for %q failed: %w", sheet, err)
}

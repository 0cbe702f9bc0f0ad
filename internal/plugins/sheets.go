package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"formbridge/internal/model"
)

const spreadsheetDate = "2006-01-02 15:04:05"

// SheetsAdapter appends each submission as a row to a linked Google
// spreadsheet, growing the header row whenever a submission brings
// new field names.
type SheetsAdapter struct {
	pages FormPages

	// newService is swappable in tests
	newService func(ctx context.Context, accessToken string) (*sheets.SpreadsheetsService, error)
}

// NewSheetsAdapter creates the Google Sheets adapter
func NewSheetsAdapter(pages FormPages) *SheetsAdapter {
	return &SheetsAdapter{
		pages:      pages,
		newService: sheetsService,
	}
}

func (a *SheetsAdapter) Kind() model.PluginKind {
	return model.PluginGoogleSheets
}

// storedCredentials mirrors the token document stored at plugin
// authorization time
type storedCredentials struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	TokenURI     string `json:"token_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func sheetsService(ctx context.Context, accessToken string) (*sheets.SpreadsheetsService, error) {
	var creds storedCredentials
	if err := json.Unmarshal([]byte(accessToken), &creds); err != nil {
		return nil, fmt.Errorf("failed to decode stored credentials: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: creds.TokenURI},
	}
	token := &oauth2.Token{
		AccessToken:  creds.Token,
		RefreshToken: creds.RefreshToken,
	}

	svc, err := sheets.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return svc.Spreadsheets, nil
}

// Post appends the submission to the linked worksheet. The header row
// is reconciled first: existing columns keep their positions, new
// field names are appended, and _date always leads.
func (a *SheetsAdapter) Post(ctx context.Context, inv *Invocation) error {
	spreadsheetID := inv.Plugin.DataString("spreadsheet_id")
	worksheetID := int64(0)
	if raw, ok := inv.Plugin.PluginData["worksheet_id"].(float64); ok {
		worksheetID = int64(raw)
	}

	svc, err := a.newService(ctx, inv.Plugin.AccessToken)
	if err != nil {
		return err
	}

	spreadsheet, err := svc.Get(spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to fetch spreadsheet: %w", err)
	}

	worksheetName := "Sheet1"
	worksheetRows := int64(0)
	for _, wk := range spreadsheet.Sheets {
		if wk.Properties.SheetId == worksheetID {
			worksheetName = wk.Properties.Title
			if wk.Properties.GridProperties != nil {
				worksheetRows = wk.Properties.GridProperties.RowCount
			}
			break
		}
	}

	rangeName := fmt.Sprintf("%s!A1:ZZ1", worksheetName)
	toprow, err := svc.Values.Get(spreadsheetID, rangeName).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to fetch header row: %w", err)
	}

	var oldKeys []string
	if len(toprow.Values) > 0 {
		for _, cell := range toprow.Values[0] {
			if s, ok := cell.(string); ok {
				oldKeys = append(oldKeys, s)
			}
		}
	}

	newKeys := append([]string{}, oldKeys...)
	for _, k := range inv.SortedKeys {
		if !containsString(newKeys, k) {
			newKeys = append(newKeys, k)
		}
	}
	if !containsString(newKeys, "_date") {
		newKeys = append([]string{"_date"}, newKeys...)
	}

	if !equalStrings(newKeys, oldKeys) {
		header := &sheets.ValueRange{Range: rangeName, Values: [][]interface{}{toRow(newKeys)}}
		_, err := svc.Values.Update(spreadsheetID, rangeName, header).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			logrus.WithError(err).WithField("plugin", inv.Plugin.ID).
				Warn("Error updating sheet columns")
			return fmt.Errorf("failed to update header row: %w", err)
		}
	}

	values := make([]interface{}, len(newKeys))
	for i, k := range newKeys {
		values[i] = inv.Submission.Data[k]
	}
	values[0] = inv.Submission.SubmittedAt.UTC().Format(spreadsheetDate)

	logrus.WithFields(logrus.Fields{
		"sheet":  spreadsheetID,
		"wk":     worksheetID,
		"plugin": inv.Plugin.ID,
	}).Info("Pushing to Google Sheet")

	row := &sheets.ValueRange{Range: rangeName, Values: [][]interface{}{values}}
	_, err = svc.Values.Append(spreadsheetID, rangeName, row).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}

	// first submission on a fresh sheet: style it once
	if worksheetRows == 1 {
		update := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				formatSubmissionRows(worksheetID, len(newKeys), 1),
				protectSheet(worksheetID),
				autoResizeFirstColumn(worksheetID),
			},
		}
		if _, err := svc.BatchUpdate(spreadsheetID, update).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to format sheet: %w", err)
		}
	}
	return nil
}

// CreateSheet makes a new spreadsheet seeded with the form's stored
// submissions and returns its spreadsheet and worksheet identifiers.
func (a *SheetsAdapter) CreateSheet(ctx context.Context, accessToken, title string, form *model.Form, rows []map[string]string, fields []string) (string, int64, error) {
	svc, err := a.newService(ctx, accessToken)
	if err != nil {
		return "", 0, err
	}

	spreadsheet := &sheets.Spreadsheet{
		DeveloperMetadata: []*sheets.DeveloperMetadata{
			{
				MetadataId:    1,
				Visibility:    "DOCUMENT",
				MetadataKey:   "formId",
				MetadataValue: fmt.Sprintf("%d", form.ID),
			},
			{
				MetadataId:    2,
				Visibility:    "DOCUMENT",
				MetadataKey:   "formHashid",
				MetadataValue: a.pages.Hashid(form),
			},
		},
		Properties: &sheets.SpreadsheetProperties{Title: title},
		Sheets: []*sheets.Sheet{
			{
				Properties: &sheets.SheetProperties{
					Title:    title,
					TabColor: &sheets.Color{Red: 196.0 / 255, Green: 0, Blue: 26.0 / 255, Alpha: 1},
					GridProperties: &sheets.GridProperties{
						ColumnCount: int64(len(fields)),
						RowCount:    int64(1 + len(rows)),
					},
				},
			},
		},
	}

	created, err := svc.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("failed to create spreadsheet: %w", err)
	}
	spreadsheetID := created.SpreadsheetId
	sheetID := created.Sheets[0].Properties.SheetId

	rangeName := fmt.Sprintf("%s!A:ZZ", title)
	values := [][]interface{}{toRow(fields)}
	for i := len(rows) - 1; i >= 0; i-- {
		row := make([]interface{}, len(fields))
		for j, k := range fields {
			row[j] = rows[i][k]
		}
		if date, ok := rows[i]["_date"]; ok {
			if t, err := time.Parse(time.RFC3339, date); err == nil {
				row[indexOf(fields, "_date")] = t.UTC().Format(spreadsheetDate)
			}
		}
		values = append(values, row)
	}

	batch := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "USER_ENTERED",
		Data:             []*sheets.ValueRange{{Range: rangeName, Values: values}},
	}
	if _, err := svc.Values.BatchUpdate(spreadsheetID, batch).Context(ctx).Do(); err != nil {
		return "", 0, fmt.Errorf("failed to seed spreadsheet: %w", err)
	}

	requests := []*sheets.Request{
		formatHeaderRow(sheetID, len(fields)),
		protectSheet(sheetID),
	}
	if len(rows) > 0 {
		requests = append(requests,
			formatSubmissionRows(sheetID, len(fields), len(rows)),
			autoResizeFirstColumn(sheetID),
		)
	}
	update := &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}
	if _, err := svc.BatchUpdate(spreadsheetID, update).Context(ctx).Do(); err != nil {
		return "", 0, fmt.Errorf("failed to format spreadsheet: %w", err)
	}

	return spreadsheetID, sheetID, nil
}

func formatSubmissionRows(sheetID int64, numFields, numRows int) *sheets.Request {
	cell := &sheets.CellData{
		UserEnteredFormat: &sheets.CellFormat{
			WrapStrategy: "WRAP",
			TextFormat:   &sheets.TextFormat{FontFamily: "Cambria"},
		},
	}
	rows := make([]*sheets.RowData, numRows)
	for i := range rows {
		cells := make([]*sheets.CellData, numFields)
		for j := range cells {
			cells[j] = cell
		}
		rows[i] = &sheets.RowData{Values: cells}
	}
	return &sheets.Request{
		UpdateCells: &sheets.UpdateCellsRequest{
			Start:  &sheets.GridCoordinate{RowIndex: 1, ColumnIndex: 0, SheetId: sheetID},
			Rows:   rows,
			Fields: "userEnteredFormat(wrapStrategy,textFormat.fontFamily)",
		},
	}
}

func formatHeaderRow(sheetID int64, numFields int) *sheets.Request {
	cells := make([]*sheets.CellData, numFields)
	for j := range cells {
		cells[j] = &sheets.CellData{
			UserEnteredFormat: &sheets.CellFormat{
				WrapStrategy:        "CLIP",
				TextFormat:          &sheets.TextFormat{FontFamily: "Poppins"},
				HorizontalAlignment: "CENTER",
			},
		}
	}
	return &sheets.Request{
		UpdateCells: &sheets.UpdateCellsRequest{
			Start:  &sheets.GridCoordinate{RowIndex: 0, ColumnIndex: 0, SheetId: sheetID},
			Rows:   []*sheets.RowData{{Values: cells}},
			Fields: "userEnteredFormat(wrapStrategy,textFormat.fontFamily,horizontalAlignment)",
		},
	}
}

func protectSheet(sheetID int64) *sheets.Request {
	return &sheets.Request{
		AddProtectedRange: &sheets.AddProtectedRangeRequest{
			ProtectedRange: &sheets.ProtectedRange{
				Description: "Data being updated by Formbridge.",
				Range:       &sheets.GridRange{SheetId: sheetID, StartRowIndex: 0},
				WarningOnly: true,
			},
		},
	}
}

func autoResizeFirstColumn(sheetID int64) *sheets.Request {
	return &sheets.Request{
		AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
			Dimensions: &sheets.DimensionRange{
				SheetId:    sheetID,
				Dimension:  "COLUMNS",
				StartIndex: 0,
				EndIndex:   0,
			},
		},
	}
}

func toRow(keys []string) []interface{} {
	row := make([]interface{}, len(keys))
	for i, k := range keys {
		row[i] = k
	}
	return row
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return 0
}

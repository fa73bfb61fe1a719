// Package sheets implements a store adapter for Google Sheets.
//
// Each entity maps to one sheet (tab) of a spreadsheet. The first row holds
// column headers, which are the native field names used in target paths.
// One column, "id" by default, holds a UUID identifying each row. Rows
// added by hand without an ID are assigned one the next time the sheet is
// listed.
//
// # Authentication
//
// credentials_file points at a service account or authorized user JSON
// key; without it Application Default Credentials are used. The
// spreadsheet must be shared with the service account.
//
// # Configuration
//
//   - spreadsheet_id: spreadsheet ID (required)
//   - credentials_file: JSON key file
//   - sheet_<entity>: sheet title, e.g. sheet_product = "Products"
//   - id_column: header of the ID column. Default: id
//   - archive_column: boolean column set on archive
//   - batch_size: rows per write call. Default: 100
//   - calls_per_minute: call budget. Default: 60
//   - endpoint: API root override for emulators and tests
//
// # Writes
//
// Creates append rows in one call. Updates write only the patched cells
// and read the rows back. Deletes remove rows bottom-up in one
// batchUpdate. Row numbers are cached per sheet and re-read when an ID is
// unknown or after rows are deleted.
package sheets

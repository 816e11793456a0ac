package domain

import "strings"

// RawRow is one uploaded spreadsheet row: column name to cell value.
// Column names vary by county and vendor, so the shape is untyped; typed
// access goes through ResolveIdentity, ResolveStatus and the report trackers.
type RawRow map[string]any

// identityColumns is the ordered candidate list for a property's tax-account
// identifier. Matching is case-sensitive and the first non-empty value wins:
// "Account Number" beats "Parcel" when a row carries both.
var identityColumns = []string{
	"Account Number",
	"accountNumber",
	"Account",
	"account",
	"Parcel Number",
	"parcelNumber",
	"Parcel",
	"parcel",
	"Property ID",
	"propertyId",
	"ID",
	"id",
}

// ResolveIdentity extracts the stable identifier for a raw row, or "" when no
// recognized identifier column holds a non-empty value. Rows without an
// identity cannot be tracked across uploads and are skipped by reconciliation;
// that is a data-quality gap, not an error.
func ResolveIdentity(row RawRow) string {
	for _, col := range identityColumns {
		v, ok := row[col]
		if !ok {
			continue
		}
		if s := strings.TrimSpace(CellString(v)); s != "" {
			return s
		}
	}
	return ""
}

// addressColumns is the candidate list for a property's street address, used
// for report tagging and geocoding. Best-effort only.
var addressColumns = []string{
	"Address",
	"Property Address",
	"PROPERTY ADDRESS",
	"Situs",
	"situs",
	"address",
}

// ResolveAddress extracts a best-effort street address from a raw row.
func ResolveAddress(row RawRow) string {
	for _, col := range addressColumns {
		v, ok := row[col]
		if !ok {
			continue
		}
		if s := strings.TrimSpace(CellString(v)); s != "" {
			return s
		}
	}
	return ""
}

// Package sqlutil provides schema maintenance helpers used by test
// fixtures.
//
// ClearDatabase reflects the tables present in a database and drops them
// all, foreign keys first, so fixtures can reset state between runs without
// knowing the schema in advance.
package sqlutil

// Package sqldb persists flat Go records in full-text searchable SQLite tables.
//
// # Overview
//
// [Derive] reflects a struct type into a [TableSchema]: one column per exported
// scalar field, named after its json tag, in declaration order. A
// [Repository] binds one record type to one table and stores records without
// any caller-written mapping code. Nested structs, slices (other than []byte)
// and maps are rejected when the schema is derived, before any statement runs.
//
// # Storage
//
// Tables are SQLite FTS5 virtual tables. Every column is token indexed, and a
// field named "rowid" maps to the table's implicit integer identity. Open the
// shared handle with [OpenDB]; it caps the pool to one connection since
// repositories do no locking.
//
// # Filters
//
// [Filter] is a decoded JSON object in the style of MongoDB queries:
//
//	{"name": "vim*"}                 full-text match on one column
//	{"age": 30, "active": true}      equality
//	{"note": null}                   IS NULL
//	{"age": {"$gte": 25, "$lt": 40}} comparisons, AND-joined
//	{"repo": {"$in": ["core"]}}      membership
//
// Keys that are not fields of the schema are ignored. [Compile] turns a filter
// into a WHERE clause with named parameters only, so values never reach the SQL
// text.
package sqldb

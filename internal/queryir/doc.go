// Package queryir describes the account queries the balance service sends to
// storage, independently of the SQL that implements them.
//
// A Query is a plain value: it can be logged, traced, compared in tests and
// handed to any executor. The querysql package compiles queries to
// parameterized SQL; the store package runs them.
//
// SEALED INTERFACE:
//
// Query is sealed with a marker method so backends can switch exhaustively:
//
//	switch q := query.(type) {
//	case CreateAccount:
//	    // INSERT
//	case SelectAccount:
//	    // SELECT by key
//	...
//	}
//
// Every query targets a single table (TablePlayers) and, except for
// SelectTop, a single identity.
package queryir

// Package store holds the persistence primitives shared by the SQL-backed
// components: the DBTX abstraction, transaction handling, and the common
// store error taxonomy.
package store

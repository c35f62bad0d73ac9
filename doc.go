// Package bulkmerge batches the row-level statements an ORM generates and
// writes them to the database with as few round trips as the batch size allows.
//
// Each generated INSERT, UPDATE or DELETE is recognized into an EntityMutation
// by the extract package and accumulated by a batch.Batcher. On flush, the
// merge package selects a strategy by batch size: small batches run one
// command per statement, medium batches are concatenated into multi-statement
// commands, and large batches on PostgreSQL are staged through COPY into a
// temporary table and reconciled with set-based SQL (see merge/pgbulk).
//
// Statements that are not recognized bypass the batch and run immediately.
package bulkmerge

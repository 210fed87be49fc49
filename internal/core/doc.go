// Package core provides the business logic for supplier pricelist ingestion.
//
// The package holds all domain logic independent of any transport. It is
// used by the HTTP handlers, the pricectl CLI, and tests without change.
//
// # Architecture
//
// A pricelist moves through a fixed pipeline:
//
//   - Reading: [ReadSheet] decodes .xlsx workbooks (best sheet by name and
//     shape) and delimited text in any of the common separators and encodings.
//   - Inference: [InferenceEngine] finds the header row and maps columns to
//     catalogue fields by header similarity, cell content, and position. The
//     mapping is computed once per file.
//   - Normalization: [Normalizer] turns raw cells into [ParsedProductRow]
//     values in parallel, preserving row order. Unparseable numbers follow
//     the supplier's [NumericPolicy].
//   - Reconciliation: [Reconciler] upserts products, versions prices, and
//     applies stock changes in chunked transactions. A committed chunk is
//     never rolled back by a later failure.
//
// # Jobs
//
// [Service.SubmitIngestion] stages the file through a [FileStore], records
// an [Upload], and queues an [ExtractionJob]. The [Queue] runs jobs by
// priority then arrival on a bounded worker pool shared with
// [Service.IngestSync]. Jobs can be cancelled while queued or between
// chunks, and are force-failed with TIMEOUT when their deadline passes.
//
// # Stock
//
// Every stock change, from an import or from [Service.AdjustStock], keeps
// 0 <= reserved <= on hand and appends a [StockMovement] in the same
// transaction.
//
// # Storage
//
// Persistence is behind [Catalog]. [MemoryCatalog] serves tests and dry
// runs; the database package provides the PostgreSQL implementation.
//
// # Error Handling
//
// Job failures carry a [ReasonCode]. [MapError] turns any error into a
// [UserMessage] with a code for support reference.
package core

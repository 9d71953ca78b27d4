// Package core provides the business logic for bulk import operations.
//
// This package is the heart of the importer, containing all domain logic
// independent of any transport layer. It can be used by web handlers, CLI
// tools, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Modules: one [ModuleConfig] per importable entity type, registered at
//     init time. A module declares its fields, limits, record store and hooks.
//   - Service: owns the process-wide session and job stores and hands out one
//     [Importer] per module.
//   - Sessions: the validated content of one uploaded file, kept until its
//     expiry deadline.
//   - Jobs: background insertion of a session's valid rows, in batches.
//
// # Module Registry
//
// Modules are registered at init time using [Register]:
//
//	core.Register(core.ModuleConfig{
//	    Name:        "users",
//	    DisplayName: "Users",
//	    Fields: []core.FieldRule{
//	        {Name: "email", Label: "Email", Required: true, Type: core.FieldEmail},
//	        {Name: "age", Label: "Age", Type: core.FieldNumber, MinValue: core.Float(0)},
//	    },
//	    Store: core.NewPgRecordStore(pool, "users", "email", "age"),
//	})
//
// # Import Flow
//
//  1. [Importer.GenerateTemplate] produces an Excel or CSV template
//  2. [Importer.ValidateFile] parses an upload, validates every row and
//     stores a session
//  3. [Importer.ExecuteImport] starts a job over the session's valid rows
//  4. [Importer.GetJobStatus] and [Importer.SubscribeJob] report progress;
//     [Importer.CancelJob] stops a job between batches
//
// Validation problems are data: they are returned in [RowValidation] values
// and never as errors. Structural failures (unreadable file, too many rows,
// unknown session or job) are returned as [*Error] values with stable codes.
//
// # Error Handling
//
// Errors are mapped to user-friendly messages using [MapError]. Each
// category has a code for support reference:
//
//   - IMP001-IMP006: Import errors (sessions, jobs, blocked imports)
//   - FILE001-FILE006: File errors (size, parsing, format)
//   - DB001-DB007: Database errors raised by record stores
//   - UPL002-UPL005: Request errors (busy, cancelled, timeout)
package core

package core

// session.go turns an uploaded file into a stored validation session.
//
// A call either parses and validates the whole file and stores a session, or
// fails without storing anything.

import (
	"context"
	"fmt"
	"time"
)

// ValidateFile parses and validates an upload and stores the result as a
// session that expires after the module's SessionExpirationMinutes.
func (im *Importer) ValidateFile(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	svc := im.svc
	log := im.logger(ctx, "file", req.FileName, "file_type", req.FileType)

	if svc.maxFileSize > 0 && int64(len(req.File)) > svc.maxFileSize {
		svc.metrics.validation(im.cfg.Name, "rejected")
		return nil, newError(CodeFileTooLarge,
			fmt.Sprintf("file is %d bytes, limit is %d", len(req.File), svc.maxFileSize), nil)
	}

	if svc.limiter != nil {
		if err := svc.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer svc.limiter.Release()
	}

	start := time.Now()
	results, err := im.validateRows(ctx, req)
	if err != nil {
		svc.metrics.validation(im.cfg.Name, "rejected")
		log.Warn("validation rejected", "error", err)
		return nil, err
	}

	summary := summarize(results, im.cfg.AllowWarnings)

	now := svc.now()
	ttl := time.Duration(im.cfg.SessionExpirationMinutes) * time.Minute
	session := &Session{
		ID:            svc.newID(),
		Module:        im.cfg.Name,
		FileName:      req.FileName,
		FileType:      req.FileType,
		UploadedAt:    now,
		ValidatedRows: results,
		Summary:       summary,
		ExpiresAt:     now.Add(ttl),
	}
	svc.sessions.Set(session.ID, session, ttl)

	svc.metrics.validation(im.cfg.Name, "accepted")
	svc.metrics.rows(im.cfg.Name, summary)
	svc.notify(ctx, Event{
		Type:      EventSessionCreated,
		Module:    im.cfg.Name,
		SessionID: session.ID,
		Summary:   &summary,
	})

	log.Info("file validated",
		"session_id", session.ID,
		"total_rows", summary.TotalRows,
		"invalid_rows", summary.InvalidRows,
		"warnings", summary.TotalWarnings,
		"can_proceed", summary.CanProceed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	invalid := make([]RowValidation, 0, summary.InvalidRows)
	for _, r := range results {
		if !r.IsValid {
			invalid = append(invalid, r)
		}
	}

	return &ValidateResponse{
		SessionID:  session.ID,
		FileName:   session.FileName,
		Summary:    summary,
		Errors:     invalid,
		CanProceed: summary.CanProceed,
		ExpiresAt:  session.ExpiresAt,
	}, nil
}

// validateRows parses the file and validates every row in input order.
func (im *Importer) validateRows(ctx context.Context, req ValidateRequest) ([]RowValidation, error) {
	rows, err := ParseFile(req.File, req.FileType, im.cfg.Fields, im.svc.parseOpts)
	if err != nil {
		return nil, err
	}

	if len(rows) > im.cfg.MaxRows {
		return nil, newError(CodeTooManyRows,
			fmt.Sprintf("file has %d rows, maximum is %d", len(rows), im.cfg.MaxRows), nil)
	}

	results := make([]RowValidation, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = im.validator.ValidateRow(ctx, row, i)
	}

	if im.cfg.CustomValidation != nil {
		extra, err := im.cfg.CustomValidation(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("custom validation: %w", err)
		}
		for idx, errs := range extra {
			if idx < 0 || idx >= len(results) {
				continue
			}
			for _, e := range errs {
				results[idx].add(e)
			}
			results[idx].IsValid = len(results[idx].Errors) == 0
		}
	}

	return results, nil
}

// session returns a live session belonging to this module.
func (im *Importer) session(id string) (*Session, error) {
	s, ok := im.svc.sessions.Get(id)
	if !ok || s.Module != im.cfg.Name || im.svc.now().After(s.ExpiresAt) {
		return nil, newError(CodeSessionNotFound, fmt.Sprintf("session %s not found or expired", id), nil)
	}
	return s, nil
}

package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/logging"
)

// multipartOverhead is allowed on top of the file size limit for form
// boundaries and the other form fields.
const multipartOverhead = 1 << 20

// maxMemory is how much of a multipart form is kept in memory before
// spilling to temporary files.
const maxMemory = 32 << 20

// fieldInfo describes one import column to API clients.
type fieldInfo struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Required   bool     `json:"required"`
	Type       string   `json:"type"`
	MaxLength  int      `json:"maxLength,omitempty"`
	MinValue   *float64 `json:"minValue,omitempty"`
	MaxValue   *float64 `json:"maxValue,omitempty"`
	EnumValues []string `json:"enumValues,omitempty"`
}

// moduleInfo describes a registered import module.
type moduleInfo struct {
	Name                     string      `json:"name"`
	DisplayName              string      `json:"displayName"`
	MaxRows                  int         `json:"maxRows"`
	AllowWarnings            bool        `json:"allowWarnings"`
	SessionExpirationMinutes int         `json:"sessionExpirationMinutes"`
	BatchSize                int         `json:"batchSize"`
	Fields                   []fieldInfo `json:"fields"`
}

func newModuleInfo(cfg core.ModuleConfig) moduleInfo {
	fields := make([]fieldInfo, len(cfg.Fields))
	for i, f := range cfg.Fields {
		fields[i] = fieldInfo{
			Name:       f.Name,
			Label:      f.Label,
			Required:   f.Required,
			Type:       f.Type.String(),
			MaxLength:  f.MaxLength,
			MinValue:   f.MinValue,
			MaxValue:   f.MaxValue,
			EnumValues: f.EnumValues,
		}
	}
	return moduleInfo{
		Name:                     cfg.Name,
		DisplayName:              cfg.DisplayName,
		MaxRows:                  cfg.MaxRows,
		AllowWarnings:            cfg.AllowWarnings,
		SessionExpirationMinutes: cfg.SessionExpirationMinutes,
		BatchSize:                cfg.BatchSize,
		Fields:                   fields,
	}
}

// handleHealth reports liveness, store sizes and database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status   string     `json:"status"`
		Database string     `json:"database,omitempty"`
		Stats    core.Stats `json:"stats"`
	}{Status: "ok", Stats: s.service.Stats()}

	status := http.StatusOK
	if s.opts.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Database = "ok"
		if err := s.opts.DB.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health: database ping failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// handleListModules lists every registered module and its columns.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	mods := s.service.Modules()
	out := make([]moduleInfo, len(mods))
	for i, cfg := range mods {
		out[i] = newModuleInfo(cfg)
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": out})
}

// importer resolves the {module} URL parameter, writing a 404 if unknown.
func (s *Server) importer(w http.ResponseWriter, r *http.Request) (*core.Importer, bool) {
	im, err := s.service.Importer(chi.URLParam(r, "module"))
	if err != nil {
		respondError(w, r, err)
		return nil, false
	}
	return im, true
}

// handleTemplate returns a downloadable template.
//
// Query parameters: format (excel|csv, default excel), examples (bool,
// default true) and rows (example row count).
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	im, ok := s.importer(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	format := core.FormatExcel
	if v := q.Get("format"); v != "" {
		f, err := core.ParseFormat(v)
		if err != nil {
			respondError(w, r, err)
			return
		}
		format = f
	}

	opts := core.TemplateOptions{Format: format, IncludeExamples: true}
	if v := q.Get("examples"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondErrorStatus(w, r, fmt.Errorf("invalid examples value %q", v), http.StatusBadRequest)
			return
		}
		opts.IncludeExamples = b
	}
	if v := q.Get("rows"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondErrorStatus(w, r, fmt.Errorf("invalid rows value %q", v), http.StatusBadRequest)
			return
		}
		opts.ExampleRowCount = n
	}

	data, err := im.GenerateTemplate(opts)
	if err != nil {
		respondError(w, r, err)
		return
	}

	filename := im.Config().Name + "_template" + format.Extension()
	w.Header().Set("Content-Type", format.MIMEType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleValidate parses and validates an uploaded file.
//
// The multipart form carries the file under "file". An optional "fileType"
// field (excel|csv) overrides detection from the file name.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	im, ok := s.importer(w, r)
	if !ok {
		return
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, &core.Error{
				Code:    core.CodeFileTooLarge,
				Message: fmt.Sprintf("upload exceeds %d bytes", maxSize),
				Err:     err,
			})
			return
		}
		respondErrorStatus(w, r, fmt.Errorf("invalid multipart form: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondErrorStatus(w, r, errors.New("no file provided"), http.StatusBadRequest)
		return
	}
	defer file.Close()

	fileType, err := detectFileType(header.Filename, r.FormValue("fileType"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondErrorStatus(w, r, fmt.Errorf("read upload: %w", err), http.StatusBadRequest)
		return
	}

	resp, err := im.ValidateFile(r.Context(), core.ValidateRequest{
		File:     data,
		FileName: header.Filename,
		FileType: fileType,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// detectFileType uses the declared type when given, else the file extension.
func detectFileType(filename, declared string) (core.FileType, error) {
	kind := strings.ToLower(strings.TrimSpace(declared))
	if kind == "" {
		kind = strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	}

	switch kind {
	case "excel", "xlsx":
		return core.FileExcel, nil
	case "csv":
		return core.FileCSV, nil
	}
	return "", &core.Error{
		Code:    core.CodeUnsupportedFormat,
		Message: fmt.Sprintf("cannot import %q: only .xlsx and .csv files are supported", filename),
	}
}

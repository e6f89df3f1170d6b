// Package server exposes the upload and analysis API over HTTP. Uploads
// are accepted immediately and analyzed in the background; clients poll
// the analysis id for status and results.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"turnoutd/internal/analyze"
	"turnoutd/internal/config"
	"turnoutd/internal/dataset"
	"turnoutd/internal/export"
	"turnoutd/internal/notify"
	"turnoutd/internal/schema"
	"turnoutd/internal/store"
	"turnoutd/internal/suggest"
)

type Server struct {
	cfg       config.Config
	db        *sql.DB
	suggester *suggest.Client
	notifier  *notify.Notifier
}

func New(cfg config.Config, db *sql.DB, suggester *suggest.Client, notifier *notify.Notifier) *Server {
	return &Server{cfg: cfg, db: db, suggester: suggester, notifier: notifier}
}

// App builds the fiber application with all routes registered. Errors
// returned by handlers render as {"error": ...} JSON.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:    int(s.cfg.MaxUploadBytes()),
		ErrorHandler: jsonErrorHandler,
	})
	app.Use(logger.New())

	app.Get("/health", s.handleHealth)
	app.Post("/upload", s.handleUpload)
	app.Get("/analyses", s.handleListAnalyses)
	app.Get("/analyses/:id", s.handleGetAnalysis)
	app.Get("/analyses/:id/export", s.handleExport)
	app.Post("/analyses/:id/suggestions", s.handleSuggestions)

	return app
}

func jsonErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleUpload accepts a multipart CSV, records a queued analysis, and
// kicks off background processing. The response carries the analysis id
// to poll.
func (s *Server) handleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart field 'file' is required")
	}

	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".csv") {
		return fiber.NewError(fiber.StatusBadRequest, "only .csv files are accepted")
	}
	if fileHeader.Size > s.cfg.MaxUploadBytes() {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %dMB upload limit", s.cfg.MaxUploadMB))
	}

	id := uuid.NewString()
	if err := os.MkdirAll(s.cfg.UploadDir, 0755); err != nil {
		log.Printf("upload dir error: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "could not store upload")
	}
	savedPath := filepath.Join(s.cfg.UploadDir, id+".csv")
	if err := c.SaveFile(fileHeader, savedPath); err != nil {
		log.Printf("upload save error analysis=%s: %v", id, err)
		return fiber.NewError(fiber.StatusInternalServerError, "could not store upload")
	}

	if err := store.InsertAnalysis(s.db, id, fileHeader.Filename, fileHeader.Size); err != nil {
		os.Remove(savedPath)
		log.Printf("upload insert error analysis=%s: %v", id, err)
		return fiber.NewError(fiber.StatusInternalServerError, "could not record upload")
	}

	log.Printf("upload accepted analysis=%s file=%s size=%d", id, fileHeader.Filename, fileHeader.Size)
	go s.process(id, savedPath, fileHeader.Filename)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":       id,
		"filename": fileHeader.Filename,
		"status":   store.StatusQueued,
		"message":  "upload received",
	})
}

// process runs the full pipeline for one upload: parse, infer roles,
// aggregate, persist. Failures land on the analysis row, never in an
// HTTP response.
func (s *Server) process(id, path, filename string) {
	defer os.Remove(path)

	if err := store.MarkProcessing(s.db, id); err != nil {
		log.Printf("analysis status error analysis=%s: %v", id, err)
		return
	}

	result, err := s.runAnalysis(path, filename)
	if err != nil {
		log.Printf("analysis failed analysis=%s file=%s: %v", id, filename, err)
		if dbErr := store.FailAnalysis(s.db, id, err.Error()); dbErr != nil {
			log.Printf("analysis status error analysis=%s: %v", id, dbErr)
		}
		s.notifier.AnalysisFailed(id, filename, err.Error())
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		log.Printf("analysis encode error analysis=%s: %v", id, err)
		if dbErr := store.FailAnalysis(s.db, id, "internal: encoding result"); dbErr != nil {
			log.Printf("analysis status error analysis=%s: %v", id, dbErr)
		}
		return
	}

	if err := store.CompleteAnalysis(s.db, id, string(resultJSON)); err != nil {
		log.Printf("analysis complete error analysis=%s: %v", id, err)
		return
	}

	log.Printf("analysis complete analysis=%s dataset=%s precincts=%d rows=%d",
		id, result.Dataset, result.TotalPrecincts, result.TotalRows)
	s.notifier.AnalysisCompleted(id, result)

	// Persist a human-readable report alongside the row. Best effort.
	report := export.MarkdownReport(result, time.Now())
	if reportPath, err := export.WriteReportFile(report, s.cfg.ReportOutputDir, result.Dataset, time.Now()); err != nil {
		log.Printf("report write error analysis=%s: %v", id, err)
	} else {
		log.Printf("report written analysis=%s path=%s", id, reportPath)
	}
}

func (s *Server) runAnalysis(path, filename string) (*analyze.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	table, err := dataset.ParseCSV(f)
	if err != nil {
		return nil, err
	}

	roles := schema.Infer(table.Columns)
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	return analyze.Analyze(name, table, roles), nil
}

func (s *Server) handleListAnalyses(c *fiber.Ctx) error {
	list, err := store.ListAnalyses(s.db)
	if err != nil {
		log.Printf("list analyses error: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "could not list analyses")
	}
	if list == nil {
		list = []store.Analysis{}
	}
	return c.JSON(fiber.Map{"analyses": list})
}

// analysisResponse is the detail shape: lifecycle fields plus the raw
// result document once the analysis completed.
type analysisResponse struct {
	store.Analysis
	Result json.RawMessage `json:"result,omitempty"`
}

func (s *Server) handleGetAnalysis(c *fiber.Ctx) error {
	a, err := s.loadAnalysis(c)
	if err != nil {
		return err
	}

	resp := analysisResponse{Analysis: a}
	if a.Status == store.StatusCompleted && a.ResultJSON != "" {
		resp.Result = json.RawMessage(a.ResultJSON)
	}
	return c.JSON(resp)
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	a, err := s.loadAnalysis(c)
	if err != nil {
		return err
	}
	result, err := completedResult(a)
	if err != nil {
		return err
	}

	body, err := export.Render(result, format, time.Now())
	if err != nil {
		log.Printf("export error analysis=%s format=%s: %v", a.ID, format, err)
		return fiber.NewError(fiber.StatusInternalServerError, "could not render export")
	}

	c.Set("Content-Type", format.ContentType())
	return c.Send(body)
}

func (s *Server) handleSuggestions(c *fiber.Ctx) error {
	a, err := s.loadAnalysis(c)
	if err != nil {
		return err
	}
	result, err := completedResult(a)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.cfg.SuggestTimeout())
	defer cancel()

	out, err := s.suggester.Generate(ctx, result)
	if errors.Is(err, suggest.ErrNotConfigured) {
		return fiber.NewError(fiber.StatusServiceUnavailable, "suggestions are not configured on this server")
	}
	if err != nil {
		log.Printf("suggestions error analysis=%s: %v", a.ID, err)
		return fiber.NewError(fiber.StatusBadGateway, "suggestion provider request failed")
	}

	return c.JSON(fiber.Map{
		"id":          a.ID,
		"suggestions": out,
	})
}

// loadAnalysis resolves the :id path param to a stored row.
func (s *Server) loadAnalysis(c *fiber.Ctx) (store.Analysis, error) {
	id := c.Params("id")
	a, err := store.GetAnalysis(s.db, id)
	if err == sql.ErrNoRows {
		return store.Analysis{}, fiber.NewError(fiber.StatusNotFound, "analysis not found")
	}
	if err != nil {
		log.Printf("get analysis error analysis=%s: %v", id, err)
		return store.Analysis{}, fiber.NewError(fiber.StatusInternalServerError, "could not load analysis")
	}
	return a, nil
}

// completedResult decodes the stored result, rejecting rows that have
// not finished yet.
func completedResult(a store.Analysis) (*analyze.Result, error) {
	switch a.Status {
	case store.StatusCompleted:
	case store.StatusError:
		return nil, fiber.NewError(fiber.StatusConflict, "analysis failed: "+a.Error)
	default:
		return nil, fiber.NewError(fiber.StatusConflict, "analysis is still "+a.Status)
	}

	var result analyze.Result
	if err := json.Unmarshal([]byte(a.ResultJSON), &result); err != nil {
		log.Printf("stored result corrupt analysis=%s: %v", a.ID, err)
		return nil, fiber.NewError(fiber.StatusInternalServerError, "stored result is unreadable")
	}
	return &result, nil
}

// StartRetentionSweeper purges finished analyses past the retention
// window every hour. The returned cron is already running.
func StartRetentionSweeper(db *sql.DB, retention time.Duration) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc("@every 1h", func() {
		purged, err := store.PurgeOlderThan(db, time.Now().Add(-retention))
		if err != nil {
			log.Printf("retention sweep error: %v", err)
			return
		}
		if purged > 0 {
			log.Printf("retention sweep purged=%d retention=%s", purged, retention)
		}
	})
	if err != nil {
		log.Printf("retention sweep schedule error: %v", err)
	}
	c.Start()
	return c
}

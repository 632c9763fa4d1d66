package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"papercast/common"
	"papercast/pipelines/deck"
)

// Server accepts PDF uploads, queues them on a worker pool, and reports
// per-stage progress from the job store.
type Server struct {
	cfg       common.Config
	logger    *logrus.Logger
	store     *JobStore
	pool      *WorkerPool
	uploadDir string
	startedAt time.Time
}

type serverJob struct {
	id  string
	cfg common.Config
}

// WorkerPool runs queued jobs on a fixed number of goroutines.
type WorkerPool struct {
	jobs    chan *serverJob
	wg      sync.WaitGroup
	workers int
	process func(*serverJob)
	logger  *logrus.Logger
}

func NewWorkerPool(workers, buffer int, process func(*serverJob), logger *logrus.Logger) *WorkerPool {
	pool := &WorkerPool{
		jobs:    make(chan *serverJob, buffer),
		workers: workers,
		process: process,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}
	logger.WithField("workers", workers).Info("worker pool started")
	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.logger.WithFields(logrus.Fields{"worker": id, "job": job.id}).Info("processing job")
		p.process(job)
	}
}

func (p *WorkerPool) Submit(job *serverJob) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *WorkerPool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
}

func NewPipelineServer(cfg common.Config, workers int, dbPath string, logger *logrus.Logger) (*Server, error) {
	store, err := NewJobStore(dbPath)
	if err != nil {
		return nil, err
	}

	uploadDir := filepath.Join(cfg.OutputDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		uploadDir: uploadDir,
		startedAt: time.Now(),
	}
	s.pool = NewWorkerPool(workers, 100, s.processJob, logger)
	return s, nil
}

func (s *Server) processJob(job *serverJob) {
	if err := s.store.SetStatus(job.id, JobProcessing, "", ""); err != nil {
		s.logger.WithError(err).WithField("job", job.id).Error("could not mark job processing")
	}

	ctx := context.Background()
	run := deck.NewPipelineRun(s.logger)

	finish := func(output string, runErr error) {
		if serr := s.store.SetStages(job.id, run.Snapshot()); serr != nil {
			s.logger.WithError(serr).WithField("job", job.id).Warn("could not persist stage snapshot")
		}
		status, errMsg := JobCompleted, ""
		if runErr != nil {
			status, errMsg = JobFailed, runErr.Error()
		}
		if serr := s.store.SetStatus(job.id, status, output, errMsg); serr != nil {
			s.logger.WithError(serr).WithField("job", job.id).Error("could not finalize job")
		}
	}

	pipeline, err := deck.NewPipeline(ctx, job.cfg, s.logger)
	if err != nil {
		finish("", err)
		return
	}
	defer pipeline.Close()

	output, err := pipeline.Run(ctx, run)
	finish(output, err)
	if err != nil {
		s.logger.WithError(err).WithField("job", job.id).Error("job failed")
	} else {
		s.logger.WithFields(logrus.Fields{"job": job.id, "output": output}).Info("job completed")
	}
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs", s.handleList)
	r.Get("/jobs/{id}", s.handleStatus)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"workers":    s.pool.workers,
		"queued":     len(s.pool.jobs),
		"goroutines": runtime.NumGoroutine(),
		"uptime_s":   int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("pdf")
	if err != nil {
		http.Error(w, "missing 'pdf' form field: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if filepath.Ext(header.Filename) != ".pdf" {
		http.Error(w, "only PDF files are accepted", http.StatusBadRequest)
		return
	}

	jobCfg := s.cfg
	if mode := r.URL.Query().Get("mode"); mode != "" {
		jobCfg.Mode = mode
	}
	if err := jobCfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	pdfPath := filepath.Join(s.uploadDir, jobID+".pdf")
	dst, err := os.Create(pdfPath)
	if err != nil {
		http.Error(w, "could not save upload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		http.Error(w, "could not save upload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	dst.Close()

	jobCfg.PDFPath = pdfPath
	jobCfg.OutputDir = filepath.Join(s.cfg.OutputDir, "jobs", jobID)

	record := &JobRecord{
		ID:        jobID,
		Status:    JobQueued,
		Mode:      jobCfg.Mode,
		PDFPath:   pdfPath,
		OutputDir: jobCfg.OutputDir,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateJob(record); err != nil {
		http.Error(w, "could not queue job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if !s.pool.Submit(&serverJob{id: jobID, cfg: jobCfg}) {
		if serr := s.store.SetStatus(jobID, JobFailed, "", "queue full"); serr != nil {
			s.logger.WithError(serr).Warn("could not mark rejected job")
		}
		http.Error(w, "queue full, try again later", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": JobQueued,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*JobRecord{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// Serve runs the HTTP server until the listener fails.
func (s *Server) Serve(addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}
	s.logger.WithFields(logrus.Fields{"addr": addr, "workers": s.pool.workers}).Info("server listening")
	return httpServer.ListenAndServe()
}

func (s *Server) Shutdown() {
	s.pool.Shutdown()
	if err := s.store.Close(); err != nil {
		s.logger.WithError(err).Warn("closing job store")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

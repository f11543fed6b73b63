// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package console is the HTTP control surface of the pipeline: it
// starts and stops stages, adjusts the image worker count and reports
// stage status.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cercinaai/Xtracto-io/pipeline/supervisor"
)

// Error is the default error class for the console package.
var Error = errs.Class("console")

// Stages is the part of the supervisor the console drives.
type Stages interface {
	Start(name string) (already bool, err error)
	Stop(name string) (wasRunning bool, err error)
	Status() []supervisor.State
}

// Workers adjusts the image pipeline worker count.
type Workers interface {
	SetInstances(n int) error
}

// Config contains configurable values for the console server.
type Config struct {
	Address string `help:"address the control API listens on" default:":8080"`
}

// taskStages maps API task names onto supervisor stage names. The
// scrape endpoints use the task names; stop accepts either form.
var taskStages = map[string]string{
	"100_pages":            "first_scraper",
	"loop":                 "loop_scraper",
	"agence_brute":         "agence_brute",
	"agence_notexisting":   "agence_notexisting",
	"process_and_transfer": "process_and_transfer",

	"first_scraper": "first_scraper",
	"loop_scraper":  "loop_scraper",
}

// response is the JSON body every endpoint answers with.
type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Server implements the control API.
//
// architecture: Endpoint
type Server struct {
	log     *zap.Logger
	stages  Stages
	workers Workers
	config  Config

	mux    *mux.Router
	server http.Server
}

// NewServer constructs the console server and its routes.
func NewServer(log *zap.Logger, stages Stages, workers Workers, config Config) *Server {
	if config.Address == "" {
		config.Address = ":8080"
	}
	server := &Server{
		log:     log,
		stages:  stages,
		workers: workers,
		config:  config,
		mux:     mux.NewRouter(),
	}
	server.server.Handler = server.mux

	api := server.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/scrape/leboncoin/{task}", server.startTask).Methods("GET")
	api.HandleFunc("/stop/{task}", server.stopTask).Methods("GET")
	api.HandleFunc("/status", server.status).Methods("GET")
	api.HandleFunc("/health", server.health).Methods("GET")

	return server
}

// Run starts the server and serves until the context is canceled.
func (server *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", server.config.Address)
	if err != nil {
		return Error.Wrap(err)
	}
	server.log.Info("control API listening", zap.String("address", listener.Addr().String()))

	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.server.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Handler exposes the routes for tests.
func (server *Server) Handler() http.Handler { return server.mux }

func (server *Server) startTask(w http.ResponseWriter, r *http.Request) {
	task := mux.Vars(r)["task"]
	stage, ok := taskStages[task]
	if !ok {
		server.reply(w, http.StatusBadRequest, "error", fmt.Sprintf("unknown task %q", task))
		return
	}

	if stage == "process_and_transfer" {
		if raw := r.URL.Query().Get("instances"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				server.reply(w, http.StatusBadRequest, "error", fmt.Sprintf("invalid instances %q", raw))
				return
			}
			if err := server.workers.SetInstances(n); err != nil {
				server.reply(w, http.StatusBadRequest, "error", err.Error())
				return
			}
		}
	}

	already, err := server.stages.Start(stage)
	if err != nil {
		server.reply(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	if already {
		server.reply(w, http.StatusOK, "running", fmt.Sprintf("task %s is already running", task))
		return
	}
	server.log.Info("task started via API", zap.String("task", task))
	server.reply(w, http.StatusOK, "started", fmt.Sprintf("task %s started", task))
}

func (server *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	task := mux.Vars(r)["task"]
	stage, ok := taskStages[task]
	if !ok {
		server.reply(w, http.StatusBadRequest, "error", fmt.Sprintf("unknown task %q", task))
		return
	}

	wasRunning, err := server.stages.Stop(stage)
	if err != nil {
		server.reply(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	if !wasRunning {
		server.reply(w, http.StatusOK, "idle", fmt.Sprintf("task %s was not running", task))
		return
	}
	server.log.Info("task stopped via API", zap.String("task", task))
	server.reply(w, http.StatusOK, "stopped", fmt.Sprintf("task %s stopped", task))
}

func (server *Server) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(struct {
		Status string             `json:"status"`
		Stages []supervisor.State `json:"stages"`
	}{
		Status: "success",
		Stages: server.stages.Status(),
	})
	if err != nil {
		server.log.Error("status encoding failed", zap.Error(err))
	}
}

func (server *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(struct {
		Status string    `json:"status"`
		Time   time.Time `json:"time"`
	}{
		Status: "success",
		Time:   time.Now().UTC(),
	})
	if err != nil {
		server.log.Error("health encoding failed", zap.Error(err))
	}
}

func (server *Server) reply(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(response{Status: status, Message: message}); err != nil {
		server.log.Error("response encoding failed", zap.Error(err))
	}
}

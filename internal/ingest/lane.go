// Package ingest schedules transcript ingestion across recency lanes and
// runs the per-file parse, chunk, embed and index pipeline.
package ingest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/amanmem/internal/config"
	"github.com/Aman-CERP/amanmem/internal/transcript"
)

// Lane names, highest priority first.
const (
	LaneHot  = "hot"
	LaneWarm = "warm"
	LaneCold = "cold"
)

// Classify buckets a file by the age of its last modification.
func Classify(lanes config.LanesConfig, modifiedAt, now time.Time) string {
	age := now.Sub(modifiedAt)
	switch {
	case age <= lanes.Hot.MaxAge:
		return LaneHot
	case age <= lanes.Warm.MaxAge:
		return LaneWarm
	default:
		return LaneCold
	}
}

// task is one claimed file. The prev fields come from the file's existing
// record and describe what a previous import left behind.
type task struct {
	// key is the canonical path the file is claimed under.
	key            string
	file           transcript.File
	prevChunks     int
	prevCollection string
	prevRetries    int
}

// lane owns a bounded worker pool and a FIFO of claimed files. Its fields
// are guarded by the scheduler mutex.
type lane struct {
	name string
	cfg  config.LaneConfig
	pool *ants.Pool

	queue    []task
	inFlight int

	// Counters since the last flush into the state document.
	processed int
	failed    int
	chunks    int
}

func newLane(name string, cfg config.LaneConfig) (*lane, error) {
	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create %s lane pool: %w", name, err)
	}
	return &lane{name: name, cfg: cfg, pool: pool}, nil
}

// ready reports whether the lane can start another file: it has queued
// work, is under its in-flight ceiling and has an idle worker.
func (l *lane) ready() bool {
	return len(l.queue) > 0 && l.inFlight < l.cfg.InFlight && l.pool.Free() > 0
}

func (l *lane) pop() task {
	t := l.queue[0]
	l.queue = l.queue[1:]
	return t
}

func (l *lane) busy() bool {
	return len(l.queue) > 0 || l.inFlight > 0
}

func (l *lane) report(running bool) laneReport {
	r := laneReport{lane: l.name, processed: l.processed, failed: l.failed, chunks: l.chunks, running: running}
	l.processed, l.failed, l.chunks = 0, 0, 0
	return r
}

type laneReport struct {
	lane      string
	processed int
	failed    int
	chunks    int
	running   bool
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug("cron_"+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error("cron_"+msg, append(keysAndValues, "error", err.Error())...)
}

// Package queue serializes link jobs per chat. Every chat with pending jobs
// has exactly one worker goroutine; different chats run in parallel.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"nuclight.org/xmedia-tg-bot/pkg/besteffort"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

const cleanupTimeout = 30 * time.Second

// Job is one message with links. Progress is the status message that the
// worker edits while going through PostIDs and deletes afterwards.
type Job struct {
	Origin   e.MessageRef
	PostIDs  []e.PostID
	Progress e.MessageRef
}

type PostProcessor interface {
	ProcessPost(ctx context.Context, origin e.MessageRef, id e.PostID, settings e.Settings) error
}

type SettingsStore interface {
	GetSettings(ctx context.Context, userID int64) (e.Settings, error)
}

type Messenger interface {
	// EditText returns nil when the text is already in place
	EditText(ctx context.Context, ref e.MessageRef, text string) error
	Delete(ctx context.Context, ref e.MessageRef) error
}

type Stats struct {
	ActiveWorkers int
	QueuedJobs    int
}

// Dispatcher owns the per-chat queues and the registry of running workers.
// Both are guarded by one mutex, so a worker deciding to exit and a new job
// arriving for its chat can not miss each other.
type Dispatcher struct {
	// Log is a logger
	Log logger.Logger

	// Processor handles one post of a job
	Processor PostProcessor

	// Settings is read once per job
	Settings SettingsStore

	// Messenger edits and deletes the progress message
	Messenger Messenger

	// ProgressLinger is how long the final progress text stays visible
	ProgressLinger time.Duration

	// ProgressText renders "post i of total", DefaultProgressText when nil
	ProgressText func(i, total int) string

	// DoneText renders the final progress text, DefaultDoneText when nil
	DoneText func(total int) string

	mu     sync.Mutex
	queues map[int64][]Job
	active map[int64]struct{}
	wg     sync.WaitGroup
}

func DefaultProgressText(i, total int) string {
	return fmt.Sprintf("⏳ Processing link <b>%d</b> of <b>%d</b>...", i, total)
}

func DefaultDoneText(total int) string {
	if total == 1 {
		return "✅ Finished processing <b>1</b> link!"
	}
	return fmt.Sprintf("✅ Finished processing <b>%d</b> links!", total)
}

// Enqueue appends the job to its chat's queue and starts a worker for the
// chat unless one is running. The worker lives as long as ctx allows.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) {
	chatID := job.Origin.ChatID

	d.mu.Lock()
	if d.queues == nil {
		d.queues = make(map[int64][]Job)
		d.active = make(map[int64]struct{})
	}
	d.queues[chatID] = append(d.queues[chatID], job)
	spawn := d.claimLocked(chatID)
	queued := len(d.queues[chatID])
	d.mu.Unlock()

	d.Log.Debug("job enqueued",
		"tg_chat_id", chatID,
		"tg_message_id", job.Origin.MessageID,
		"posts", len(job.PostIDs),
		"queued", queued,
		"new_worker", spawn,
	)

	if spawn {
		go d.work(ctx, chatID)
	}
}

// Stats returns the number of running workers and of jobs waiting for them.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{ActiveWorkers: len(d.active)}
	for _, q := range d.queues {
		s.QueuedJobs += len(q)
	}
	return s
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// claimLocked registers a worker for the chat when there is none.
func (d *Dispatcher) claimLocked(chatID int64) bool {
	if _, ok := d.active[chatID]; ok {
		return false
	}
	d.active[chatID] = struct{}{}
	d.wg.Add(1)
	return true
}

// next pops the chat's oldest job. On an empty queue it unregisters the
// worker in the same critical section and reports false.
func (d *Dispatcher) next(chatID int64) (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[chatID]
	if len(q) == 0 {
		delete(d.queues, chatID)
		delete(d.active, chatID)
		return Job{}, false
	}

	job := q[0]
	q[0] = Job{}
	d.queues[chatID] = q[1:]
	return job, true
}

// abandon unregisters the worker and hands back the jobs left in the queue.
func (d *Dispatcher) abandon(chatID int64) []Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	left := d.queues[chatID]
	delete(d.queues, chatID)
	delete(d.active, chatID)
	return left
}

func (d *Dispatcher) work(ctx context.Context, chatID int64) {
	log := d.Log.With("tg_chat_id", chatID)
	defer d.wg.Done()

	log.Debug("worker started")

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		log.Error("worker panic", "error", r)
		sentry.CurrentHub().Recover(r)

		// unregister, and hand remaining jobs to a fresh worker
		d.mu.Lock()
		delete(d.active, chatID)
		respawn := len(d.queues[chatID]) > 0 && ctx.Err() == nil && d.claimLocked(chatID)
		d.mu.Unlock()

		if respawn {
			go d.work(ctx, chatID)
		}
	}()

	for {
		if ctx.Err() != nil {
			left := d.abandon(chatID)
			if len(left) > 0 {
				log.Warn("worker stopped with pending jobs", "dropped_jobs", len(left))
			}
			return
		}

		job, ok := d.next(chatID)
		if !ok {
			log.Debug("worker finished")
			return
		}

		d.runJob(ctx, job)
	}
}

func (d *Dispatcher) runJob(ctx context.Context, job Job) {
	log := d.Log.With("tg_chat_id", job.Origin.ChatID, "tg_message_id", job.Origin.MessageID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panic", "error", r)
			sentry.CurrentHub().Recover(r)
		}
	}()

	settings, err := d.Settings.GetSettings(ctx, job.Origin.UserID)
	if err != nil {
		log.Warn("getting user settings, using defaults", "tg_user_id", job.Origin.UserID, "error", err)
		settings = e.DefaultSettings()
	}

	total := len(job.PostIDs)
	log.Info("processing job", "posts", total)

	var shown string
	for i, id := range job.PostIDs {
		if ctx.Err() != nil {
			log.Info("job interrupted", "done", i, "posts", total)
			return
		}

		shown = d.showProgress(ctx, log, job.Progress, shown, d.progressText(i+1, total))
		d.processPost(ctx, log, job, id, settings)
	}

	d.showProgress(ctx, log, job.Progress, shown, d.doneText(total))

	if d.ProgressLinger > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(d.ProgressLinger):
		}
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if !job.Progress.IsZero() {
		besteffort.Do(cleanupCtx, log, "delete progress message", func(ctx context.Context) error {
			return d.Messenger.Delete(ctx, job.Progress)
		})
	}

	if settings.DeleteOriginal {
		besteffort.Do(cleanupCtx, log, "delete original message", func(ctx context.Context) error {
			return d.Messenger.Delete(ctx, job.Origin)
		})
	}

	log.Info("job done", "posts", total)
}

// showProgress edits the progress message unless it already shows text and
// returns what the message shows afterwards.
func (d *Dispatcher) showProgress(ctx context.Context, log logger.Logger, ref e.MessageRef, shown, text string) string {
	if text == shown || ref.IsZero() {
		return shown
	}

	if err := d.Messenger.EditText(ctx, ref, text); err != nil {
		log.Warn("updating progress message", "error", err)
		return shown
	}
	return text
}

func (d *Dispatcher) processPost(ctx context.Context, log logger.Logger, job Job, id e.PostID, settings e.Settings) {
	log = log.With("post_id", id)

	defer func() {
		if r := recover(); r != nil {
			log.Error("post panic", "error", r)
			sentry.CurrentHub().Recover(r)
		}
	}()

	start := time.Now()
	err := d.Processor.ProcessPost(ctx, job.Origin, id, settings)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("post interrupted", "error", err)
			return
		}
		log.Error("processing post", "error", err)
		sentry.CaptureException(fmt.Errorf("processing post %s: %w", id, err))
		return
	}

	log.Info("post processed", "took", time.Since(start).Round(time.Millisecond))
}

func (d *Dispatcher) progressText(i, total int) string {
	if d.ProgressText != nil {
		return d.ProgressText(i, total)
	}
	return DefaultProgressText(i, total)
}

func (d *Dispatcher) doneText(total int) string {
	if d.DoneText != nil {
		return d.DoneText(total)
	}
	return DefaultDoneText(total)
}

package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/callrelay/callrelay/pkg/gateway/events"
	"github.com/callrelay/callrelay/pkg/gateway/metrics"
	"github.com/callrelay/callrelay/pkg/gateway/telephony"
)

// Executor applies parsed commands to the live call via the telephony
// control surface. Submit runs off the relay's decode path on a bounded
// worker pool so a slow provider call never stalls frame processing;
// when the queue is full the task is dispatched on its own goroutine
// rather than blocking or dropping.
type Executor struct {
	control         telephony.Controller
	bus             *events.Bus
	logger          *slog.Logger
	defaultTransfer string
	timeout         time.Duration
	metrics         *metrics.Metrics

	tasks     chan task
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type task struct {
	cmd     Command
	callSid string
}

type ExecutorOptions struct {
	Workers         int
	QueueSize       int
	Timeout         time.Duration
	DefaultTransfer string
	Metrics         *metrics.Metrics
}

func NewExecutor(control telephony.Controller, bus *events.Bus, logger *slog.Logger, opts ExecutorOptions) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	e := &Executor{
		control:         control,
		bus:             bus,
		logger:          logger,
		defaultTransfer: opts.DefaultTransfer,
		timeout:         opts.Timeout,
		metrics:         opts.Metrics,
		tasks:           make(chan task, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for t := range e.tasks {
		e.run(t)
	}
}

// Submit queues the command for execution. It never blocks the caller.
func (e *Executor) Submit(cmd Command, callSid string) {
	t := task{cmd: cmd, callSid: callSid}
	select {
	case e.tasks <- t:
	default:
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.run(t)
		}()
	}
}

func (e *Executor) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	// Errors are already logged and published; nothing to propagate.
	_ = e.Execute(ctx, t.cmd, t.callSid)
}

// Close drains in-flight work. Submit must not be called afterwards.
func (e *Executor) Close() {
	e.closeOnce.Do(func() { close(e.tasks) })
	e.wg.Wait()
}

// Execute applies cmd to the call synchronously. Provider failures are
// logged and surfaced as a command_failed event; the returned error is
// for callers (override handlers) that want to report it, and must
// never crash the relay.
func (e *Executor) Execute(ctx context.Context, cmd Command, callSid string) error {
	var err error
	switch cmd.Action {
	case ActionPress:
		digits := cmd.ValueOr("")
		if digits == "" {
			e.logger.Warn("press directive without digits", "call_sid", callSid)
			return nil
		}
		err = e.control.SendDigits(ctx, callSid, digits)

	case ActionTransfer:
		target := cmd.ValueOr("")
		if target == "" {
			target = e.defaultTransfer
		}
		if target == "" {
			e.logger.Warn("transfer target not specified", "call_sid", callSid)
			return nil
		}
		var doc string
		doc, err = telephony.DialTwiML(target)
		if err == nil {
			err = e.control.RedirectTwiML(ctx, callSid, doc)
		}
		if err == nil {
			e.logger.Info("transferring call", "call_sid", callSid, "target", target)
		}

	case ActionEndCall:
		err = e.control.Hangup(ctx, callSid)

	case ActionRequestUser:
		// Handled entirely by the relay's hold flow; reaching the
		// executor is a programming error upstream.
		err = fmt.Errorf("request_user is not executable")

	default:
		err = fmt.Errorf("unknown command action %q", cmd.Action)
	}

	if err != nil {
		e.logger.Error("command execution failed",
			"call_sid", callSid,
			"command", string(cmd.Action),
			"error", err,
		)
		if e.metrics != nil {
			e.metrics.CommandsFailed.WithLabelValues(string(cmd.Action)).Inc()
		}
		if e.bus != nil {
			e.bus.Publish(callSid, events.Event{
				Type:    events.KindCommandFailed,
				Command: string(cmd.Action),
				Value:   cmd.ValueOr(""),
				Error:   err.Error(),
			})
		}
		return err
	}

	e.logger.Info("command executed",
		"call_sid", callSid,
		"command", string(cmd.Action),
		"value", cmd.ValueOr(""),
	)
	return nil
}

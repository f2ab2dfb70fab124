package worker

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hoffbot/hoff/action"
	"github.com/hoffbot/hoff/command"
	"github.com/hoffbot/hoff/event"
	"github.com/hoffbot/hoff/project"
	"github.com/hoffbot/hoff/queue"
)

// LogicWorker is the single consumer of one project's main queue. It owns
// the in-memory project.State, persists it via project.Store after every
// pure transition before the interpreter runs any effect, and exposes a
// lock-guarded snapshot for read-only status reporting, the same
// swap-on-write register pattern as tide.Controller.ServeHTTP
// (sync.Mutex + json.Marshal(c.pools)).
type LogicWorker struct {
	Project     string
	Queue       *Queue[event.Event]
	Store       *project.Store
	Interpreter *action.Interpreter
	Parser      command.Parser
	Log         *logrus.Entry

	mu     sync.RWMutex
	state  project.State
	cancel context.CancelFunc
}

// NewLogicWorker loads the persisted state for the project (or starts
// empty) and returns a worker ready to Run.
func NewLogicWorker(name string, q *Queue[event.Event], store *project.Store, interp *action.Interpreter, parser command.Parser, log *logrus.Entry) (*LogicWorker, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &LogicWorker{
		Project:     name,
		Queue:       q,
		Store:       store,
		Interpreter: interp,
		Parser:      parser,
		Log:         log.WithFields(logrus.Fields{"component": "worker", "project": name}),
		state:       s,
	}, nil
}

// Snapshot returns the current state for read-only status reporting.
func (w *LogicWorker) Snapshot() project.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *LogicWorker) getState() project.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *LogicWorker) setState(s project.State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run consumes events until ctx is done or a fatal error is hit, in which
// case it logs at Fatal: the process is configured to crash on worker
// death, and never returns normally from that branch.
func (w *LogicWorker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	defer cancel()
	for {
		ev, ok := w.Queue.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := w.handleOne(context.WithoutCancel(ctx), ev); err != nil {
			w.Log.WithError(err).Fatal("worker: fatal error handling event")
		}
	}
}

// Stop signals Run to exit after it finishes any event already being
// handled; it does not wait for Run to return.
func (w *LogicWorker) Stop(ctx context.Context) {
	if w.cancel != nil {
		w.cancel()
	}
}

// handleOne runs HandleEvent, persists the resulting pure state, then runs
// the interpreter and the proceed loop, persisting again at each of the
// proceed loop's own internal pure steps: persistence happens once per
// internal step, not only once per inbound event.
func (w *LogicWorker) handleOne(ctx context.Context, ev event.Event) error {
	current := w.getState()
	pure, program := queue.HandleEvent(ev, current, w.Parser)
	if err := w.Store.Save(pure); err != nil {
		return err
	}
	w.setState(pure)

	resolved, err := w.Interpreter.Run(ctx, pure, program)
	if err != nil {
		return err
	}
	w.setState(resolved)

	final, err := queue.ProceedUntilFixedPoint(ctx, w.Interpreter, resolved, func(s project.State) error {
		if err := w.Store.Save(s); err != nil {
			return err
		}
		w.setState(s)
		return nil
	})
	if err != nil {
		return err
	}
	w.setState(final)

	return project.CheckCandidate(w.Project, final)
}

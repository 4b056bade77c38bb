package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"stakechain/core/types"
)

var tasksKey = []byte("scheduler/tasks")

// ErrUnknownTask is returned when a due task has no registered handler.
var ErrUnknownTask = errors.New("scheduler: unknown task")

// Task is a recurring call. It runs at Next, then every Interval blocks,
// Remaining more times.
type Task struct {
	ID        string
	Next      uint64
	Interval  uint64
	Remaining uint32
}

// TaskFunc executes a task at block.
type TaskFunc func(block types.BlockNumber) error

// SchedulerStorage is the state view the scheduler persists tasks in.
type SchedulerStorage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVGetList(key []byte, out interface{}) error
	Transact(fn func() error) error
}

// Scheduler runs persisted recurring tasks from the block initialisation
// hook. It only invokes handlers; guards such as the once-per-year decay
// check live with the handler.
type Scheduler struct {
	store    SchedulerStorage
	handlers map[string]TaskFunc
	logger   *slog.Logger
}

// NewScheduler returns a scheduler with no handlers.
func NewScheduler(store SchedulerStorage, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: store, handlers: make(map[string]TaskFunc), logger: logger}
}

// Handle registers fn for task id.
func (s *Scheduler) Handle(id string, fn TaskFunc) {
	s.handlers[id] = fn
}

// Tasks returns the pending tasks ordered by id.
func (s *Scheduler) Tasks() ([]Task, error) {
	var tasks []Task
	if err := s.store.KVGetList(tasksKey, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Scheduler) save(tasks []Task) error {
	if len(tasks) == 0 {
		return s.store.KVDelete(tasksKey)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return s.store.KVPut(tasksKey, tasks)
}

// Schedule adds or replaces a task.
func (s *Scheduler) Schedule(task Task) error {
	if task.ID == "" {
		return fmt.Errorf("scheduler: task id must not be empty")
	}
	if task.Remaining > 1 && task.Interval == 0 {
		return fmt.Errorf("scheduler: task %q repeats with zero interval", task.ID)
	}
	tasks, err := s.Tasks()
	if err != nil {
		return err
	}
	out := tasks[:0]
	for _, t := range tasks {
		if t.ID != task.ID {
			out = append(out, t)
		}
	}
	if task.Remaining > 0 {
		out = append(out, task)
	}
	return s.save(out)
}

// Cancel removes a task. Unknown ids are ignored.
func (s *Scheduler) Cancel(id string) error {
	return s.Schedule(Task{ID: id})
}

// Run executes every task due at block. A failing handler is logged, its
// writes are discarded and the task still advances. It returns the ids that
// ran successfully.
func (s *Scheduler) Run(block types.BlockNumber) ([]string, error) {
	tasks, err := s.Tasks()
	if err != nil {
		return nil, err
	}
	var ran []string
	changed := false
	out := tasks[:0]
	for _, task := range tasks {
		if task.Next > block {
			out = append(out, task)
			continue
		}
		changed = true
		if err := s.execute(task, block); err != nil {
			s.logger.Warn("scheduler: task failed",
				slog.String("task", task.ID),
				slog.Uint64("block", block),
				slog.Any("error", err))
		} else {
			ran = append(ran, task.ID)
		}
		task.Remaining--
		task.Next = block + task.Interval
		if task.Remaining > 0 {
			out = append(out, task)
		}
	}
	if !changed {
		return nil, nil
	}
	return ran, s.save(out)
}

func (s *Scheduler) execute(task Task, block types.BlockNumber) error {
	fn, ok := s.handlers[task.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, task.ID)
	}
	return s.store.Transact(func() error { return fn(block) })
}

package trade

import (
	"fmt"
	"runtime/debug"
)

// Task is one atomic step of protocol work. It reads and mutates the
// process model and may call out to the wallet or other collaborators.
type Task struct {
	Name string
	Run  func(pm *ProcessModel) error
}

// TaskError wraps the error of the task that stopped a pipeline.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Task, e.Err)
}

// Cause returns the task's error so errors.Cause can unwrap it.
func (e *TaskError) Cause() error {
	return e.Err
}

// TaskRunner executes an ordered list of tasks. It stops at the first
// failing task and then calls exactly one of its two continuations.
type TaskRunner struct {
	pm        *ProcessModel
	tasks     []Task
	onSuccess func()
	onFailure func(err error)
}

// NewTaskRunner builds a runner for a single invocation. Runners are not
// reused.
func NewTaskRunner(pm *ProcessModel, onSuccess func(), onFailure func(err error), tasks ...Task) *TaskRunner {
	return &TaskRunner{
		pm:        pm,
		tasks:     tasks,
		onSuccess: onSuccess,
		onFailure: onFailure,
	}
}

// Run executes the tasks in order. Panics inside a task are recovered and
// reported through the failure continuation.
func (r *TaskRunner) Run() {
	if err := r.runTasks(); err != nil {
		if r.onFailure != nil {
			r.onFailure(err)
		}
		return
	}
	if r.onSuccess != nil {
		r.onSuccess()
	}
}

func (r *TaskRunner) runTasks() (err error) {
	var current string
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("Task %s panicked: %v\n%s", current, rec, debug.Stack())
			err = &TaskError{Task: current, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	for _, task := range r.tasks {
		current = task.Name
		if err := task.Run(r.pm); err != nil {
			return &TaskError{Task: task.Name, Err: err}
		}
	}
	return nil
}

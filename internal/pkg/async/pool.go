// Package async runs named tasks on a bounded set of workers.
package async

import (
	"context"
	"fmt"
	"sync"
)

type Task struct {
	Name    string
	Execute func(ctx context.Context) (any, error)
}

type Result struct {
	Name string
	Data any
	Err  error
}

type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup, tasks <-chan Task, results chan<- Result) {
	defer wg.Done()
	for task := range tasks {
		res := Result{Name: task.Name}
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("task %s not started: %w", task.Name, err)
		} else {
			res.Data, res.Err = run(ctx, task)
		}
		results <- res
	}
}

func run(ctx context.Context, task Task) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Execute(ctx)
}

// Execute runs every task and returns one result per task name. Tasks still
// queued when ctx is cancelled report the context error instead of running.
// Pools are safe to reuse across calls.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	queue := make(chan Task)
	results := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, queue, results)
	}

	go func() {
		for _, task := range tasks {
			queue <- task
		}
		close(queue)
	}()

	wg.Wait()
	close(results)

	out := make(map[string]Result, len(tasks))
	for res := range results {
		out[res.Name] = res
	}
	return out
}

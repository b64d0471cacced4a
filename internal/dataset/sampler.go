package dataset

import (
	"context"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// ReaderOptions configures the concurrent shard reader.
type ReaderOptions struct {
	Shard      ShardOptions
	NumWorkers int
}

// ShardResult is the decoded content of one shard.
type ShardResult struct {
	Path    string
	Samples []Sample
	Err     error
}

// ReadShards decodes shards on a pool of workers and emits one result per
// shard, in the order of shards. The channel is closed after the last shard
// or when ctx is done; callers that stop early must cancel ctx.
func ReadShards(parent context.Context, shards []string, opts ReaderOptions) <-chan ShardResult {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = defaultWorkers()
	}
	if opts.NumWorkers > len(shards) {
		opts.NumWorkers = len(shards)
	}

	ctx, cancel := context.WithCancel(parent)

	jobs := make(chan shardJob, opts.NumWorkers)
	done := make(chan shardDone, opts.NumWorkers)
	out := make(chan ShardResult)

	go produceJobs(ctx, jobs, shards)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, done, opts.Shard)
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	go func() {
		defer cancel()
		defer close(out)
		runAggregator(ctx, done, out)
	}()

	return out
}

func defaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return 1
}

type shardJob struct {
	id   int
	path string
}

type shardDone struct {
	id     int
	result ShardResult
}

func produceJobs(ctx context.Context, jobs chan<- shardJob, shards []string) {
	defer close(jobs)
	for id, path := range shards {
		select {
		case <-ctx.Done():
			return
		case jobs <- shardJob{id: id, path: path}:
		}
	}
}

func worker(ctx context.Context, jobs <-chan shardJob, done chan<- shardDone, opts ShardOptions) {
	for job := range jobs {
		res := shardDone{id: job.id, result: readShard(ctx, job.path, opts)}
		select {
		case <-ctx.Done():
			return
		case done <- res:
		}
	}
}

func readShard(ctx context.Context, path string, opts ShardOptions) ShardResult {
	res := ShardResult{Path: path}
	samples, errCh := StreamShard(ctx, path, opts)
	for s := range samples {
		res.Samples = append(res.Samples, s)
	}
	res.Err = <-errCh
	return res
}

// runAggregator restores shard order: results arriving early wait in
// pending until every lower id has been emitted.
func runAggregator(ctx context.Context, done <-chan shardDone, out chan<- ShardResult) {
	pending := make(map[int]ShardResult)
	next := 0
	for {
		if res, ok := pending[next]; ok {
			delete(pending, next)
			next++
			select {
			case <-ctx.Done():
				return
			case out <- res:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case d, ok := <-done:
			if !ok {
				return
			}
			pending[d.id] = d.result
		}
	}
}

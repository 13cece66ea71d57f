package search

import (
	"context"
	"log"
	"sync"
)

const (
	reindexPageSize = 500
	indexQueueSize  = 1024
)

// indexJob is one write's worth of index changes.
type indexJob struct {
	upserts []EntityDocument
	deletes []string
}

// Service indexes entities in the background when Meilisearch is
// configured and healthy. A nil meili turns every call into a no-op.
// Jobs are applied by a single worker in the order they were queued, so a
// later version of an entity always lands after an earlier one.
type Service struct {
	meili     *Meili
	jobs      chan indexJob
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewService(meili *Meili) *Service {
	s := &Service{meili: meili}
	if meili != nil {
		s.jobs = make(chan indexJob, indexQueueSize)
		s.done = make(chan struct{})
		s.wg.Add(1)
		go s.run()
	}
	return s
}

func (s *Service) Enabled() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case job := <-s.jobs:
			s.apply(job)
		}
	}
}

func (s *Service) apply(job indexJob) {
	for _, id := range job.deletes {
		if err := s.meili.DeleteEntity(id); err != nil {
			log.Printf("search: delete entity %s: %v", id, err)
		}
	}
	if len(job.upserts) > 0 {
		if err := s.meili.IndexEntities(job.upserts); err != nil {
			log.Printf("search: index %d entities: %v", len(job.upserts), err)
		}
	}
}

// IndexEntities queues entity documents for indexing.
func (s *Service) IndexEntities(_ context.Context, docs []EntityDocument) error {
	if len(docs) == 0 {
		return nil
	}
	s.enqueue(indexJob{upserts: append([]EntityDocument(nil), docs...)})
	return nil
}

// RemoveEntities queues entities whose current version has no triples for
// removal from the index.
func (s *Service) RemoveEntities(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.enqueue(indexJob{deletes: append([]string(nil), ids...)})
	return nil
}

// enqueue drops the job when the queue is full; ReindexAll catches up.
func (s *Service) enqueue(job indexJob) {
	if !s.Enabled() {
		return
	}
	select {
	case s.jobs <- job:
	default:
		log.Printf("search: index queue full, dropping upserts=%d deletes=%d", len(job.upserts), len(job.deletes))
	}
}

// ReindexAll pages every current entity out of src into Meilisearch.
// Called during bootstrap so the index catches up with writes made while
// it was unreachable.
func (s *Service) ReindexAll(ctx context.Context, src Source) {
	if !s.Enabled() || src == nil {
		return
	}
	after := ""
	total := 0
	for {
		docs, err := src.EntityDocuments(ctx, after, reindexPageSize)
		if err != nil {
			log.Printf("search: reindex load failed: %v", err)
			return
		}
		if len(docs) == 0 {
			break
		}
		if err := s.meili.IndexEntities(docs); err != nil {
			log.Printf("search: reindex entities: %v", err)
			return
		}
		total += len(docs)
		after = docs[len(docs)-1].ID
		if len(docs) < reindexPageSize {
			break
		}
	}
	log.Printf("search: reindexed %d entities", total)
}

// Close stops the index worker and the health monitor. Queued jobs that
// have not started are dropped.
func (s *Service) Close() {
	if s == nil || s.meili == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.meili.Close()
	})
}

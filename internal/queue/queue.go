package queue

import (
	"sort"
	"sync"

	"quran-pages/internal/storage"
)

// BatchQueue manages the ordered queue of download batches
type BatchQueue struct {
	items []*storage.DownloadBatch
	mutex sync.Mutex
	cond  *sync.Cond
}

func NewBatchQueue() *BatchQueue {
	bq := &BatchQueue{
		items: make([]*storage.DownloadBatch, 0),
	}
	bq.cond = sync.NewCond(&bq.mutex)
	return bq
}

// Push adds a batch to the queue, sorted by QueueOrder
func (bq *BatchQueue) Push(batch *storage.DownloadBatch) {
	bq.mutex.Lock()
	defer bq.mutex.Unlock()

	bq.items = append(bq.items, batch)
	sort.Slice(bq.items, func(i, j int) bool {
		return bq.items[i].QueueOrder < bq.items[j].QueueOrder
	})
	bq.cond.Signal()
}

// Remove removes a specific batch by ID (for scheduler picking)
func (bq *BatchQueue) Remove(id string) bool {
	bq.mutex.Lock()
	defer bq.mutex.Unlock()

	for i, item := range bq.items {
		if item.ID == id {
			bq.items = append(bq.items[:i], bq.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of items in the queue
func (bq *BatchQueue) Len() int {
	bq.mutex.Lock()
	defer bq.mutex.Unlock()
	return len(bq.items)
}

// GetAll returns a copy of all queued items
func (bq *BatchQueue) GetAll() []*storage.DownloadBatch {
	bq.mutex.Lock()
	defer bq.mutex.Unlock()

	result := make([]*storage.DownloadBatch, len(bq.items))
	copy(result, bq.items)
	return result
}

// GetNextOrder returns the next available QueueOrder value
func (bq *BatchQueue) GetNextOrder() int {
	bq.mutex.Lock()
	defer bq.mutex.Unlock()

	if len(bq.items) == 0 {
		return 1
	}
	maxOrder := 0
	for _, item := range bq.items {
		if item.QueueOrder > maxOrder {
			maxOrder = item.QueueOrder
		}
	}
	return maxOrder + 1
}

// Wait blocks until a signal is received
func (bq *BatchQueue) Wait() {
	bq.mutex.Lock()
	defer bq.mutex.Unlock()
	bq.cond.Wait()
}

// Signal wakes one waiter
func (bq *BatchQueue) Signal() {
	bq.cond.Signal()
}

// Broadcast wakes all waiters
func (bq *BatchQueue) Broadcast() {
	bq.cond.Broadcast()
}

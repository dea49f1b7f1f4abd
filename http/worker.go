package http

import (
	"bufio"
	"errors"
	"io"
	"math/bits"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
)

type job struct {
	conn net.Conn
	port ListeningPort
}

// WorkerPool runs a fixed number of goroutines serving accepted
// connections. Gates hand connections over with Submit.
type WorkerPool struct {
	queue   chan job
	done    chan struct{}
	serve   func(job)
	size    int
	wg      sync.WaitGroup
	stopped sync.Once

	// readers recycles connection read buffers between connections.
	readers RingBuffer[*bufio.Reader]
}

func NewWorkerPool(size int, serve func(job)) *WorkerPool {
	return &WorkerPool{
		queue:   make(chan job, size),
		done:    make(chan struct{}),
		serve:   serve,
		size:    size,
		readers: NewRingBuffer[*bufio.Reader](size),
	}
}

func (wp *WorkerPool) Start() {
	for range wp.size {
		wp.wg.Add(1)
		go wp.work()
	}
}

func (wp *WorkerPool) work() {
	defer wp.wg.Done()

	for {
		select {
		case j := <-wp.queue:
			wp.serve(j)
		case <-wp.done:
			return
		}
	}
}

// Submit blocks until a worker can take the connection. It reports false
// once the pool is stopping.
func (wp *WorkerPool) Submit(j job) bool {
	select {
	case <-wp.done:
		return false
	default:
	}

	select {
	case wp.queue <- j:
		return true
	case <-wp.done:
		return false
	}
}

// Stop tells the workers to exit after their current connection and waits
// for them. Connections still queued are closed unserved.
func (wp *WorkerPool) Stop() {
	wp.stopped.Do(func() {
		close(wp.done)
	})
	wp.wg.Wait()

	for {
		select {
		case j := <-wp.queue:
			j.conn.Close()
		default:
			return
		}
	}
}

func (wp *WorkerPool) acquireReader(r io.Reader) *bufio.Reader {
	br, err := wp.readers.Dequeue()
	if err != nil {
		return bufio.NewReaderSize(r, DefaultReadBufferSize)
	}
	br.Reset(r)
	return br
}

func (wp *WorkerPool) releaseReader(br *bufio.Reader) {
	br.Reset(nil)
	wp.readers.Enqueue(br)
}

var (
	errRingFull  = errors.New("ring buffer is full")
	errRingEmpty = errors.New("ring buffer is empty")
)

// RingBuffer is a bounded lock-free MPMC queue.
type RingBuffer[T any] struct {
	buffer []slot[T]
	mask   uint64
	enqPos uint64
	deqPos uint64
}

type slot[T any] struct {
	sequence uint64
	value    T
}

// NewRingBuffer creates a ring buffer holding at least size items, rounded
// up to a power of two.
func NewRingBuffer[T any](size int) RingBuffer[T] {
	if size < 2 {
		size = 2
	}
	capacity := uint64(1) << bits.Len64(uint64(size-1))

	buf := make([]slot[T], capacity)
	for i := range buf {
		buf[i].sequence = uint64(i)
	}
	return RingBuffer[T]{
		buffer: buf,
		mask:   capacity - 1,
	}
}

// Enqueue adds an item to the ring buffer
func (q *RingBuffer[T]) Enqueue(val T) error {
	for {
		pos := atomic.LoadUint64(&q.enqPos)
		slot := &q.buffer[pos&q.mask]

		seq := atomic.LoadUint64(&slot.sequence)
		delta := int64(seq) - int64(pos)

		if delta == 0 {
			if atomic.CompareAndSwapUint64(&q.enqPos, pos, pos+1) {
				slot.value = val
				atomic.StoreUint64(&slot.sequence, pos+1)
				return nil
			}
		} else if delta < 0 {
			return errRingFull
		} else {
			runtime.Gosched()
		}
	}
}

// Dequeue removes and returns the oldest item
func (q *RingBuffer[T]) Dequeue() (T, error) {
	var zero T
	for {
		pos := atomic.LoadUint64(&q.deqPos)
		slot := &q.buffer[pos&q.mask]

		seq := atomic.LoadUint64(&slot.sequence)
		delta := int64(seq) - int64(pos+1)

		if delta == 0 {
			if atomic.CompareAndSwapUint64(&q.deqPos, pos, pos+1) {
				val := slot.value
				slot.value = zero
				atomic.StoreUint64(&slot.sequence, pos+q.mask+1)
				return val, nil
			}
		} else if delta < 0 {
			return zero, errRingEmpty
		} else {
			runtime.Gosched()
		}
	}
}

package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// feedFrames is the chunk size delivered per callback by the file and
// synthetic sources.
const feedFrames = 1024

// feedCapture delivers generated chunks to the callback, either paced at
// the sample rate or as fast as possible.
type feedCapture struct {
	name       string
	sampleRate uint32
	realtime   bool
	next       func(buf []float32) // fills buf with the next chunk

	callback atomic.Pointer[SampleCallback]

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

func (f *feedCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCh != nil {
		return nil
	}
	f.stopCh = make(chan struct{})
	f.done = make(chan struct{})

	interval := time.Duration(feedFrames) * time.Second / time.Duration(f.sampleRate)
	stop, done := f.stopCh, f.done

	go func() {
		defer close(done)
		buf := make([]float32, feedFrames)
		for {
			if f.realtime {
				select {
				case <-stop:
					return
				case <-time.After(interval):
				}
			} else {
				select {
				case <-stop:
					return
				default:
				}
			}
			f.next(buf)
			if cb := f.callback.Load(); cb != nil {
				(*cb)(buf)
			}
		}
	}()
	return nil
}

func (f *feedCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCh == nil {
		return
	}
	close(f.stopCh)
	<-f.done
	f.stopCh = nil
}

func (f *feedCapture) Close() {
	f.Stop()
}

func (f *feedCapture) SetCallback(cb SampleCallback) {
	f.callback.Store(&cb)
}

func (f *feedCapture) ClearCallback() {
	f.callback.Store(nil)
}

func (f *feedCapture) DeviceName() string {
	return f.name
}

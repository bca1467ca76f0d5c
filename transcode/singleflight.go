package transcode

import (
	"sync"
)

// singleflight makes concurrent requests for the same variant share one
// generation.
type singleflight struct {
	mu       sync.Mutex               // controls everything below
	inflight map[string]*fetchrequest // requests in progress
}

type fetchrequest struct {
	wg     sync.WaitGroup
	result []byte
	err    error
}

// Do calls fn and returns its result. If a call for key is already in
// progress, Do waits for it and returns its result instead.
func (s *singleflight) Do(key string, fn func() ([]byte, error)) ([]byte, error) {
	// the first goroutine asking for a given key will do the work. Others will wait until
	// the data is ready.
	s.mu.Lock()
	if r, ok := s.inflight[key]; ok {
		// variant is already being generated
		s.mu.Unlock()
		r.wg.Wait()
		return r.result, r.err
	}
	r := &fetchrequest{}
	r.wg.Add(1)
	if s.inflight == nil {
		s.inflight = make(map[string]*fetchrequest)
	}
	s.inflight[key] = r
	s.mu.Unlock()
	defer func() {
		r.wg.Done()
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}()

	r.result, r.err = fn()
	return r.result, r.err
}

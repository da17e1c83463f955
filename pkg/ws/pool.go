package ws

import (
	"context"
	"sync"
	"sync/atomic"
)

// pool 会话注册表。
// 原子计数先行抢占名额、超限回滚，避免高并发升级时锁竞争；
// shutdown 对所有存活会话广播 1001 并等待收尾。
type pool struct {
	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool

	count   atomic.Int64
	max     int64
	wg      sync.WaitGroup
	metrics Metrics
}

func newPool(max int, metrics Metrics) *pool {
	return &pool{
		sessions: make(map[*session]struct{}),
		max:      int64(max),
		metrics:  metrics,
	}
}

// add 注册会话。超过上限返回 ErrTooManyConnections，停机后 ErrHubClosed。
func (p *pool) add(s *session) error {
	if p.count.Add(1) > p.max {
		p.count.Add(-1)
		return ErrTooManyConnections
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.count.Add(-1)
		return ErrHubClosed
	}
	p.sessions[s] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	p.metrics.IncrementConnections()
	return nil
}

// remove 摘除会话，重复调用无副作用。
// Join 失败的回滚与会话收尾都走这里。
func (p *pool) remove(s *session) {
	p.mu.Lock()
	_, ok := p.sessions[s]
	if ok {
		delete(p.sessions, s)
	}
	p.mu.Unlock()

	if ok {
		p.count.Add(-1)
		p.metrics.DecrementConnections()
		p.wg.Done()
	}
}

// size 当前会话数
func (p *pool) size() int {
	return int(p.count.Load())
}

// shutdown 拒绝新会话、广播 1001 并等待全部会话收尾。
// ctx 到期后对残留会话硬断连并立即返回，不再等待用户处理器。
func (p *pool) shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*session, 0, len(p.sessions))
	for s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	for _, s := range sessions {
		s.ch.sendClose(StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		rest := make([]*session, 0, len(p.sessions))
		for s := range p.sessions {
			rest = append(rest, s)
		}
		p.mu.Unlock()
		for _, s := range rest {
			s.ch.stop()
			if s.ch.conn != nil {
				_ = s.ch.conn.Close()
			}
		}
		return ctx.Err()
	}
}

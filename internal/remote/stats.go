package remote

import (
	"sync/atomic"
	"time"

	"github.com/imroc/req/v3"
)

// httpStats tracks traffic against the record API.
type httpStats struct {
	requests   atomic.Int64
	failures   atomic.Int64
	bytesRecv  atomic.Int64
	lastRecvNs atomic.Int64

	lastErrorValue atomic.Value // string
}

func newHTTPStats() *httpStats {
	s := &httpStats{}
	s.lastErrorValue.Store("")
	return s
}

// observe is installed as a req response middleware
func (s *httpStats) observe(_ *req.Client, resp *req.Response) error {
	s.requests.Add(1)
	if resp.Err != nil {
		s.failures.Add(1)
		s.lastErrorValue.Store(resp.Err.Error())
		return nil
	}
	if resp.Response == nil {
		return nil
	}
	if !resp.IsSuccessState() {
		s.failures.Add(1)
		s.lastErrorValue.Store(resp.Status)
	}
	if n := len(resp.Bytes()); n > 0 {
		s.bytesRecv.Add(int64(n))
		s.lastRecvNs.Store(time.Now().UnixNano())
	}
	return nil
}

// StatsSnapshot is a stable, JSON-friendly view of remote traffic.
type StatsSnapshot struct {
	Requests       int64  `json:"requests"`
	Failures       int64  `json:"failures"`
	BytesRecvTotal int64  `json:"bytes_recv_total"`
	LastRecvAtNs   int64  `json:"last_recv_at_ns,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

func (s *httpStats) snapshot() StatsSnapshot {
	lastErr, _ := s.lastErrorValue.Load().(string)
	return StatsSnapshot{
		Requests:       s.requests.Load(),
		Failures:       s.failures.Load(),
		BytesRecvTotal: s.bytesRecv.Load(),
		LastRecvAtNs:   s.lastRecvNs.Load(),
		LastError:      lastErr,
	}
}

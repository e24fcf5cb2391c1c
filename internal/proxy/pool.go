package proxy

import (
	"fmt"
	"io"
	"time"
)

// Pool holds every proxy of a run after validation. It is read-only and safe
// for concurrent use.
type Pool struct {
	all     []*Proxy
	working []*Proxy
}

// Stats summarises a validated pool
type Stats struct {
	Total      int
	Working    int
	NotWorking int
}

// FailureRate is the share of candidates that failed, in percent
func (s Stats) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.NotWorking) / float64(s.Total) * 100
}

// AvailableRate is the share of candidates that work, in percent
func (s Stats) AvailableRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Working) / float64(s.Total) * 100
}

func newPool(all []*Proxy) *Pool {
	p := &Pool{all: append([]*Proxy(nil), all...)}
	for _, px := range p.all {
		if px.State() == Working {
			p.working = append(p.working, px)
		}
	}
	return p
}

// Working returns the working proxies in candidate-list order
func (p *Pool) Working() []*Proxy {
	return append([]*Proxy(nil), p.working...)
}

// NotWorking returns the proxies that failed their probe
func (p *Pool) NotWorking() []*Proxy {
	var out []*Proxy
	for _, px := range p.all {
		if px.State() == NotWorking {
			out = append(out, px)
		}
	}
	return out
}

// Stats returns the pool counters
func (p *Pool) Stats() Stats {
	s := Stats{Total: len(p.all), Working: len(p.working)}
	for _, px := range p.all {
		if px.State() == NotWorking {
			s.NotWorking++
		}
	}
	return s
}

// Print writes the pool health: counters, probe latency of working proxies
// and the reason each failing proxy was rejected
func (p *Pool) Print(w io.Writer) {
	stats := p.Stats()
	fmt.Fprintf(w, "Proxies: %d total, %d working (%.1f%%), %d not working (%.1f%% failure rate)\n",
		stats.Total, stats.Working, stats.AvailableRate(), stats.NotWorking, stats.FailureRate())
	for _, px := range p.working {
		fmt.Fprintf(w, "  ✓ %s: status %d in %s\n", px, px.Status(), px.Latency().Round(time.Millisecond))
	}
	for _, px := range p.NotWorking() {
		if err := px.Err(); err != nil {
			fmt.Fprintf(w, "  ✗ %s: %v\n", px, err)
			continue
		}
		fmt.Fprintf(w, "  ✗ %s: status %d\n", px, px.Status())
	}
}

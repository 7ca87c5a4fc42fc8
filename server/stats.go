package server

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pbs-tv/tvserver/metrics"
)

// Stats is the body of GET /stats.
type Stats struct {
	Uptime       string          `json:"uptime"`
	Cache        CacheStats      `json:"cache"`
	LocalEntries int             `json:"local_entries"`
	LocalBytes   int64           `json:"local_bytes"`
	Latency      []metrics.Stats `json:"latency"`
}

// Stats returns a snapshot of cache counters, local cache usage and latencies.
func (s *Server) Stats() Stats {
	entries, size, err := s.local.Usage()
	if err != nil {
		s.logger.Warn("failed to compute cache usage", "error", err)
	}
	latency := s.latency.GetAllStats()
	if latency == nil {
		latency = []metrics.Stats{}
	}
	return Stats{
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		Cache:        s.cache.Stats(),
		LocalEntries: entries,
		LocalBytes:   size,
		Latency:      latency,
	}
}

func (s *Server) printStats() {
	writeStats(os.Stderr, s.Stats())
}

func writeStats(w io.Writer, st Stats) {
	c := st.Cache
	lookups := c.Hits + c.BackendHits + c.Misses
	hitRate := 0.0
	if lookups > 0 {
		hitRate = float64(c.Hits+c.BackendHits) / float64(lookups) * 100
	}
	fmt.Fprintf(w, "Cache statistics (uptime %s):\n", st.Uptime)
	fmt.Fprintf(w, "  Lookups: %d (local hits: %d, backend hits: %d, misses: %d, hit rate: %.1f%%)\n",
		lookups, c.Hits, c.BackendHits, c.Misses, hitRate)
	fmt.Fprintf(w, "  Stale served: %d, fetch errors: %d, backend errors: %d\n",
		c.StaleServed, c.FetchErrors, c.BackendErrors)
	fmt.Fprintf(w, "  Local cache: %d entries, %s\n", st.LocalEntries, humanize.Bytes(uint64(st.LocalBytes)))
	if len(st.Latency) > 0 {
		fmt.Fprintf(w, "Latency:\n")
		for _, l := range st.Latency {
			fmt.Fprintln(w, l)
		}
	}
}

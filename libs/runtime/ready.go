package runtime

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

const readyCheckTimeout = 2 * time.Second

func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		failures := runChecks(r.Context(), checks)
		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failures, "; ")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// runChecks probes every dependency concurrently so one slow dependency does
// not stack timeouts.
func runChecks(parent context.Context, checks []ReadyCheck) []string {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures []string
	)
	for _, check := range checks {
		if check.Check == nil {
			continue
		}
		wg.Add(1)
		go func(check ReadyCheck) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(parent, readyCheckTimeout)
			defer cancel()
			if err := check.Check(ctx); err != nil {
				name := check.Name
				if name == "" {
					name = "dependency"
				}
				mu.Lock()
				failures = append(failures, name+": "+err.Error())
				mu.Unlock()
			}
		}(check)
	}
	wg.Wait()
	sort.Strings(failures)
	return failures
}

package core

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"derivcore/pkg/domain"
)

// MonteCarloStat aggregates one derived parameter across samples. Samples
// counts only runs where the parameter resolved.
type MonteCarloStat struct {
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Samples int     `json:"samples"`
}

// MonteCarloResult is the aggregate over a full Monte Carlo execution.
type MonteCarloResult struct {
	Samples int                       `json:"samples"`
	Stats   map[string]MonteCarloStat `json:"stats"`
}

// welford carries the online mean/variance accumulator for one parameter.
type welford struct {
	n    int
	mean float64
	m2   float64
}

func (w *welford) add(x float64) {
	w.n++
	delta := x - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (x - w.mean)
}

func (w *welford) stddev() float64 {
	if w.n < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.n-1))
}

// RunMonteCarlo executes n full pipeline passes, each against an isolated
// clone of the store with every input parameter perturbed by its declared
// uncertainty (normal, one sigma). Samples are independent and run across
// the executor's worker budget; no sample observes another's intermediate
// state. Inputs without a declared uncertainty are left unperturbed.
func (e *Executor) RunMonteCarlo(ctx context.Context, store *ValueStore, n int, seed uint64) (MonteCarloResult, error) {
	if n <= 0 {
		return MonteCarloResult{}, fmt.Errorf("sample count must be positive, got %d", n)
	}
	// Validate the graph once before burning samples.
	if _, err := e.plan(store); err != nil {
		return MonteCarloResult{}, err
	}

	derived := make([]string, 0)
	inputs := make([]domain.Parameter, 0)
	for _, p := range store.List() {
		if p.Status == domain.StatusInput {
			inputs = append(inputs, p)
		} else {
			derived = append(derived, p.ID)
		}
	}

	var mu sync.Mutex
	acc := make(map[string]*welford, len(derived))
	for _, id := range derived {
		acc[id] = &welford{}
	}

	sample := NewExecutor(e.registry, ExecutorConfig{Workers: 1, Logger: e.logger, Metrics: NopMetrics{}})

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)
	errCh := make(chan error, 1)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return MonteCarloResult{}, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			rng := rand.New(rand.NewPCG(seed, uint64(i)))
			clone := store.Clone()
			for _, in := range inputs {
				if in.Uncertainty == nil || *in.Uncertainty <= 0 {
					continue
				}
				perturbed := in.Value + rng.NormFloat64()*(*in.Uncertainty)
				if err := clone.setInput(in.ID, perturbed); err != nil {
					select {
					case errCh <- err:
					default:
					}
					return
				}
			}

			report, err := sample.ExecutePipeline(ctx, clone)
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}

			mu.Lock()
			for _, id := range derived {
				if report.States[id] != domain.StateResolved {
					continue
				}
				p, _ := clone.Get(id)
				acc[id].add(p.Value)
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return MonteCarloResult{}, err
	default:
	}

	result := MonteCarloResult{Samples: n, Stats: make(map[string]MonteCarloStat, len(acc))}
	ids := make([]string, 0, len(acc))
	for id := range acc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		w := acc[id]
		result.Stats[id] = MonteCarloStat{Mean: w.mean, StdDev: w.stddev(), Samples: w.n}
	}
	return result, nil
}

package scheduling

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// TaskAssignmentResult is one task bound to the lease it won.
type TaskAssignmentResult struct {
	Request TaskRequest
}

// VMAssignmentResult binds a subset of the tasks passed into ScheduleOnce
// to one lease — the Go analogue of Fenzo's VMAssignmentResult, minus the
// "leases used" list: this module launches against one offer at a time
// rather than Fenzo's multi-offer-per-VM aggregation, since the rest of
// spec.md never needs more than one lease per launch batch.
type VMAssignmentResult struct {
	Lease         Lease
	TasksAssigned []TaskAssignmentResult
}

// Assigner is the pluggable constraint-aware assignment algorithm (C11).
// Implementations own the lease pool across resourceOffers cycles: an
// offer that could not be consumed this cycle is retried on the next one,
// until it is explicitly expired.
type Assigner interface {
	// ScheduleOnce pools newLeases, then attempts to place every request
	// against the full pool (new and previously unconsumed leases alike).
	ScheduleOnce(requests []TaskRequest, newLeases []Lease) []VMAssignmentResult

	// ExpireAllLeases discards every pooled lease, used on (re)registered.
	ExpireAllLeases()
	// ExpireLease discards one pooled lease, used on offerRescinded.
	ExpireLease(offerID string)
	// ExpireAllLeasesBySlaveID discards every lease bound to a VM, used on
	// slaveLost.
	ExpireAllLeasesBySlaveID(slaveID string)

	// ConfirmAssignment records that req has been placed on hostname, so
	// later ScheduleOnce calls within the same lease's lifetime see it as
	// already accounted for. The bin-packing implementation here needs no
	// extra bookkeeping beyond what ScheduleOnce already mutates, but the
	// hook is part of the interface since other algorithms (e.g. a true
	// Fenzo binding) use it to seed their own internal state.
	ConfirmAssignment(req TaskRequest, hostname string)
}

// leaseTTL bounds how long an unconsumed offer stays in the pool before it
// is dropped on its own, mirroring the resource manager's own offer
// timeout so a lease this algorithm never got to use doesn't accumulate
// forever.
const leaseTTL = 5 * time.Minute

// BinPackAssigner is the default Assigner: a greedy bin-packing placement
// grounded on beinian555-titan's filterNodes/scoreNodes split (hard
// resource predicate, then a utilization-maximizing score), generalized
// from "pick one best node per job" to "place every pending task, tracking
// remaining capacity as we go" and from a single-node snapshot to a
// lease pool that persists unconsumed offers across cycles via
// patrickmn/go-cache TTL eviction.
type BinPackAssigner struct {
	mu        sync.Mutex
	leases    *cache.Cache // offerID -> *Lease
	lastOffer time.Time
}

func NewBinPackAssigner() *BinPackAssigner {
	return &BinPackAssigner{leases: cache.New(leaseTTL, time.Minute)}
}

// LastOfferAt returns the time of the most recent ScheduleOnce call, or the
// zero Time if none has happened yet. Used by the process entrypoint's
// offer-feed health check to detect a resource manager that has stopped
// sending offers.
func (a *BinPackAssigner) LastOfferAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastOffer
}

func (a *BinPackAssigner) ExpireAllLeases() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leases.Flush()
}

func (a *BinPackAssigner) ExpireLease(offerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leases.Delete(offerID)
}

func (a *BinPackAssigner) ExpireAllLeasesBySlaveID(slaveID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for offerID, item := range a.leases.Items() {
		if item.Object.(*Lease).SlaveID == slaveID {
			a.leases.Delete(offerID)
		}
	}
}

// ConfirmAssignment is a no-op here: ScheduleOnce already removes a
// consumed lease from the pool in the same call that assigned it.
func (a *BinPackAssigner) ConfirmAssignment(req TaskRequest, hostname string) {}

func (a *BinPackAssigner) ScheduleOnce(requests []TaskRequest, newLeases []Lease) []VMAssignmentResult {
	a.mu.Lock()
	a.lastOffer = time.Now()
	for _, lease := range newLeases {
		l := lease
		a.leases.Set(l.OfferID, &l, cache.DefaultExpiration)
	}

	pool := make(map[string]*remainingLease, a.leases.ItemCount())
	for offerID, item := range a.leases.Items() {
		lease := *item.Object.(*Lease)
		pool[offerID] = &remainingLease{lease: lease, freeCPUs: lease.CPUs, freeMemoryMB: lease.MemoryMB}
	}
	a.mu.Unlock()

	results := make(map[string]*VMAssignmentResult)
	for _, req := range requests {
		offerID, ok := bestFit(pool, req)
		if !ok {
			continue
		}
		rl := pool[offerID]
		rl.freeCPUs -= req.CPUs()
		rl.freeMemoryMB -= req.MemoryMB()

		result, ok := results[offerID]
		if !ok {
			result = &VMAssignmentResult{Lease: rl.lease}
			results[offerID] = result
		}
		result.TasksAssigned = append(result.TasksAssigned, TaskAssignmentResult{Request: req})
	}

	a.mu.Lock()
	for offerID := range results {
		a.leases.Delete(offerID)
	}
	a.mu.Unlock()

	out := make([]VMAssignmentResult, 0, len(results))
	for _, r := range results {
		out = append(out, *r)
	}
	return out
}

type remainingLease struct {
	lease        Lease
	freeCPUs     float64
	freeMemoryMB float64
}

// bestFit is the filter+score pass: among leases with enough free capacity
// for req (the predicate, grounded on titan's checkNode), pick the one
// that ends up most utilized afterward (the score, grounded on titan's
// calculateScore), so work stacks onto already-busy VMs rather than
// spreading thin across idle ones.
func bestFit(pool map[string]*remainingLease, req TaskRequest) (string, bool) {
	bestOfferID := ""
	bestScore := -1.0
	for offerID, rl := range pool {
		if rl.freeCPUs < req.CPUs() || rl.freeMemoryMB < req.MemoryMB() {
			continue
		}
		score := utilizationScore(rl.lease, rl.freeCPUs-req.CPUs(), rl.freeMemoryMB-req.MemoryMB())
		if score > bestScore {
			bestScore = score
			bestOfferID = offerID
		}
	}
	return bestOfferID, bestOfferID != ""
}

func utilizationScore(lease Lease, freeCPUsAfter, freeMemoryMBAfter float64) float64 {
	cpuScore := 0.0
	if lease.CPUs > 0 {
		cpuScore = (lease.CPUs - freeCPUsAfter) / lease.CPUs
	}
	memScore := 0.0
	if lease.MemoryMB > 0 {
		memScore = (lease.MemoryMB - freeMemoryMBAfter) / lease.MemoryMB
	}
	return cpuScore + memScore
}

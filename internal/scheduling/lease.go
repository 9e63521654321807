package scheduling

// Lease is one resource offer from the resource manager, stripped down to
// the scalar resources and placement identity the assignment algorithm
// needs — the Go analogue of Fenzo's VirtualMachineLease/VMLeaseObject
// wrapping a Mesos Offer.
type Lease struct {
	OfferID  string
	SlaveID  string
	Hostname string
	CPUs     float64
	MemoryMB float64
}

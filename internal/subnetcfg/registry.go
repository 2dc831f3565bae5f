package subnetcfg

import "fmt"

// Registry is a configured collection of [Subnet]s, grounded on the
// original implementation's SubnetMgr. It is built at configuration
// time, read-only at steady state, and shared by reference across all
// worker goroutines; reconfiguration swaps the whole Registry rather
// than mutating one in place.
type Registry struct {
	subnets []*Subnet
	byID    map[SubnetID]*Subnet
}

// NewRegistry returns an empty Registry.
func NewRegistry() (r *Registry) {
	return &Registry{byID: map[SubnetID]*Subnet{}}
}

// Add inserts subnet into r after validating it.  It fails with
// [ErrDuplicateSubnetID] if a subnet with the same ID is already
// present, matching SubnetMgr::add's duplicate check.
func (r *Registry) Add(subnet *Subnet) (err error) {
	if err = subnet.Validate(); err != nil {
		return err
	}

	if _, ok := r.byID[subnet.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateSubnetID, subnet.ID)
	}

	r.subnets = append(r.subnets, subnet)
	r.byID[subnet.ID] = subnet

	return nil
}

// Get returns the subnet with the given ID.
func (r *Registry) Get(id SubnetID) (subnet *Subnet, ok bool) {
	subnet, ok = r.byID[id]
	return subnet, ok
}

// All returns every subnet in r, in insertion order.
func (r *Registry) All() (subnets []*Subnet) {
	return append([]*Subnet{}, r.subnets...)
}

// Len returns the number of subnets in r.
func (r *Registry) Len() (n int) { return len(r.subnets) }

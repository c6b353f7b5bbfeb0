package domain

import (
	"fmt"
	"strings"
)

// Role names one of the simulated devices.
type Role string

const (
	// RoleIPP subscribes to peers, mirrors their changes and validates them.
	RoleIPP Role = "IPP"
	// RoleRDSO publishes and toggles its own status periodically.
	RoleRDSO Role = "RDSO"
	// RoleX publishes a single forged frame and exits.
	RoleX Role = "X"
)

const (
	refSuffix     = "/LLN0$GO$gcbAnalogValues"
	datasetSuffix = "/LLN0$AnalogValues"
)

// Capabilities is the set of behaviours a device runs with.
type Capabilities struct {
	Publish   bool
	Subscribe bool
	Validate  bool
	// Toggle flips the local status every few ticks.
	Toggle bool
	// OneShot publishes once and stops.
	OneShot bool
}

// ParseRole is case-insensitive.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleIPP:
		return RoleIPP, nil
	case RoleRDSO:
		return RoleRDSO, nil
	case RoleX:
		return RoleX, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Capabilities returns the behaviours enabled for the role.
func (r Role) Capabilities() Capabilities {
	switch r {
	case RoleIPP:
		return Capabilities{Publish: true, Subscribe: true, Validate: true}
	case RoleRDSO:
		return Capabilities{Publish: true, Subscribe: true, Toggle: true}
	case RoleX:
		return Capabilities{Publish: true, OneShot: true}
	}
	return Capabilities{}
}

// DefaultStatus is the breaker position the role boots with.
func (r Role) DefaultStatus() Status {
	if r == RoleIPP {
		return StatusOpen
	}
	return StatusClosed
}

// DefaultSubscriptions lists the control block references the role listens to.
func (r Role) DefaultSubscriptions() []string {
	switch r {
	case RoleIPP:
		return []string{RoleRDSO.GoCBRef(), RoleX.GoCBRef()}
	case RoleRDSO:
		return []string{RoleIPP.GoCBRef(), RoleX.GoCBRef()}
	}
	return nil
}

// GoID is the identifier stamped on published frames.
func (r Role) GoID() string { return string(r) }

// GoCBRef is the control block reference, e.g. "IPP/LLN0$GO$gcbAnalogValues".
func (r Role) GoCBRef() string { return string(r) + refSuffix }

// DataSetRef is the data set reference, e.g. "IPP/LLN0$AnalogValues".
func (r Role) DataSetRef() string { return string(r) + datasetSuffix }

// SubjectID returns the device name portion of a control block reference.
// "X/LLN0$GO$gcbAnalogValues" yields "X"; a bare name is returned unchanged.
func SubjectID(ref string) string {
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		return ref[:i]
	}
	return ref
}

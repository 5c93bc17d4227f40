package engine

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sunrisedotdev/sonar-sub000/core"
)

// StaticAccessController is a capability table loaded from daemon
// configuration. Role management beyond a static grant list lives
// outside this system.
type StaticAccessController struct {
	grants map[common.Address]map[core.Capability]struct{}
}

// NewStaticAccessController builds the table from address to
// capability-name lists. Unknown capability names are rejected so a
// typo in the config cannot silently grant nothing.
func NewStaticAccessController(grants map[string][]string) (*StaticAccessController, error) {
	known := map[string]core.Capability{
		string(core.CapabilitySignPermits):  core.CapabilitySignPermits,
		string(core.CapabilityManageStages): core.CapabilityManageStages,
		string(core.CapabilityForceStage):   core.CapabilityForceStage,
		string(core.CapabilitySettle):       core.CapabilitySettle,
		string(core.CapabilityRefund):       core.CapabilityRefund,
		string(core.CapabilityWithdraw):     core.CapabilityWithdraw,
		string(core.CapabilityConfigure):    core.CapabilityConfigure,
	}

	ac := &StaticAccessController{grants: make(map[common.Address]map[core.Capability]struct{})}
	for addr, caps := range grants {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid grant address %q", addr)
		}
		set := make(map[core.Capability]struct{}, len(caps))
		for _, name := range caps {
			capability, ok := known[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return nil, fmt.Errorf("unknown capability %q for %s", name, addr)
			}
			set[capability] = struct{}{}
		}
		ac.grants[common.HexToAddress(addr)] = set
	}
	return ac, nil
}

// Require implements core.AccessController.
func (ac *StaticAccessController) Require(caller common.Address, capability core.Capability) error {
	if set, ok := ac.grants[caller]; ok {
		if _, ok := set[capability]; ok {
			return nil
		}
	}
	return fmt.Errorf("caller %s lacks capability %q", caller.Hex(), capability)
}

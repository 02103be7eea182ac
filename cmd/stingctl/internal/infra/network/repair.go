// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/infra/process"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrNetworkNotFound is returned when the compose network doesn't exist yet.
	ErrNetworkNotFound = errors.New("network not found")

	// ErrBridgeNotFound is returned when the kernel bridge interface is missing.
	ErrBridgeNotFound = errors.New("bridge interface not found")
)

// =============================================================================
// Types
// =============================================================================

// Fault classifies a detected bridge network fault.
type Fault string

const (
	// FaultNone means the bridge passed all checks.
	FaultNone Fault = "none"

	// FaultMissingGatewayIP means the bridge interface lost its gateway
	// address. Containers on the network cannot reach the host or each
	// other until it is restored.
	FaultMissingGatewayIP Fault = "missing-gateway-ip"

	// FaultDetachedVeths means one or more veth interfaces are not
	// enslaved to the bridge. Affected containers have no connectivity.
	FaultDetachedVeths Fault = "veths-unattached"
)

// RepairRecord describes one inspect-and-repair pass over the bridge.
//
// # Description
//
// Every field is informational. Repairs are strictly best-effort: a
// failed repair is recorded in Warnings and never interrupts stack
// startup. Callers log the record and move on.
type RepairRecord struct {
	// NetworkName is the docker network that was inspected.
	NetworkName string

	// Bridge is the kernel bridge interface backing the network
	// (e.g. "br-2f1a9c04e1d3").
	Bridge string

	// Gateway is the IPAM gateway address, when known.
	Gateway string

	// Faults lists the faults detected before repair.
	Faults []Fault

	// Applied lists the repair commands that were executed.
	Applied []string

	// Healthy reports whether the bridge passed verification after
	// any repairs were applied.
	Healthy bool

	// Warnings collects non-fatal problems from detection and repair.
	Warnings []string
}

// HasFault reports whether the record contains the given fault.
func (r *RepairRecord) HasFault(f Fault) bool {
	for _, fault := range r.Faults {
		if fault == f {
			return true
		}
	}
	return false
}

// =============================================================================
// Interface Definition
// =============================================================================

// BridgeRepairer detects and repairs docker bridge network faults.
//
// # Description
//
// Long-lived docker hosts occasionally lose the gateway address on a
// compose network's bridge interface, or end up with container veth
// pairs detached from the bridge (typically after an unclean daemon
// restart). Either fault leaves containers running but unreachable.
//
// Implementations inspect the kernel state for the compose network and
// apply minimal repairs. The pass is advisory: faults that cannot be
// fixed are reported, never escalated, so a damaged network does not
// block a startup that might still succeed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use, though the stack
// sequencer only calls Repair from a single goroutine.
type BridgeRepairer interface {
	// Repair runs one inspect-and-repair pass.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation
	//
	// # Outputs
	//
	//   - *RepairRecord: What was found, what was applied, final health
	//   - error: Only for context cancellation or a missing network;
	//     repair failures are reported in the record's Warnings
	Repair(ctx context.Context) (*RepairRecord, error)
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultBridgeRepairer implements BridgeRepairer using docker and iproute2.
type DefaultBridgeRepairer struct {
	proc        process.Manager
	networkName string
}

// NewDefaultBridgeRepairer creates a repairer for the given docker network.
//
// # Inputs
//
//   - networkName: The compose network name (e.g. "sting_default")
//   - proc: Manager for command execution
func NewDefaultBridgeRepairer(networkName string, proc process.Manager) *DefaultBridgeRepairer {
	return &DefaultBridgeRepairer{
		proc:        proc,
		networkName: networkName,
	}
}

// networkInspect is the subset of `docker network inspect` output we use.
type networkInspect struct {
	ID      string `json:"Id"`
	Options map[string]string
	IPAM    struct {
		Config []struct {
			Subnet  string
			Gateway string
		}
	}
	Containers map[string]struct {
		Name string
	}
}

// addrInfo is the subset of `ip -j addr show` output we use.
type addrInfo struct {
	IfName   string `json:"ifname"`
	AddrInfo []struct {
		Local     string `json:"local"`
		PrefixLen int    `json:"prefixlen"`
	} `json:"addr_info"`
}

// linkInfo is the subset of `ip -j link show` output we use.
type linkInfo struct {
	IfName string `json:"ifname"`
	Master string `json:"master"`
}

// Repair runs one inspect-and-repair pass over the compose network bridge.
//
// # Description
//
// Executes three phases:
//
//  1. Resolve: docker network inspect gives the bridge name (from the
//     bridge.name option or the br-<id> convention) and the IPAM gateway.
//  2. Detect and repair gateway: if the bridge interface carries no
//     address matching the gateway, re-add it with `ip addr add`.
//  3. Detect and repair veths: veth interfaces with no master while the
//     network has attached containers are re-enslaved with
//     `ip link set ... master ...`.
//
// A final gateway re-check sets Healthy.
//
// # Limitations
//
//   - Requires CAP_NET_ADMIN for the repair commands; without it the
//     repairs fail and are recorded as warnings
//   - Veth matching is heuristic: an ownerless veth on a host running
//     multiple compose projects may belong to another bridge
//
// # Assumptions
//
//   - iproute2 with JSON support is installed
func (r *DefaultBridgeRepairer) Repair(ctx context.Context) (*RepairRecord, error) {
	record := &RepairRecord{
		NetworkName: r.networkName,
		Faults:      []Fault{},
		Applied:     []string{},
		Warnings:    []string{},
	}

	inspect, err := r.inspectNetwork(ctx)
	if err != nil {
		return record, err
	}

	record.Bridge = r.bridgeName(inspect)
	if len(inspect.IPAM.Config) > 0 {
		record.Gateway = inspect.IPAM.Config[0].Gateway
	}

	r.repairGateway(ctx, inspect, record)
	r.repairVeths(ctx, inspect, record)

	record.Healthy = r.verify(ctx, inspect, record)
	if len(record.Faults) == 0 {
		record.Faults = []Fault{FaultNone}
	}

	return record, nil
}

// inspectNetwork fetches and decodes the docker network definition.
func (r *DefaultBridgeRepairer) inspectNetwork(ctx context.Context) (*networkInspect, error) {
	out, err := r.proc.Run(ctx, "docker", "network", "inspect", r.networkName, "--format", "{{json .}}")
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "No such network") {
			return nil, fmt.Errorf("%w: %s", ErrNetworkNotFound, r.networkName)
		}
		return nil, fmt.Errorf("failed to inspect network %s: %w", r.networkName, err)
	}

	var inspect networkInspect
	if err := json.Unmarshal(out, &inspect); err != nil {
		return nil, fmt.Errorf("failed to parse network inspect output: %w", err)
	}
	return &inspect, nil
}

// bridgeName resolves the kernel interface backing the network.
//
// Docker names user bridges br-<first 12 chars of network id> unless
// the bridge.name option overrides it.
func (r *DefaultBridgeRepairer) bridgeName(inspect *networkInspect) string {
	if name, ok := inspect.Options["com.docker.network.bridge.name"]; ok && name != "" {
		return name
	}
	id := inspect.ID
	if len(id) > 12 {
		id = id[:12]
	}
	return "br-" + id
}

// repairGateway re-adds the gateway address to the bridge if missing.
func (r *DefaultBridgeRepairer) repairGateway(ctx context.Context, inspect *networkInspect, record *RepairRecord) {
	if record.Gateway == "" {
		record.Warnings = append(record.Warnings, "network has no IPAM gateway, skipping gateway check")
		return
	}

	hasGateway, err := r.bridgeHasAddress(ctx, record.Bridge, record.Gateway)
	if err != nil {
		record.Warnings = append(record.Warnings, fmt.Sprintf("gateway check failed: %v", err))
		return
	}
	if hasGateway {
		return
	}

	record.Faults = append(record.Faults, FaultMissingGatewayIP)

	prefixLen := r.subnetPrefixLen(inspect)
	cidr := fmt.Sprintf("%s/%d", record.Gateway, prefixLen)
	cmd := fmt.Sprintf("ip addr add %s dev %s", cidr, record.Bridge)

	if _, err := r.proc.Run(ctx, "ip", "addr", "add", cidr, "dev", record.Bridge); err != nil {
		record.Warnings = append(record.Warnings, fmt.Sprintf("gateway repair failed: %v", err))
		return
	}
	record.Applied = append(record.Applied, cmd)
}

// repairVeths re-enslaves ownerless veth interfaces to the bridge.
//
// Only runs when the network has attached containers; with no
// containers an unattached veth cannot belong to this network.
func (r *DefaultBridgeRepairer) repairVeths(ctx context.Context, inspect *networkInspect, record *RepairRecord) {
	if len(inspect.Containers) == 0 {
		return
	}

	attached, orphans, err := r.classifyVeths(ctx, record.Bridge)
	if err != nil {
		record.Warnings = append(record.Warnings, fmt.Sprintf("veth check failed: %v", err))
		return
	}

	// Each attached container should have a veth on the bridge.
	if len(attached) >= len(inspect.Containers) || len(orphans) == 0 {
		return
	}

	record.Faults = append(record.Faults, FaultDetachedVeths)

	for _, veth := range orphans {
		cmd := fmt.Sprintf("ip link set %s master %s", veth, record.Bridge)
		if _, err := r.proc.Run(ctx, "ip", "link", "set", veth, "master", record.Bridge); err != nil {
			record.Warnings = append(record.Warnings, fmt.Sprintf("veth repair failed for %s: %v", veth, err))
			continue
		}
		record.Applied = append(record.Applied, cmd)
	}
}

// classifyVeths splits host veth interfaces into those enslaved to the
// bridge and those with no master at all.
func (r *DefaultBridgeRepairer) classifyVeths(ctx context.Context, bridge string) (attached, orphans []string, err error) {
	out, err := r.proc.Run(ctx, "ip", "-j", "link", "show", "type", "veth")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list veth interfaces: %w", err)
	}

	var links []linkInfo
	if err := json.Unmarshal(out, &links); err != nil {
		return nil, nil, fmt.Errorf("failed to parse link output: %w", err)
	}

	for _, link := range links {
		switch link.Master {
		case bridge:
			attached = append(attached, link.IfName)
		case "":
			orphans = append(orphans, link.IfName)
		}
	}
	return attached, orphans, nil
}

// bridgeHasAddress checks whether the bridge interface carries the address.
func (r *DefaultBridgeRepairer) bridgeHasAddress(ctx context.Context, bridge, address string) (bool, error) {
	out, err := r.proc.Run(ctx, "ip", "-j", "addr", "show", "dev", bridge)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return false, fmt.Errorf("%w: %s", ErrBridgeNotFound, bridge)
		}
		return false, fmt.Errorf("failed to show addresses for %s: %w", bridge, err)
	}

	var addrs []addrInfo
	if err := json.Unmarshal(out, &addrs); err != nil {
		return false, fmt.Errorf("failed to parse addr output: %w", err)
	}

	for _, a := range addrs {
		for _, info := range a.AddrInfo {
			if info.Local == address {
				return true, nil
			}
		}
	}
	return false, nil
}

// subnetPrefixLen extracts the prefix length from the IPAM subnet.
//
// Falls back to /16, docker's default bridge subnet size.
func (r *DefaultBridgeRepairer) subnetPrefixLen(inspect *networkInspect) int {
	if len(inspect.IPAM.Config) > 0 {
		subnet := inspect.IPAM.Config[0].Subnet
		if idx := strings.LastIndex(subnet, "/"); idx >= 0 {
			var prefix int
			if _, err := fmt.Sscanf(subnet[idx+1:], "%d", &prefix); err == nil {
				return prefix
			}
		}
	}
	return 16
}

// verify re-checks the gateway after repairs to settle final health.
func (r *DefaultBridgeRepairer) verify(ctx context.Context, inspect *networkInspect, record *RepairRecord) bool {
	if record.Gateway == "" {
		// Nothing we can verify; report healthy unless repairs failed.
		return len(record.Warnings) == 0
	}

	hasGateway, err := r.bridgeHasAddress(ctx, record.Bridge, record.Gateway)
	if err != nil {
		record.Warnings = append(record.Warnings, fmt.Sprintf("verification failed: %v", err))
		return false
	}
	return hasGateway
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockBridgeRepairer is a test double for BridgeRepairer.
type MockBridgeRepairer struct {
	RepairFunc func(context.Context) (*RepairRecord, error)

	RepairCalls int
	mu          sync.Mutex
}

// Repair implements BridgeRepairer.
func (m *MockBridgeRepairer) Repair(ctx context.Context) (*RepairRecord, error) {
	m.mu.Lock()
	m.RepairCalls++
	m.mu.Unlock()

	if m.RepairFunc != nil {
		return m.RepairFunc(ctx)
	}
	return &RepairRecord{Faults: []Fault{FaultNone}, Healthy: true}, nil
}

// Calls returns the recorded call count under lock.
func (m *MockBridgeRepairer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RepairCalls
}

// Compile-time interface compliance checks.
var (
	_ BridgeRepairer = (*DefaultBridgeRepairer)(nil)
	_ BridgeRepairer = (*MockBridgeRepairer)(nil)
)

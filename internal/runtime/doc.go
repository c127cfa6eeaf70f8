/*
Package runtime provides the itinerary engine of an edgeflow node.

# Architecture Overview

A node signs in to its hub, receives a set of itineraries and runs every
activity that is placed on it. Messages move between activities locally or,
through the transport contract, between nodes.

# Package Structure

## Node (node.go)

Node is the orchestrator. It owns:
  - the itinerary set installed by SignInComplete and UpdateItinerary
  - the service host and its registry of running instances
  - the router that delivers unit output to successors
  - the transport contract, built once and updated on later sign-ins
  - the shared REST listener for inbound REST units

Loading moves through none, loading and done. A reload that starts while
another one runs returns ErrReloadInProgress. Reload and StopAll are
serialised; a reload always stops the running services first.

## Contract (contract.go)

BusContract builds the canonical contract from the bus package over the
broker selected by Config.PubSubSystem.

# Sub-packages

  - bus: watermill router over the node inbox, outbound publishing and retry store fallback
  - config: node configuration, sign-in response and persisted settings
  - envelope: routed message, encryption and tracking records
  - errors: sentinel and typed errors
  - expression: sandboxed routing expressions and address placeholders
  - host: unit interface, built-in units, Lua units, script loader and registry
  - itinerary: flow graphs and activity selection
  - logging: ServiceLogger and the status table
  - rest: shared HTTP listener
  - retrystore: file and sqlite retry stores and replay
  - router: successor resolution and delivery

# Lifecycle

	node, _ := runtime.NewNode(conf, logger, runtime.NodeDependencies{
		Contract: runtime.BusContract(runtime.BusContractOptions{Store: store, Logger: logger}),
		Store:    store,
	})
	_ = node.SignInComplete(ctx, resp)
	defer node.Shutdown(ctx)
*/
package runtime

// Package sim provides the tick-driven passenger flow engine for railsim.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - records/schema.go: customer record layout and lifecycle (waiting → onboard → arrived, with transferring between legs)
//   - scenario.go: the YAML run description and how it is validated
//   - simulator.go: the per-tick phase order
//
// # Architecture
//
// The sim package owns the tick loop; the entities live in sub-packages:
//   - sim/records/: memory-mapped columnar customer store and its read-only reader
//   - sim/paths/: content-addressed path cache
//   - sim/network/: stations, lines, shortest-path routing
//   - sim/fleet/: trains, schedule policies and per-line fleet managers
//   - sim/demand/: Poisson customer generators and rate profiles
//   - sim/snapshot/: Parquet snapshot sink
//   - sim/trace/: decision trace recording
//
// Every component refers to customers by store index. A record is written
// by at most one owner per tick: stations own waiting and transferring
// records, trains own onboard records, and the simulator owns arrived
// records until their slots are released.
//
// # Phase Order
//
// Step runs the phases below at Clock and then advances Clock by DT:
//
//  0. apply due disruptions
//  1. generate customers
//  2. route them and queue them at their origin
//  3. realise due departures
//  4. advance trains: alight, board, reverse or release at terminals
//  5. promote matured transfers, accrue wait and travel time
//  6. aggregate tick metrics
//  7. write a snapshot when due
//  8. release arrived records past retention
//
// Simulation time is seconds since the scenario epoch, which is taken to be
// midnight of the simulated day.
package sim

// Package simulation drives a circulation engine with a rate-limited, state-aware stream of
// library operations, for load testing and for checking that the copy counts stay consistent
// under concurrency.
//
// Scenarios are generated at a fixed rate and handed to a bounded worker pool. When the queue
// is full a scenario is dropped and counted as backpressure instead of slowing the generator.
// The ScenarioSelector picks members, books and loans from a snapshot of the engine state that
// is refreshed at most every 100ms.
package simulation

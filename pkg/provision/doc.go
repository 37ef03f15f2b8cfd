// Package provision plans zone provisioning. The planner reads a zone's
// stored configuration document, validates it, probes SSH to decide whether
// the console recipe still applies, and inserts one orchestration parent
// plus the applicable step tasks as an atomic, dependency-serialized chain.
package provision

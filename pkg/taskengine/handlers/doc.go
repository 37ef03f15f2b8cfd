// Package handlers implements the task operations the engine can execute:
// zone lifecycle through zoneadm/zonecfg, the provisioning steps (artifact
// extraction, console recipes, SSH wait, folder sync, remote provisioners),
// and host-level management of VNICs, packages, users, groups and roles.
//
// Handlers return plain errors for terminal failures and wrap transient
// ones with taskengine.Retryable. They observe ctx between external
// commands so a draining engine can stop them at a clean boundary.
package handlers

// Package remote reaches into guest zones over SSH. The provisioning
// pipeline uses it three ways: a cheap reachability probe while planning a
// chain, folder synchronisation once a zone answers, and provisioner
// execution as the final step. Connections authenticate with the
// credentials embedded in the zone's provisioning block and ride the
// internal zone network, so no prior host key exists to pin.
package remote

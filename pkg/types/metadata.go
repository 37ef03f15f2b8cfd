package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Task metadata payloads, one tagged variant per operation. Tasks carry
// the serialized form in their opaque Metadata column; validation happens
// once, when the task is inserted.

// ExtractMetadata drives zone_provisioning_extract.
type ExtractMetadata struct {
	ArtifactID  string `json:"artifact_id"`
	DatasetPath string `json:"dataset_path"`
}

// SetupMetadata drives zone_setup (console recipe automation).
type SetupMetadata struct {
	RecipeID    string      `json:"recipe_id"`
	Credentials Credentials `json:"credentials"`
}

// WaitSSHMetadata drives zone_wait_ssh and the pre-flight probe.
type WaitSSHMetadata struct {
	IP             string      `json:"ip"`
	Port           int         `json:"port"`
	Credentials    Credentials `json:"credentials"`
	TimeoutSeconds int         `json:"timeout_seconds,omitempty"`
}

// SyncParentMetadata annotates a zone_sync_parent aggregate.
type SyncParentMetadata struct {
	TotalFolders int `json:"total_folders"`
}

// SyncMetadata drives one zone_sync child.
type SyncMetadata struct {
	Folder      SyncFolder  `json:"folder"`
	IP          string      `json:"ip"`
	Port        int         `json:"port"`
	Credentials Credentials `json:"credentials"`
	Index       int         `json:"index"`
	Total       int         `json:"total"`
}

// ProvisionParentMetadata annotates a zone_provision_parent aggregate.
type ProvisionParentMetadata struct {
	TotalProvisioners int `json:"total_provisioners"`
}

// ProvisionMetadata drives one zone_provision child.
type ProvisionMetadata struct {
	Provisioner Provisioner `json:"provisioner"`
	IP          string      `json:"ip"`
	Port        int         `json:"port"`
	Credentials Credentials `json:"credentials"`
	Index       int         `json:"index"`
	Total       int         `json:"total"`
}

// ZoneCreateMetadata carries the configuration document for zone_create
// and zone_modify.
type ZoneCreateMetadata struct {
	Configuration json.RawMessage `json:"configuration"`
}

// VNICMetadata drives create_vnic, delete_vnic and set_vnic_properties.
type VNICMetadata struct {
	Name       string            `json:"name"`
	Link       string            `json:"link,omitempty"`
	MACAddress string            `json:"mac_address,omitempty"`
	VLANID     int               `json:"vlan_id,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// PkgMetadata drives pkg_install and pkg_uninstall.
type PkgMetadata struct {
	Packages []string `json:"packages"`
}

// UserMetadata drives the user_* operations.
type UserMetadata struct {
	Username string   `json:"username"`
	UID      int      `json:"uid,omitempty"`
	Group    string   `json:"group,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	Shell    string   `json:"shell,omitempty"`
	Home     string   `json:"home,omitempty"`
	Comment  string   `json:"comment,omitempty"`
	Password string   `json:"password,omitempty"`
}

// GroupMetadata drives the group_* operations.
type GroupMetadata struct {
	Name    string `json:"name"`
	GID     int    `json:"gid,omitempty"`
	NewName string `json:"new_name,omitempty"`
}

// RoleMetadata drives the role_* operations.
type RoleMetadata struct {
	Name     string   `json:"name"`
	Profiles []string `json:"profiles,omitempty"`
	Comment  string   `json:"comment,omitempty"`
	Password string   `json:"password,omitempty"`
}

// DecodeMetadata unmarshals a task's metadata into dst.
func DecodeMetadata(raw string, dst interface{}) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("empty task metadata")
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode task metadata: %w", err)
	}
	return nil
}

// EncodeMetadata serializes a metadata payload for the Store boundary.
func EncodeMetadata(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode task metadata: %w", err)
	}
	return string(b), nil
}

// ValidateTaskMetadata checks a task's metadata against its operation's
// schema. Operations without required metadata accept anything, including
// an empty payload.
func ValidateTaskMetadata(op Operation, raw string) error {
	switch op {
	case OpZoneProvisioningExtract:
		var m ExtractMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.ArtifactID == "" {
			return fmt.Errorf("%s: artifact_id is required", op)
		}
		if m.DatasetPath == "" {
			return fmt.Errorf("%s: dataset_path is required", op)
		}
	case OpZoneSetup:
		var m SetupMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.RecipeID == "" {
			return fmt.Errorf("%s: recipe_id is required", op)
		}
	case OpZoneWaitSSH:
		var m WaitSSHMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.IP == "" {
			return fmt.Errorf("%s: ip is required", op)
		}
		if m.Credentials.Username == "" {
			return fmt.Errorf("%s: credentials.username is required", op)
		}
	case OpZoneSync:
		var m SyncMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.Folder.Source == "" || m.Folder.Destination == "" {
			return fmt.Errorf("%s: folder source and destination are required", op)
		}
		if m.IP == "" || m.Credentials.Username == "" {
			return fmt.Errorf("%s: target ip and credentials are required", op)
		}
	case OpZoneProvision:
		var m ProvisionMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.Provisioner.Script == "" && m.Provisioner.Playbook == "" {
			return fmt.Errorf("%s: provisioner script or playbook is required", op)
		}
		if m.IP == "" || m.Credentials.Username == "" {
			return fmt.Errorf("%s: target ip and credentials are required", op)
		}
	case OpZoneCreate, OpZoneModify:
		var m ZoneCreateMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if len(m.Configuration) == 0 {
			return fmt.Errorf("%s: configuration is required", op)
		}
	case OpCreateVNIC:
		var m VNICMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.Name == "" || m.Link == "" {
			return fmt.Errorf("%s: name and link are required", op)
		}
	case OpDeleteVNIC:
		var m VNICMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.Name == "" {
			return fmt.Errorf("%s: name is required", op)
		}
	case OpSetVNICProperties:
		var m VNICMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.Name == "" || len(m.Properties) == 0 {
			return fmt.Errorf("%s: name and properties are required", op)
		}
	case OpPkgInstall, OpPkgUninstall:
		var m PkgMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if len(m.Packages) == 0 {
			return fmt.Errorf("%s: at least one package is required", op)
		}
	case OpUserCreate, OpUserModify, OpUserDelete, OpUserSetPassword, OpUserLock, OpUserUnlock:
		var m UserMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.Username == "" {
			return fmt.Errorf("%s: username is required", op)
		}
		if op == OpUserSetPassword && m.Password == "" {
			return fmt.Errorf("%s: password is required", op)
		}
	case OpGroupCreate, OpGroupModify, OpGroupDelete:
		var m GroupMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.Name == "" {
			return fmt.Errorf("%s: name is required", op)
		}
	case OpRoleCreate, OpRoleModify, OpRoleDelete:
		var m RoleMetadata
		if err := DecodeMetadata(raw, &m); err != nil {
			return err
		}
		if m.Name == "" {
			return fmt.Errorf("%s: name is required", op)
		}
	}
	return nil
}

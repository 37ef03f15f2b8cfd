package types

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// zoneNameRe is the permitted character set for zone names, matching what
// zonecfg itself accepts.
var zoneNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidZoneName reports whether name is acceptable for zone operations.
func ValidZoneName(name string) bool {
	return name != "" && len(name) <= 64 && zoneNameRe.MatchString(name)
}

// ZoneConfiguration is the parsed form of Zone.Configuration. Only the
// fields the agent acts on are typed; the document may carry more.
type ZoneConfiguration struct {
	Brand        string              `json:"brand,omitempty"`
	Zonepath     string              `json:"zonepath,omitempty"`
	Autoboot     bool                `json:"autoboot,omitempty"`
	CPUs         int                 `json:"cpus,omitempty"`
	MemoryMB     int64               `json:"memory_mb,omitempty"`
	Networks     []ZoneNetwork       `json:"networks,omitempty"`
	Provisioning *ProvisioningConfig `json:"provisioning,omitempty"`
}

// ZoneNetwork describes one network attachment of a zone. The entry with
// Control=true designates the address the agent provisions over.
type ZoneNetwork struct {
	Name     string `json:"name,omitempty"`
	Physical string `json:"physical,omitempty"`
	IP       string `json:"ip,omitempty"`
	Gateway  string `json:"gateway,omitempty"`
	Control  bool   `json:"control,omitempty"`
}

// Credentials carries the SSH identity used for zone provisioning steps.
// Password and PrivateKey are alternatives; Username is required.
type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

// SyncFolder is one folder synchronized into the zone during provisioning.
type SyncFolder struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Owner       string `json:"owner,omitempty"`
	Mode        string `json:"mode,omitempty"`
}

// Provisioner runner types.
const (
	ProvisionerShell   = "shell"
	ProvisionerAnsible = "ansible"
)

// Provisioner is a remote-execution step run over SSH once the zone is
// reachable. Type selects the runner; Script or Playbook carries the body.
type Provisioner struct {
	Type     string   `json:"type"` // ProvisionerShell or ProvisionerAnsible
	Name     string   `json:"name,omitempty"`
	Script   string   `json:"script,omitempty"`
	Playbook string   `json:"playbook,omitempty"`
	Args     []string `json:"args,omitempty"`
}

// ProvisioningConfig is the provisioning section of a zone configuration.
// It is agent-side metadata only: modifying it never queues a task.
type ProvisioningConfig struct {
	ArtifactID   string        `json:"artifact_id,omitempty"`
	RecipeID     string        `json:"recipe_id,omitempty"`
	SkipBoot     bool          `json:"skip_boot,omitempty"`
	SkipRecipe   bool          `json:"skip_recipe,omitempty"`
	IP           string        `json:"ip,omitempty"`
	SSHPort      int           `json:"ssh_port,omitempty"`
	Credentials  *Credentials  `json:"credentials,omitempty"`
	Folders      []SyncFolder  `json:"folders,omitempty"`
	Provisioners []Provisioner `json:"provisioners,omitempty"`
}

// ParseZoneConfiguration decodes a stored configuration document.
// An empty document yields an empty configuration, not an error.
func ParseZoneConfiguration(doc string) (*ZoneConfiguration, error) {
	cfg := &ZoneConfiguration{}
	if doc == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(doc), cfg); err != nil {
		return nil, fmt.Errorf("parse zone configuration: %w", err)
	}
	return cfg, nil
}

// TargetIP resolves the address provisioning should talk to: the explicit
// provisioning IP when set, otherwise the control network entry, otherwise
// the sole network entry.
func (c *ZoneConfiguration) TargetIP() string {
	if c.Provisioning != nil && c.Provisioning.IP != "" {
		return c.Provisioning.IP
	}
	for _, n := range c.Networks {
		if n.Control && n.IP != "" {
			return n.IP
		}
	}
	if len(c.Networks) == 1 && c.Networks[0].IP != "" {
		return c.Networks[0].IP
	}
	return ""
}

// SSHPort returns the provisioning SSH port, defaulting to 22.
func (c *ZoneConfiguration) SSHPort() int {
	if c.Provisioning != nil && c.Provisioning.SSHPort > 0 {
		return c.Provisioning.SSHPort
	}
	return 22
}

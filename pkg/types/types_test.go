package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPriorityOrdering tests that priority weights preserve dispatch order
func TestPriorityOrdering(t *testing.T) {
	assert.Greater(t, PriorityCritical.Weight(), PriorityHigh.Weight())
	assert.Greater(t, PriorityHigh.Weight(), PriorityNormal.Weight())
	assert.Greater(t, PriorityNormal.Weight(), PriorityMedium.Weight())
	assert.Greater(t, PriorityMedium.Weight(), PriorityLow.Weight())

	// Unknown levels sort with normal rather than jumping the queue
	assert.Equal(t, PriorityNormal.Weight(), TaskPriority("bogus").Weight())
}

// TestPriorityFromWeight tests the round trip through the stored weight
func TestPriorityFromWeight(t *testing.T) {
	for _, p := range []TaskPriority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityMedium, PriorityLow} {
		assert.Equal(t, p, PriorityFromWeight(p.Weight()), "round trip for %s", p)
	}
}

// TestTerminalStatus tests the terminal state classification
func TestTerminalStatus(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.Terminal(), "status %s", tt.status)
	}
}

// TestOperationClassification tests the mutex and aggregate operation sets
func TestOperationClassification(t *testing.T) {
	mutex := []Operation{
		OpStart, OpStop, OpDelete,
		OpZoneCreate, OpZoneModify,
		OpZoneProvisioningExtract, OpZoneSetup, OpZoneSync, OpZoneProvision,
	}
	for _, op := range mutex {
		assert.True(t, MutexOperation(op), "%s should be mutex", op)
	}

	// wait_ssh retries freely and sync/provision children run in sequence
	// under their parent, so they are deliberately outside the mutex set
	assert.False(t, MutexOperation(OpZoneWaitSSH))
	assert.False(t, MutexOperation(OpZoneSyncParent))
	assert.False(t, MutexOperation(OpCreateVNIC))

	for _, op := range []Operation{OpZoneSyncParent, OpZoneProvisionParent, OpZoneProvisionOrch} {
		assert.True(t, AggregateOperation(op), "%s should aggregate", op)
		assert.True(t, KnownOperation(op), "%s should be known", op)
	}
	assert.False(t, AggregateOperation(OpZoneSync))
	assert.False(t, KnownOperation(Operation("reticulate_splines")))
}

// TestValidZoneName tests zone name validation
func TestValidZoneName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"web01", true},
		{"web-01.prod", true},
		{"UPPER_case-9", true},
		{"9starts-with-digit", true},
		{"", false},
		{"-leading-dash", false},
		{".leading-dot", false},
		{"has space", false},
		{"has/slash", false},
		{"has:colon", false},
		{string(make([]byte, 70)), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidZoneName(tt.name), "name %q", tt.name)
	}
}

// TestTargetIPResolution tests the provisioning address precedence
func TestTargetIPResolution(t *testing.T) {
	tests := []struct {
		name string
		cfg  ZoneConfiguration
		want string
	}{
		{
			name: "explicit provisioning ip wins",
			cfg: ZoneConfiguration{
				Provisioning: &ProvisioningConfig{IP: "10.0.0.5"},
				Networks: []ZoneNetwork{
					{Name: "net0", IP: "192.168.1.10/24", Control: true},
				},
			},
			want: "10.0.0.5",
		},
		{
			name: "control network second",
			cfg: ZoneConfiguration{
				Networks: []ZoneNetwork{
					{Name: "net0", IP: "192.168.1.10"},
					{Name: "net1", IP: "10.1.1.4", Control: true},
				},
			},
			want: "10.1.1.4",
		},
		{
			name: "sole network fallback",
			cfg: ZoneConfiguration{
				Networks: []ZoneNetwork{{Name: "net0", IP: "192.168.1.10"}},
			},
			want: "192.168.1.10",
		},
		{
			name: "ambiguous networks resolve to nothing",
			cfg: ZoneConfiguration{
				Networks: []ZoneNetwork{
					{Name: "net0", IP: "192.168.1.10"},
					{Name: "net1", IP: "192.168.2.10"},
				},
			},
			want: "",
		},
		{
			name: "no networks",
			cfg:  ZoneConfiguration{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.TargetIP())
		})
	}
}

// TestSSHPortDefault tests the SSH port fallback
func TestSSHPortDefault(t *testing.T) {
	cfg := ZoneConfiguration{}
	assert.Equal(t, 22, cfg.SSHPort())

	cfg.Provisioning = &ProvisioningConfig{SSHPort: 2222}
	assert.Equal(t, 2222, cfg.SSHPort())
}

// TestParseZoneConfiguration tests configuration document decoding
func TestParseZoneConfiguration(t *testing.T) {
	cfg, err := ParseZoneConfiguration("")
	assert.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Empty(t, cfg.Networks)

	doc := `{
		"brand": "lipkg",
		"zonepath": "/zones/web01",
		"networks": [{"name": "net0", "physical": "vnic0", "ip": "10.0.0.8", "control": true}],
		"provisioning": {"artifact_id": "omnios-r151052", "ssh_port": 2022}
	}`
	cfg, err = ParseZoneConfiguration(doc)
	assert.NoError(t, err)
	assert.Equal(t, "lipkg", cfg.Brand)
	assert.Equal(t, "10.0.0.8", cfg.TargetIP())
	assert.Equal(t, 2022, cfg.SSHPort())

	_, err = ParseZoneConfiguration("{not json")
	assert.Error(t, err)
}

// TestValidateTaskMetadata tests insert-time metadata validation per operation
func TestValidateTaskMetadata(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		raw     string
		wantErr bool
	}{
		{
			name: "extract requires artifact and dataset",
			op:   OpZoneProvisioningExtract,
			raw:  `{"artifact_id": "img-1", "dataset_path": "rpool/zones/web01"}`,
		},
		{
			name:    "extract missing dataset",
			op:      OpZoneProvisioningExtract,
			raw:     `{"artifact_id": "img-1"}`,
			wantErr: true,
		},
		{
			name: "wait_ssh complete",
			op:   OpZoneWaitSSH,
			raw:  `{"ip": "10.0.0.8", "port": 22, "credentials": {"username": "root", "password": "x"}}`,
		},
		{
			name:    "wait_ssh missing username",
			op:      OpZoneWaitSSH,
			raw:     `{"ip": "10.0.0.8", "port": 22, "credentials": {}}`,
			wantErr: true,
		},
		{
			name: "sync child complete",
			op:   OpZoneSync,
			raw:  `{"folder": {"source": "/a", "destination": "/b"}, "ip": "10.0.0.8", "credentials": {"username": "root"}, "index": 0, "total": 1}`,
		},
		{
			name:    "sync child missing destination",
			op:      OpZoneSync,
			raw:     `{"folder": {"source": "/a"}, "ip": "10.0.0.8", "credentials": {"username": "root"}}`,
			wantErr: true,
		},
		{
			name: "provision with script",
			op:   OpZoneProvision,
			raw:  `{"provisioner": {"type": "shell", "script": "pkg update"}, "ip": "10.0.0.8", "credentials": {"username": "root"}}`,
		},
		{
			name:    "provision with neither script nor playbook",
			op:      OpZoneProvision,
			raw:     `{"provisioner": {"type": "shell"}, "ip": "10.0.0.8", "credentials": {"username": "root"}}`,
			wantErr: true,
		},
		{
			name:    "vnic create requires link",
			op:      OpCreateVNIC,
			raw:     `{"name": "vnic0"}`,
			wantErr: true,
		},
		{
			name: "vnic create complete",
			op:   OpCreateVNIC,
			raw:  `{"name": "vnic0", "link": "igb0", "vlan_id": 20}`,
		},
		{
			name:    "pkg install needs packages",
			op:      OpPkgInstall,
			raw:     `{"packages": []}`,
			wantErr: true,
		},
		{
			name: "user set password",
			op:   OpUserSetPassword,
			raw:  `{"username": "operator", "password": "hunter2"}`,
		},
		{
			name:    "user set password empty",
			op:      OpUserSetPassword,
			raw:     `{"username": "operator"}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			op:      OpPkgInstall,
			raw:     `{`,
			wantErr: true,
		},
		{
			name: "start accepts empty metadata",
			op:   OpStart,
			raw:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTaskMetadata(tt.op, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestMetadataRoundTrip tests encode/decode of an operation payload
func TestMetadataRoundTrip(t *testing.T) {
	in := SyncMetadata{
		Folder:      SyncFolder{Source: "/export/app", Destination: "/opt/app", Owner: "webservd", Mode: "0750"},
		IP:          "10.0.0.8",
		Port:        22,
		Credentials: Credentials{Username: "root", Password: "secret"},
		Index:       1,
		Total:       3,
	}

	raw, err := EncodeMetadata(in)
	assert.NoError(t, err)

	var out SyncMetadata
	assert.NoError(t, DecodeMetadata(raw, &out))
	assert.Equal(t, in, out)

	assert.Error(t, DecodeMetadata("", &out))
	assert.Error(t, DecodeMetadata("   ", &out))
}

package domain

import "time"

const (
	MaxGroupNames = 64
	MaxVolumes    = 64
)

// VMShape describes the compute shape requested for an instance.
type VMShape struct {
	MemMB int
	DiskGB int
	Cores int
	Name   string
}

// NetConfig is the CC-assigned network identity of one instance's NIC.
type NetConfig struct {
	PrivateMAC   string // immutable after first assignment
	PrivateIP    string
	PublicIP     string // "0.0.0.0" means no elastic IP
	VLAN         int
	NetworkIndex int
}

// Volume describes one attached block volume.
type Volume struct {
	VolumeID  string
	RemoteDev string
	LocalDev  string
}

// InstanceRecord is a C1 instance cache entry.
type InstanceRecord struct {
	InstanceID    string // primary key
	ReservationID string
	OwnerID       string

	AMIID, KernelID, RamdiskID          string
	AMIURL, KernelURL, RamdiskURL       string
	KeyName                             string
	LaunchIndex                         string
	UserData                            string
	GroupNames                          []string

	State string // opaque string reported by the NC, e.g. "Pending", "Extant", "Teardown"
	Ts    time.Time

	NCHostIdx  int    // index into the resource cache at write time
	ServiceTag string // ncURL snapshot taken at launch

	Net NetConfig
	VM  VMShape

	Volumes []Volume
}

// Clone returns a deep-enough copy safe to hand outside the cache lock.
func (r *InstanceRecord) Clone() *InstanceRecord {
	cp := *r
	cp.GroupNames = append([]string(nil), r.GroupNames...)
	cp.Volumes = append([]Volume(nil), r.Volumes...)
	return &cp
}

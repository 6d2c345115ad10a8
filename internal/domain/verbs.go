package domain

// Metadata is the header every CLC verb carries.
type Metadata struct {
	CorrelationID string
	UserID        string
}

// RunInstancesParams is the input to doRunInstances (spec.md §6, §4.8).
type RunInstancesParams struct {
	AMIID, KernelID, RamdiskID    string
	AMIURL, KernelURL, RamdiskURL string
	InstanceIDs                   []string
	NetNames                      []string
	MACAddrs                      []string
	NetworkIndexList              []int
	MinCount, MaxCount            int
	OwnerID, ReservationID        string
	VM                            VMShape
	KeyName                       string
	VLAN                          int
	UserData                      string
	LaunchIndex                   string
	TargetNode                    string // non-empty selects SCHEDEXPLICIT
}

// RunInstancesResult is the output of doRunInstances. PartialLaunch is set
// when fewer than MinCount instances were placed — the core does not fail
// the call in that case (spec.md §4.8, §9 Open Question).
type RunInstancesResult struct {
	Instances     []*InstanceRecord
	PartialLaunch bool
}

// TerminateStatus is one element of TerminateInstances' per-item status
// array (spec.md §4.4, §7).
type TerminateStatus struct {
	InstanceID string
	Success    bool
}

// VolumeOp is the shared shape of AttachVolume/DetachVolume params.
type VolumeOp struct {
	VolumeID   string
	InstanceID string
	RemoteDev  string
	LocalDev   string
	Force      bool // DetachVolume only
}

// AddressOp is the shared shape of AssignAddress/UnassignAddress params.
type AddressOp struct {
	SrcPublicIP  string
	DstPrivateIP string
}

package interp

// FlowChannel names the boundary a value is about to cross, checked by
// PolicyEnforcer.CheckLabelFlow (§4.9 "e.g. secret flowing into an op:net
// without an approving label").
type FlowChannel string

const (
	ChannelNet    FlowChannel = "op:net"
	ChannelFS     FlowChannel = "op:fs"
	ChannelShow   FlowChannel = "op:show"
	ChannelOutput FlowChannel = "op:output"
)

// LabelFlowRequest bundles the inputs PolicyEnforcer.CheckLabelFlow
// inspects (§4.9).
type LabelFlowRequest struct {
	InputTaint  []string
	OpLabels    []string
	ExeLabels   []string
	FlowChannel FlowChannel
	Command     string
}

// PolicyRule allows a (label, channel) pair to cross without denial —
// e.g. a "net-approved" label permitting secret taint into op:net.
type PolicyRule struct {
	Label       string
	Channel     FlowChannel
	ApprovingOf string // the taint/label this rule approves crossing the channel
}

// PolicyEnforcer computes operation labels, merges input descriptors,
// enforces label-flow rules, and derives output taint (§2, §4.9). It
// must not be shared across pipelines (§5).
type PolicyEnforcer struct {
	denyByDefault map[FlowChannel][]string // channel -> taint markers denied unless approved
	approvals     []PolicyRule
}

// NewPolicyEnforcer returns a PolicyEnforcer with the default policy:
// "secret" taint may not cross op:net or op:show without an approving
// label.
func NewPolicyEnforcer() *PolicyEnforcer {
	return &PolicyEnforcer{
		denyByDefault: map[FlowChannel][]string{
			ChannelNet:  {LabelSecret},
			ChannelShow: {LabelSecret},
		},
	}
}

// Approve registers a rule permitting label to carry ApprovingOf taint
// across Channel.
func (p *PolicyEnforcer) Approve(rule PolicyRule) {
	p.approvals = append(p.approvals, rule)
}

func (p *PolicyEnforcer) isApproved(channel FlowChannel, taint string, labels []string) bool {
	for _, r := range p.approvals {
		if r.Channel != channel || r.ApprovingOf != taint {
			continue
		}
		for _, l := range labels {
			if l == r.Label {
				return true
			}
		}
	}
	return false
}

// CheckLabelFlow reports a violation (non-empty reason) when req's input
// taint would cross req.FlowChannel without an approving label (§4.9
// "PolicyEnforcer.checkLabelFlow(...) reports violations when taint
// would cross a disallowed boundary").
func (p *PolicyEnforcer) CheckLabelFlow(req LabelFlowRequest) (violated bool, reason string) {
	denied := p.denyByDefault[req.FlowChannel]
	allLabels := append(append([]string{}, req.OpLabels...), req.ExeLabels...)

	for _, taint := range req.InputTaint {
		for _, d := range denied {
			if taint != "src:"+d && taint != d {
				continue
			}
			if p.isApproved(req.FlowChannel, taint, allLabels) {
				continue
			}
			return true, taintBoundaryReason(taint, req.FlowChannel, req.Command)
		}
	}
	return false, ""
}

func taintBoundaryReason(taint string, channel FlowChannel, command string) string {
	if command != "" {
		return "tainted value (" + taint + ") blocked from crossing " + string(channel) + " in command: " + command
	}
	return "tainted value (" + taint + ") blocked from crossing " + string(channel)
}

// DeriveOutputDescriptor computes the output descriptor of an operation
// as the union of the arg descriptors plus the exe labels (§4.9, §9).
// The active policy is not applied: nothing is filtered out.
func (p *PolicyEnforcer) DeriveOutputDescriptor(argDescs []SecurityDescriptor, exeLabels []string) SecurityDescriptor {
	out := MergeAll(argDescs...)
	for _, l := range exeLabels {
		out = out.WithLabel(l)
	}
	return out
}

package tools

// Port names shared by tool implementations and the workflow graph builder.
const (
	PortScan       = "scan"
	PortImage      = "image"
	PortBrain      = "brain"
	PortMask       = "mask"
	PortRestored   = "restored"
	PortFixed      = "fixed"
	PortMoving     = "moving"
	PortTransforms = "transforms"
	PortWarped     = "warped"
	PortLabels     = "labels"
	PortReference  = "reference"
	PortAtlas      = "atlas"
	PortVolumes    = "volumes"
	PortFeatures   = "features"
	PortFailures   = "failures"
)

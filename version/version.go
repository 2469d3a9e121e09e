package version

const (
	// IntermapSemVer is the current version of the node software.
	IntermapSemVer = "0.1.0"

	// ProtocolVersion is the version of the shared channel protocol this
	// build speaks. It must match types.ProtocolVersion.
	ProtocolVersion = "intermap-v1"
)

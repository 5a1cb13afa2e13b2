package uds

// UDS service ID constants (ISO 14229), request and response.
const (
	ServiceDiagnosticSessionControl byte = 0x10
	ServiceReadDataByIdentifier     byte = 0x22
	ServiceSecurityAccess           byte = 0x27

	ResponseDiagnosticSessionControl byte = 0x50
	ResponseReadDataByIdentifier     byte = 0x62
	ResponseSecurityAccess           byte = 0x67

	// NegativeResponse opens every [0x7F, service, code] triple.
	NegativeResponse byte = 0x7F
)

// Negative response codes.
const (
	NRCServiceNotSupported byte = 0x11
)

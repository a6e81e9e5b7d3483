package mcp

// Transport selects how the tool server is reached.
type Transport string

const (
	// TransportStdio serves one client over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP serves the MCP Streamable HTTP protocol,
	// mounted at /mcp on the API server.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

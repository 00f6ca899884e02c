package types

// Version is the canonical service version.
const Version = "0.4.0"

// ProtocolHeader names the response header that identifies the SSE dialect.
const ProtocolHeader = "x-vercel-ai-ui-message-stream"

// ProtocolVersion is the SSE dialect version sent in ProtocolHeader.
const ProtocolVersion = "v1"

package config

// TransportType defines MCP backend transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses HTTP/HTTPS JSON-RPC
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE uses Server-Sent Events
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// LLMProviderType defines supported LLM providers
type LLMProviderType string

const (
	// LLMProviderTypeAnthropic is Anthropic Claude API
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
	// LLMProviderTypeOpenAI is OpenAI API
	LLMProviderTypeOpenAI LLMProviderType = "openai"
	// LLMProviderTypeGoogle is Google Gemini API
	LLMProviderTypeGoogle LLMProviderType = "google"
)

// IsValid checks if the LLM provider type is valid
func (t LLMProviderType) IsValid() bool {
	return t == LLMProviderTypeAnthropic || t == LLMProviderTypeOpenAI || t == LLMProviderTypeGoogle
}

// PolicyMode defines how external authorization policy is evaluated
type PolicyMode string

const (
	// PolicyModeEmbedded evaluates the bundled Rego policy in-process
	PolicyModeEmbedded PolicyMode = "embedded"
	// PolicyModeHTTP delegates to a remote policy endpoint
	PolicyModeHTTP PolicyMode = "http"
	// PolicyModeDisabled skips the external policy factor entirely
	PolicyModeDisabled PolicyMode = "disabled"
)

// IsValid checks if the policy mode is valid
func (m PolicyMode) IsValid() bool {
	return m == PolicyModeEmbedded || m == PolicyModeHTTP || m == PolicyModeDisabled
}

// DeploymentMode selects failure posture for the authorization pipeline
type DeploymentMode string

const (
	// DeploymentModeDevelopment fails open when the policy backend is unreachable
	DeploymentModeDevelopment DeploymentMode = "development"
	// DeploymentModeProduction fails closed when the policy backend is unreachable
	DeploymentModeProduction DeploymentMode = "production"
)

// IsValid checks if the deployment mode is valid
func (m DeploymentMode) IsValid() bool {
	return m == DeploymentModeDevelopment || m == DeploymentModeProduction
}

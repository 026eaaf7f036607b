package intent

// Closed set of intents the engine reacts to.
const (
	Greeting     = "greeting"
	Farewell     = "farewell"
	Identity     = "identity"
	Creator      = "creator"
	Capabilities = "capabilities"
	Symptom      = "symptom"
	HealthStatus = "health_status"
	Product      = "product"
	Price        = "price"
	Usage        = "usage"
	Confirmation = "confirmation"
	Negation     = "negation"
	Unknown      = "unknown"
)

// DefaultMinConfidence is the threshold below which a prediction is
// reported as Unknown.
const DefaultMinConfidence = 0.6

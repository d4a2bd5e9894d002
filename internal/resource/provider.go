package resource

// Provider is the stable access point to the process-wide Service,
// independent of how or when it was first constructed.
type Provider struct{}

// Get returns the process-wide card resource Service, creating it on
// first call.
func (Provider) Get() *Service {
	return getInstance()
}

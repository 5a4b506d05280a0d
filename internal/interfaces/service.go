package interfaces

// Service is the interface every user facing surface of the daemon must be
// compliant with.
type Service interface {
	Start() error
	Stop()
}

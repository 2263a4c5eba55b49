package speech

import "fmt"

type BackendType string

const (
	BackendGoogle BackendType = "google"
	BackendMock   BackendType = "mock"
)

func (b BackendType) String() string {
	return string(b)
}

// NewFactory returns the client factory for the named backend.
func NewFactory(backend string) (Factory, error) {
	switch backend {
	case BackendGoogle.String(), "":
		return GoogleFactory{}, nil
	case BackendMock.String():
		return MockFactory{}, nil
	default:
		return nil, fmt.Errorf("unsupported speech backend: %s", backend)
	}
}

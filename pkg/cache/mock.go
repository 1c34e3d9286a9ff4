package cache

type MockCache struct {
	SetMock   func(entry *Entry) error
	GetMock   func(sha256 string) (entry *Entry, err error)
	CloseMock func() error
}

func (m *MockCache) Set(entry *Entry) error {
	if m.SetMock != nil {
		return m.SetMock(entry)
	}
	panic("SetMock not implemented")
}

func (m *MockCache) Get(sha256 string) (*Entry, error) {
	if m.GetMock != nil {
		return m.GetMock(sha256)
	}
	panic("GetMock not implemented")
}

func (m *MockCache) Close() error {
	if m.CloseMock != nil {
		return m.CloseMock()
	}
	panic("CloseMock not implemented")
}

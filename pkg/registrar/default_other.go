//go:build !windows

package registrar

// NewDefault returns the registrar for this platform.
func NewDefault(appID, appName, publisher string) (Registrar, error) {
	r, err := NewFileRegistrar(appID, appName)
	if err != nil {
		return nil, err
	}
	return r, nil
}

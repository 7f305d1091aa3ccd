package model

// Frontend accepts client connections and routes them to backends.
type Frontend struct {
	Name string `json:"name" validate:"required,resname"`

	Mode           Optional[ProxyMode] `json:"mode,omitzero" validate:"omitempty,enum"`
	DefaultBackend Optional[string]    `json:"default_backend,omitzero"`
	MaxConn        Optional[int64]     `json:"maxconn,omitzero" validate:"omitempty,min=0"`
	ClientTimeout  Optional[int64]     `json:"client_timeout,omitzero" validate:"omitempty,min=0"`
	Description    Optional[string]    `json:"description,omitzero"`
}

// Kind implements Resource.
func (f *Frontend) Kind() Kind { return KindFrontend }

// GetName implements Resource.
func (f *Frontend) GetName() string { return f.Name }

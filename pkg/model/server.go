package model

// Server is a single upstream endpoint scoped to a backend or frontend.
type Server struct {
	// Name is the server identifier, unique within its parent. Required.
	Name string `json:"name" validate:"required,resname"`

	// Address is the IP address or hostname of the server. Required.
	Address string `json:"address" validate:"required"`

	// Port is the TCP port the server listens on. Required.
	Port int64 `json:"port" validate:"required,min=1,max=65535"`

	Weight      Optional[int64]       `json:"weight,omitzero" validate:"omitempty,min=0,max=256"`
	Check       Optional[Toggle]      `json:"check,omitzero" validate:"omitempty,enum"`
	Maintenance Optional[Toggle]      `json:"maintenance,omitzero" validate:"omitempty,enum"`
	Verify      Optional[Requirement] `json:"verify,omitzero" validate:"omitempty,enum"`
	VerifyHost  Optional[string]      `json:"verifyhost,omitzero"`
	Track       Optional[string]      `json:"track,omitzero"`

	// WS selects how websockets are relayed to the server.
	WS Optional[WebSocketProtocol] `json:"ws,omitzero" validate:"omitempty,enum"`

	SSL       Optional[Toggle]     `json:"ssl,omitzero" validate:"omitempty,enum"`
	SSLMinVer Optional[SSLVersion] `json:"ssl_min_ver,omitzero" validate:"omitempty,enum"`

	HealthCheckAddress Optional[string] `json:"health_check_address,omitzero"`
	HealthCheckPort    Optional[int64]  `json:"health_check_port,omitzero" validate:"omitempty,min=1,max=65535"`

	MaxReuse Optional[int64] `json:"max_reuse,omitzero" validate:"omitempty,min=-1"`
	MaxConn  Optional[int64] `json:"maxconn,omitzero" validate:"omitempty,min=0"`
	MaxQueue Optional[int64] `json:"maxqueue,omitzero" validate:"omitempty,min=0"`
	MinConn  Optional[int64] `json:"minconn,omitzero" validate:"omitempty,min=0"`

	// OnError is what happens when the health check reports a failure.
	OnError Optional[ErrorAction] `json:"on-error,omitzero" validate:"omitempty,enum"`
}

// Kind implements Resource.
func (s *Server) Kind() Kind { return KindServer }

// GetName implements Resource.
func (s *Server) GetName() string { return s.Name }

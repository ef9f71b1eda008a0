package session

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Role is the access level requested at login.
type Role string

const (
	RoleCommanding Role = "COMMANDING"
	RoleMonitoring Role = "MONITORING"
)

// Authentication carries optional login credentials.
type Authentication struct {
	Username string
	Password string
	KeyFile  string
	UseLocal bool
}

func (a Authentication) IsZero() bool {
	return a == Authentication{}
}

// PeerEndpoint names one listener or context server.
type PeerEndpoint struct {
	Name string
	Host string
	Port int
	Role Role
	Auth Authentication
}

func (e PeerEndpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e PeerEndpoint) String() string {
	if e.Name == "" {
		return e.Address()
	}
	return fmt.Sprintf("%s@%s", e.Name, e.Address())
}

func (e PeerEndpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("%w: host required", ErrInvalidEndpoint)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	switch e.Role {
	case "", RoleCommanding, RoleMonitoring:
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidEndpoint, e.Role)
	}
	return nil
}

type ContextStatus string

const (
	ContextAvailable ContextStatus = "AVAILABLE"
	ContextRunning   ContextStatus = "RUNNING"
	ContextUnknown   ContextStatus = "UNKNOWN"
)

func ParseContextStatus(s string) ContextStatus {
	switch ContextStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case ContextAvailable:
		return ContextAvailable
	case ContextRunning:
		return ContextRunning
	default:
		return ContextUnknown
	}
}

// ContextDescriptor is a point-in-time snapshot of one context. Host and Port
// are the context server's own endpoint once it is running.
type ContextDescriptor struct {
	PeerEndpoint
	Status        ContextStatus
	SpacecraftID  string
	Driver        string
	Family        string
	GCSHost       string
	MaxProcedures int
	Description   string
}

type ExecutorStatus string

const (
	ExecutorUninit   ExecutorStatus = "UNINIT"
	ExecutorLoaded   ExecutorStatus = "LOADED"
	ExecutorRunning  ExecutorStatus = "RUNNING"
	ExecutorPaused   ExecutorStatus = "PAUSED"
	ExecutorWaiting  ExecutorStatus = "WAITING"
	ExecutorPrompt   ExecutorStatus = "PROMPT"
	ExecutorFinished ExecutorStatus = "FINISHED"
	ExecutorAborted  ExecutorStatus = "ABORTED"
	ExecutorError    ExecutorStatus = "ERROR"
	ExecutorUnknown  ExecutorStatus = "UNKNOWN"
)

var executorStatuses = []ExecutorStatus{
	ExecutorUninit, ExecutorLoaded, ExecutorRunning, ExecutorPaused, ExecutorWaiting,
	ExecutorPrompt, ExecutorFinished, ExecutorAborted, ExecutorError,
}

func ParseExecutorStatus(s string) ExecutorStatus {
	want := ExecutorStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range executorStatuses {
		if st == want {
			return st
		}
	}
	return ExecutorUnknown
}

type ExecutorMode string

const (
	ModeControl ExecutorMode = "CONTROL"
	ModeMonitor ExecutorMode = "MONITOR"
	ModeUnknown ExecutorMode = "UNKNOWN"
)

func ParseExecutorMode(s string) ExecutorMode {
	switch ExecutorMode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeControl:
		return ModeControl
	case ModeMonitor:
		return ModeMonitor
	default:
		return ModeUnknown
	}
}

// ExecutorDescriptor is a snapshot of one executor as reported by exec-info.
type ExecutorDescriptor struct {
	ProcID            string
	ProcName          string
	Status            ExecutorStatus
	Mode              ExecutorMode
	Background        bool
	ControllingClient string
	MonitoringClients []string
	ParentProcID      string
	CallingLine       int
	StageID           string
	StageTitle        string
	CurrentAction     string
	ErrorMessage      string
	ErrorReason       string
}

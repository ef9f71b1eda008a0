package protocol

// Message ids. The names are stable on the wire.
const (
	MsgLogin   = "login"
	MsgLogout  = "logout"
	MsgPing    = "ping"
	MsgFileReq = "file-request"

	MsgListContexts   = "list-contexts"
	MsgContextInfo    = "context-info"
	MsgOpenContext    = "open-context"
	MsgCloseContext   = "close-context"
	MsgDestroyContext = "destroy-context"
	MsgAttachContext  = "attach-context"
	MsgDetachContext  = "detach-context"

	MsgProcList       = "proc-list"
	MsgProcProperties = "proc-properties"
	MsgExecList       = "exec-list"
	MsgGetInstanceID  = "get-instance-id"
	MsgOpenExec       = "open-exec"
	MsgBackgroundExec = "background-exec"
	MsgCloseExec      = "close-exec"
	MsgKillExec       = "kill-exec"
	MsgExecInfo       = "exec-info"

	// Notifications.
	MsgContextStatus  = "context-status"
	MsgExecStatus     = "exec-status"
	MsgConnectionLost = "connection-lost"
)

// Field names.
const (
	FieldErrorMessage = "error-message"
	FieldErrorReason  = "error-reason"
	FieldErrorOrigin  = "error-origin"

	FieldClientKey    = "client-key"
	FieldClientHost   = "client-host"
	FieldClientRole   = "client-role"
	FieldAuthUser     = "auth-user"
	FieldAuthPassword = "auth-password"
	FieldAuthKeyFile  = "auth-keyfile"
	FieldAuthLocal    = "auth-local"
	FieldSessionID    = "session-id"

	FieldContextList   = "context-list"
	FieldContextName   = "context-name"
	FieldStatus        = "status"
	FieldSpacecraftID  = "spacecraft-id"
	FieldDriver        = "driver"
	FieldFamily        = "family"
	FieldGCSHost       = "gcs-host"
	FieldDescription   = "description"
	FieldMaxProcedures = "max-procedures"
	FieldHost          = "host"
	FieldPort          = "port"

	FieldRefresh    = "refresh"
	FieldProcList   = "proc-list"
	FieldProcID     = "proc-id"
	FieldProperties = "properties"
	FieldExecList   = "exec-list"
	FieldInstanceID = "instance-id"
	FieldBackground = "background"
	FieldArguments  = "arguments"

	FieldProcName          = "proc-name"
	FieldMode              = "mode"
	FieldControllingClient = "controlling-client"
	FieldMonitoringClients = "monitoring-clients"
	FieldParentProcID      = "parent-proc"
	FieldCallingLine       = "calling-line"
	FieldStageID           = "stage-id"
	FieldStageTitle        = "stage-title"
	FieldCurrentAction     = "current-action"

	FieldFileType = "file-type"
	FieldFilePath = "file-path"
)

// Error origins.
const (
	OriginListener  = "listener"
	OriginContext   = "context"
	OriginExecutor  = "executor"
	OriginTransport = "transport"
	OriginClient    = "client"
)

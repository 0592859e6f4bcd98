package telemetry

// Span attribute keys, renamed from the teacher's worker/review/workflow
// vocabulary onto the pipeline's run/directive/tool vocabulary.
const (
	AttrIntentID       = "intent.id"
	AttrIntentKind     = "intent.kind"
	AttrRunPriority    = "run.priority"
	AttrRunSource      = "run.source"

	AttrRunID    = "run.id"
	AttrRunState = "run.state"

	AttrDirectiveKind = "directive.kind"

	AttrMCPToolName   = "mcp.tool.name"
	AttrMCPRequestID  = "mcp.request.id"
	AttrMCPCallerRole = "mcp.caller.role"
	AttrMCPSessionID  = "mcp.session.id"

	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// SpanKind labels for categorizing span types in exported records.
const (
	SpanKindQueue      = "queue"
	SpanKindMiddleware = "middleware"
	SpanKindProcess    = "process"
	SpanKindMCP        = "mcp"
)

// Span name prefixes.
const (
	SpanPrefixQueue      = "queuemgr."
	SpanPrefixMiddleware = "middleware."
	SpanPrefixProcess    = "procmgr."
	SpanPrefixMCP        = "mcp.tool."
)

// Event names for span events.
const (
	EventIntentIngested    = "intent.ingested"
	EventBatchReduced       = "batch.reduced"
	EventDirectiveEmitted   = "directive.emitted"
	EventRunSpawned         = "run.spawned"
	EventRunKilled          = "run.killed"
	EventLifecycleReported  = "lifecycle.reported"
	EventErrorOccurred      = "error.occurred"
)

package domain

// PipelineState per-video position in the three stage chain
type PipelineState string

const (
	PipelineUploading       PipelineState = "uploading"
	PipelineProcessing      PipelineState = "processing"
	PipelineAnalyzing       PipelineState = "analyzing"
	PipelineStrategyPending PipelineState = "strategy_pending"
	PipelineReady           PipelineState = "ready"
	PipelineFailed          PipelineState = "failed"
)

// PipelineEvent input of the transition table
type PipelineEvent string

const (
	EventStart        PipelineEvent = "start"
	EventVideoDone    PipelineEvent = "video_done"
	EventAIDone       PipelineEvent = "ai_done"
	EventStrategyDone PipelineEvent = "strategy_done"
	EventStageFailed  PipelineEvent = "stage_failed"
)

type transition struct {
	from  PipelineState
	event PipelineEvent
}

// transitions 沒列在表上的組合一律視為非法
var transitions = map[transition]PipelineState{
	{PipelineUploading, EventStart}:              PipelineProcessing,
	{PipelineFailed, EventStart}:                 PipelineProcessing,
	{PipelineReady, EventStart}:                  PipelineProcessing,
	{PipelineProcessing, EventVideoDone}:         PipelineAnalyzing,
	{PipelineAnalyzing, EventAIDone}:             PipelineStrategyPending,
	{PipelineStrategyPending, EventStrategyDone}: PipelineReady,
	{PipelineProcessing, EventStageFailed}:       PipelineFailed,
	{PipelineAnalyzing, EventStageFailed}:        PipelineFailed,
	{PipelineStrategyPending, EventStageFailed}:  PipelineFailed,
}

// NextPipelineState looks the transition up, ok=false when the event is not allowed in from
func NextPipelineState(from PipelineState, event PipelineEvent) (PipelineState, bool) {
	if from == "" {
		from = PipelineUploading
	}
	to, ok := transitions[transition{from, event}]
	return to, ok
}

// CompletionEvent the event fired when stage finishes successfully
func CompletionEvent(stage Stage) PipelineEvent {
	switch stage {
	case StageVideo:
		return EventVideoDone
	case StageAI:
		return EventAIDone
	default:
		return EventStrategyDone
	}
}

// VideoStatusFor persisted coarse status for a pipeline state
func VideoStatusFor(state PipelineState) VideoStatus {
	switch state {
	case PipelineReady:
		return VideoReady
	case PipelineFailed:
		return VideoFailed
	case PipelineUploading:
		return VideoUploading
	default:
		return VideoProcessing
	}
}
